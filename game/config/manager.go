package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
)

// BuiltinTrackID names the track compiled into the engine. It is served
// even when the tracks directory has no file for it.
const BuiltinTrackID = "classic"

var (
	ErrTrackNotFound = service.ErrTrackNotFound
	ErrInvalidTrack  = engine.ErrInvalidTrack
	ErrInvalidName   = errors.New("invalid track name")
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager handles track loading and caching
type Manager struct {
	tracksDir    string
	defaultTrack *engine.TrackConfig
	tracks       map[string]*engine.TrackConfig
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// NewManager creates a new track manager over tracksDir
func NewManager(tracksDir string, opts ...Option) (*Manager, error) {
	info, err := os.Stat(tracksDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("tracks directory does not exist: %s", tracksDir)
	}

	m := &Manager{
		tracksDir: tracksDir,
		tracks:    make(map[string]*engine.TrackConfig),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "tracks").Str("dir", tracksDir).Logger()

	m.defaultTrack = m.loadDefaultTrack()
	return m, nil
}

// LoadTrack loads a track by ID. IDs are file names with or without the
// .json extension.
func (m *Manager) LoadTrack(name string) (*engine.TrackConfig, error) {
	id, err := trackID(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	if track, ok := m.tracks[id]; ok {
		m.mu.RUnlock()
		return track, nil
	}
	m.mu.RUnlock()

	track, err := m.readTrack(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have loaded it meanwhile
	if cached, ok := m.tracks[id]; ok {
		return cached, nil
	}
	m.tracks[id] = track
	return track, nil
}

// readTrack reads and validates one track file without touching the cache.
func (m *Manager) readTrack(id string) (*engine.TrackConfig, error) {
	track, err := engine.LoadTrackConfig(m.trackPath(id))
	switch {
	case err == nil:
		return track, nil
	case errors.Is(err, fs.ErrNotExist):
		if id == BuiltinTrackID {
			return engine.DefaultTrackConfig(), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	default:
		return nil, fmt.Errorf("failed to load track %s: %w", id, err)
	}
}

// ListTracks returns information about all available tracks. Files that
// fail to load are skipped.
func (m *Manager) ListTracks() ([]*service.TrackInfo, error) {
	entries, err := os.ReadDir(m.tracksDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tracks directory: %w", err)
	}

	var tracks []*service.TrackInfo
	seenBuiltin := false

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		track, err := m.LoadTrack(id)
		if err != nil {
			m.logger.Warn().Err(err).Str("file", entry.Name()).Msg("skipping track")
			continue
		}
		if id == BuiltinTrackID {
			seenBuiltin = true
		}
		tracks = append(tracks, trackInfo(entry.Name(), id, track))
	}

	if !seenBuiltin {
		tracks = append(tracks, trackInfo("", BuiltinTrackID, engine.DefaultTrackConfig()))
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].TrackID < tracks[j].TrackID
	})
	return tracks, nil
}

func trackInfo(filename, id string, track *engine.TrackConfig) *service.TrackInfo {
	return &service.TrackInfo{
		Filename:    filename,
		TrackID:     id,
		Name:        track.Name,
		Description: track.Description,
		Width:       track.Width,
		Height:      track.Height,
		Obstacles:   len(track.Obstacles),
		FinishZones: len(track.FinishZones),
	}
}

// GetDefault returns the default track
func (m *Manager) GetDefault() *engine.TrackConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultTrack
}

// SetDefault sets the default track by ID
func (m *Manager) SetDefault(name string) error {
	track, err := m.LoadTrack(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultTrack = track
	return nil
}

// RefreshCache drops every cached track and reloads the default
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	m.tracks = make(map[string]*engine.TrackConfig)
	m.mu.Unlock()

	track := m.loadDefaultTrack()

	m.mu.Lock()
	m.defaultTrack = track
	m.mu.Unlock()
}

// Reload re-reads one track from disk, replacing the cached copy
func (m *Manager) Reload(name string) error {
	id, err := trackID(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tracks, id)
	m.mu.Unlock()

	_, err = m.LoadTrack(id)
	return err
}

// Count returns the number of cached tracks
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks)
}

// loadDefaultTrack prefers classic, then the first loadable file, then the
// built-in track.
func (m *Manager) loadDefaultTrack() *engine.TrackConfig {
	track, err := m.LoadTrack(BuiltinTrackID)
	if err == nil {
		return track
	}
	m.logger.Warn().Err(err).Msg("classic track unusable, picking another default")

	tracks, err := m.ListTracks()
	if err == nil {
		for _, info := range tracks {
			if info.TrackID == BuiltinTrackID {
				continue
			}
			if track, err := m.LoadTrack(info.TrackID); err == nil {
				return track
			}
		}
	}
	return engine.DefaultTrackConfig()
}

// SaveTrack validates a track and writes it to disk under the given ID
func (m *Manager) SaveTrack(name string, track *engine.TrackConfig) error {
	id, err := trackID(name)
	if err != nil {
		return err
	}

	if err := engine.ValidateTrackConfig(track); err != nil {
		return err
	}

	data, err := json.MarshalIndent(track, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal track: %w", err)
	}

	if err := os.WriteFile(m.trackPath(id), data, 0644); err != nil {
		return fmt.Errorf("failed to write track file: %w", err)
	}

	m.mu.Lock()
	m.tracks[id] = track
	m.mu.Unlock()

	m.logger.Info().Str("track", id).Msg("track saved")
	return nil
}

func (m *Manager) trackPath(id string) string {
	return filepath.Join(m.tracksDir, id+".json")
}

// trackID strips the .json extension and rejects names that would leave
// the tracks directory.
func trackID(name string) (string, error) {
	id := strings.TrimSuffix(name, ".json")
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return id, nil
}
