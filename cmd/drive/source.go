package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
	hub "github.com/wricardo/mcp-training/lidardrive/transport/websocket"
)

// source produces the frames the terminal shows. Advance is called once
// per display tick with the held controls.
type source interface {
	Name() string
	Track() *engine.TrackConfig
	TickRate() int
	Advance(in physics.Input) (*engine.Frame, error)
	Reset() (*engine.Frame, error)
	Close() error
}

// localSource runs an engine in-process.
type localSource struct {
	engine *engine.SimEngine
}

func newLocalSource(track *engine.TrackConfig, opts ...engine.Option) (*localSource, error) {
	e, err := engine.NewEngine(track, opts...)
	if err != nil {
		return nil, err
	}
	return &localSource{engine: e}, nil
}

func (l *localSource) Name() string               { return "local" }
func (l *localSource) Track() *engine.TrackConfig { return l.engine.Track() }
func (l *localSource) TickRate() int              { return l.engine.TickRate() }
func (l *localSource) Close() error               { return nil }

func (l *localSource) Advance(in physics.Input) (*engine.Frame, error) {
	return l.engine.Tick(in), nil
}

func (l *localSource) Reset() (*engine.Frame, error) {
	return l.engine.Reset(), nil
}

// remoteSource drives a server session in real-time mode. Input goes up
// the websocket; frames come back on it.
type remoteSource struct {
	baseURL    string
	sessionID  string
	track      *engine.TrackConfig
	httpClient *http.Client
	conn       *websocket.Conn

	mu       sync.Mutex
	latest   *engine.Frame
	pending  engine.Frame // sticky one-tick flags since the last Advance
	readErr  error
	lastSent *physics.Input
}

// dialRemote attaches to sessionID, or creates a session on trackID when
// sessionID is empty, and starts its real-time loop.
func dialRemote(ctx context.Context, baseURL, sessionID, trackID string) (*remoteSource, error) {
	r := &remoteSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	if sessionID == "" {
		var created service.SessionInfo
		body := map[string]string{"track_id": trackID}
		if err := r.call(ctx, http.MethodPost, "/api/sessions", body, &created); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		sessionID = created.ID
	}
	r.sessionID = sessionID

	var info service.SessionInfo
	if err := r.call(ctx, http.MethodGet, r.sessionPath(""), nil, &info); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if info.Track == nil {
		return nil, fmt.Errorf("session %s did not include its track", sessionID)
	}
	r.track = info.Track
	r.latest = info.Frame

	if err := r.call(ctx, http.MethodPost, r.sessionPath("/realtime/start"), nil, nil); err != nil {
		return nil, fmt.Errorf("start realtime: %w", err)
	}

	wsURL, err := r.websocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	r.conn = conn

	go r.readLoop()
	return r, nil
}

func (r *remoteSource) Name() string               { return "session " + r.sessionID }
func (r *remoteSource) Track() *engine.TrackConfig { return r.track }
func (r *remoteSource) TickRate() int              { return r.track.EffectiveTickRate() }

func (r *remoteSource) sessionPath(suffix string) string {
	return "/api/sessions/" + url.PathEscape(r.sessionID) + suffix
}

func (r *remoteSource) websocketURL() (string, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"session": {r.sessionID}}.Encode()
	return u.String(), nil
}

func (r *remoteSource) readLoop() {
	for {
		var msg hub.Message
		if err := r.conn.ReadJSON(&msg); err != nil {
			r.mu.Lock()
			r.readErr = err
			r.mu.Unlock()
			return
		}
		if msg.Event != hub.EventFrame || msg.Frame == nil {
			continue
		}
		r.mu.Lock()
		r.latest = msg.Frame
		r.pending.Collided = r.pending.Collided || msg.Frame.Collided
		r.pending.Started = r.pending.Started || msg.Frame.Started
		r.pending.Finished = r.pending.Finished || msg.Frame.Finished
		r.mu.Unlock()
	}
}

// Advance sends the controls when they change and returns the newest
// frame, carrying any one-tick flags seen since the previous call.
func (r *remoteSource) Advance(in physics.Input) (*engine.Frame, error) {
	if r.lastSent == nil || *r.lastSent != in {
		msg := hub.InboundMessage{Type: "input", Input: in}
		if err := r.conn.WriteJSON(msg); err != nil {
			return nil, fmt.Errorf("send input: %w", err)
		}
		r.lastSent = &in
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, fmt.Errorf("connection lost: %w", r.readErr)
	}
	if r.latest == nil {
		return nil, nil
	}
	f := *r.latest
	f.Collided = f.Collided || r.pending.Collided
	f.Started = f.Started || r.pending.Started
	f.Finished = f.Finished || r.pending.Finished
	r.pending = engine.Frame{}
	return &f, nil
}

func (r *remoteSource) Reset() (*engine.Frame, error) {
	var resp struct {
		Frame *engine.Frame `json:"frame"`
	}
	if err := r.call(context.Background(), http.MethodPost, r.sessionPath("/reset"), nil, &resp); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.latest = resp.Frame
	r.pending = engine.Frame{}
	r.mu.Unlock()
	return resp.Frame, nil
}

// Close stops the session's real-time loop and hangs up. The session
// itself stays on the server.
func (r *remoteSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopErr := r.call(ctx, http.MethodPost, r.sessionPath("/realtime/stop"), nil, nil)

	if r.conn != nil {
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err := r.conn.Close(); err != nil {
			return err
		}
	}
	return stopErr
}

// call performs a JSON request against the REST API.
func (r *remoteSource) call(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
