// Package config provides track management for the lidar drive simulator.
//
// The config package handles:
//   - Loading track definitions from JSON files
//   - Caching validated tracks
//   - Default track selection
//   - Track discovery and listing
//
// Track Format:
//
// Tracks are stored as JSON files in the tracks directory, one track per
// file, and are identified by file name without the extension. A track
// defines the field size, the start pose, the car footprint, the obstacle
// and finish rectangles and optional physics, sensor and timing overrides.
//
// The "classic" track is compiled in and is always available. A
// classic.json file in the tracks directory replaces it.
//
// Usage:
//
//	manager, err := config.NewManager("tracks")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	track, err := manager.LoadTrack("classic")
//
//	// List available tracks
//	tracks, err := manager.ListTracks()
//
// Validation:
//
// Every track is checked with engine.ValidateTrackConfig on load and on
// save, so a cached track can always be turned into an engine.
package config
