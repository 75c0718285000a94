// Package session provides session storage for the lidar drive simulator.
//
// The session package implements:
//   - Thread-safe session storage and retrieval
//   - Unique 4-character session ID generation
//   - Optional JSON file persistence of the current run
//   - Expiry of idle sessions
//
// Core Types:
//
// Manager creates, finds and removes sessions. Every session owns its own
// engine built from a validated track; two sessions never share state.
// FilePersistence stores one JSON file per session holding the track ID and
// an engine snapshot, and rebuilds the engine from the track on load.
//
// Concurrency:
//
// The manager map is guarded by a RWMutex. The engine inside a session is
// guarded by the session itself (see service.Session.Do), so the manager
// never ticks an engine.
//
// Usage:
//
//	manager := session.NewManager(session.WithLogger(logger))
//
//	sess, err := manager.Create("", "classic", engine.DefaultTrackConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sess, err = manager.Get(sess.ID)
//
// Cleanup:
//
// CleanupExpiredSessions drops sessions idle for longer than the given age.
// Sessions driven by a real-time loop are never considered idle.
package session
