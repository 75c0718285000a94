// Package service provides the business logic layer for the lidar drive
// simulator.
//
// The service package implements:
//   - Multi-session simulation management
//   - Track loading and listing
//   - Multi-tick stepping with early stop on finish
//   - Real-time play driven by a fixed-rate loop per session
//   - Pixel probes for inspecting a track
//
// Core Interfaces:
//
// GameService is the main service interface used by the REST, WebSocket and
// MCP transports. SessionManager handles session creation, retrieval and
// lifecycle. ConfigManager loads track definitions. FrameSink receives the
// frames produced by real-time loops.
//
// Architecture:
//
// The service layer sits between the transport layer (HTTP/WebSocket/MCP) and
// the simulation engine. Each session owns one engine guarded by the session
// lock, so API stepping and the real-time loop never tick the same engine at
// once.
//
// Usage:
//
//	sessionMgr := session.NewManager()
//	configMgr, _ := config.NewManager("tracks")
//	gameService := service.NewGameService(sessionMgr, configMgr,
//		service.WithLogger(logger), service.WithFrameSink(hub))
//
//	// Create a new session on the default track
//	info, err := gameService.CreateSession(ctx, "")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Hold the throttle for one second of simulated time
//	result, err := gameService.Step(ctx, info.ID, physics.Input{Throttle: true}, 60)
//
// Session Management:
//
// Sessions are identified by 4-character IDs and run independently. A
// session's run can be reset any number of times; its ID stays the same
// while the run ID changes.
package service
