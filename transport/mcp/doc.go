// Package mcp exposes the Lidar Drive REST API as Model Context Protocol
// tools so AI agents can drive a car through the simulation.
//
// The client holds no simulation state. Every tool call is translated into
// a REST request against a running API server and the JSON response is
// rendered as text for the agent.
//
// MCP Tools:
//   - create_session: Create a session, optionally on a named track
//   - list_sessions: List active sessions with their run phase
//   - get_session: Session details including the latest frame
//   - frame: Pose, speed, sensor distances and timer of a session
//   - step: Hold controls (throttle, brake, steer_left, steer_right) for N ticks
//   - reset_run: Start a new run from the start pose
//   - probe_point: Report whether a track pixel is solid
//   - list_tracks: List available tracks
//   - drive_instructions: Rules of the simulation and driving tips
//
// Transport Modes:
//
// The MCP server returned by GetMCPServer can be served over stdio with
// server.ServeStdio, or mounted on an HTTP endpoint by passing request
// bodies to HandleMessage.
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal().Err(err).Msg("mcp stdio server failed")
//	}
package mcp
