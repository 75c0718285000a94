// Package api provides the HTTP REST API of the Lidar Drive simulator.
//
// Routes are registered on a gorilla/mux router and every handler delegates
// to a service.GameService. Frames produced by step and reset are also
// pushed to WebSocket viewers of the session through the hub.
//
// Endpoints:
//
// Sessions:
//   - POST /api/sessions - Create a session ({"track_id": "classic"}, optional)
//   - GET /api/sessions - List sessions (?sort=created|accessed&order=asc|desc&limit=N)
//   - GET /api/sessions/unified - Several sessions at once (?sessionIds=a,b or ?trackId=t)
//   - GET /api/sessions/{id} - Session details with the latest frame
//   - DELETE /api/sessions/{id} - Delete a session and stop its loop
//
// Simulation:
//   - GET /api/sessions/{id}/frame - Current frame
//   - POST /api/sessions/{id}/step - Hold input for N ticks ({"input": {...}, "ticks": 30})
//   - POST /api/sessions/{id}/reset - Start a new run
//   - GET /api/sessions/{id}/probe?x=&y= - Inspect one track pixel
//
// Real-time:
//   - PUT /api/sessions/{id}/input - Replace the held controls
//   - POST /api/sessions/{id}/realtime/start - Start the fixed-rate loop
//   - POST /api/sessions/{id}/realtime/stop - Stop it
//
// Tracks:
//   - GET /api/tracks - List tracks
//   - GET /api/tracks/{name} - Full track definition
//   - POST /api/tracks - Validate and save a track ({"track_id": "...", "track": {...}})
//
// Other:
//   - GET /api/health - Liveness probe
//   - GET /ws?session={id} - WebSocket stream of frames (?format=msgpack for binary)
//
// Input is a JSON object with boolean fields:
//
//	{"throttle": true, "brake": false, "steer_left": false, "steer_right": true}
//
// Error Handling:
//
// Errors are returned as {"error": "message"}. Unknown sessions and tracks
// map to 404, invalid tracks and malformed requests to 400 and everything
// else to 500.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run(ctx)
//	srv := api.NewServer(gameService, hub, api.WithLogger(log.Logger))
//	http.ListenAndServe(":8080", srv)
package api
