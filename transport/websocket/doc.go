// Package websocket streams simulation frames to browser and terminal
// clients.
//
// Architecture:
//
// A central Hub tracks the clients watching each session. Every client has
// a read goroutine and a write goroutine; the hub itself only owns the
// client registry. Frames from real-time loops go straight to the client
// buffers through BroadcastFrame, which never blocks. A client that cannot
// keep up is disconnected.
//
// Message Protocol:
//
// Clients connect with ?sessionId=abc1. By default messages are JSON text
// frames; with ?format=msgpack they are MessagePack binary frames.
//   - Outgoing: {"session_id": "abc1", "event": "frame", "frame": {...}}
//   - Incoming: {"type": "input", "input": {"throttle": true, "steer_left": false}}
//
// Incoming input replaces the held controls of the session's real-time
// loop. Rejected messages get an "error" event sent back to the sender only.
//
// Usage:
//
//	hub := websocket.NewHub(websocket.WithLogger(logger))
//	go hub.Run(ctx)
//	hub.SetInputHandler(gameService.SetInput)
//
//	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("sessionId"))
//	})
package websocket
