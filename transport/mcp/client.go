package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Lidar Drive",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Lidar Drive - MCP Interface

This is a thin client that proxies all requests to the REST API server.

OBJECTIVE:
Drive the car from its start pose into a finish zone as fast as possible.
You cannot see the track. Each frame reports five distance sensors fanned
around the car's heading; use them to steer away from walls.

AVAILABLE TOOLS:
- create_session: Create a new simulation session on a track
- list_sessions: List active sessions
- get_session: Session details with the latest frame
- frame: Current frame (pose, speed, sensors, timer)
- step: Hold controls for a number of ticks - requires intent explanation
- reset_run: Put the car back at the start and begin a new run
- probe_point: Check whether a point of the track is solid
- list_tracks: List available tracks
- drive_instructions: Full rules and driving tips

NOTE: The 'intent' parameter on step serves as rubber duck debugging - explain your reasoning!`),
	)

	// Register all tools
	c.registerTools()
}

func sessionIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID",
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new simulation session with optional track selection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"track_id": map[string]interface{}{
					"type":        "string",
					"description": "Track to drive on (optional, defaults to the server's default track)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	// Simulation
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "frame",
		Description: "Get the current frame: pose, speed, sensor distances and timer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleFrame)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "step",
		Description: "Hold the given controls for a number of ticks and return the resulting frame",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"throttle": map[string]interface{}{
					"type":        "boolean",
					"description": "Accelerate forward",
				},
				"brake": map[string]interface{}{
					"type":        "boolean",
					"description": "Brake, then reverse once stopped",
				},
				"steer_left": map[string]interface{}{
					"type":        "boolean",
					"description": "Turn left (heading increases)",
				},
				"steer_right": map[string]interface{}{
					"type":        "boolean",
					"description": "Turn right (heading decreases)",
				},
				"ticks": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Ticks to simulate (default 1, max %d)", engine.MaxStepTicks),
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Brief explanation of the intent behind this step (serves as a rubber duck to help explain your reasoning)",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reset_run",
		Description: "Return the car to the start pose and begin a new run with a fresh countdown",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}, c.handleReset)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "probe_point",
		Description: "Check whether a track pixel is solid and which obstacles or finish zones cover it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionIDProperty(),
				"x": map[string]interface{}{
					"type":        "integer",
					"description": "X coordinate in pixels (0 is the left edge)",
				},
				"y": map[string]interface{}{
					"type":        "integer",
					"description": "Y coordinate in pixels (0 is the top edge)",
				},
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleProbe)

	// Tracks
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_tracks",
		Description: "List available tracks",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListTracks)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "drive_instructions",
		Description: "Get the rules of the simulation and driving tips",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleDriveInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// arguments returns the tool call arguments as a map; missing arguments
// yield an empty map.
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

func sessionPath(args map[string]interface{}, suffix string) (string, error) {
	sessionID, _ := args["session_id"].(string)
	if sessionID == "" {
		return "", fmt.Errorf("session_id is required")
	}
	return "/api/sessions/" + url.PathEscape(sessionID) + suffix, nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	trackID, _ := args["track_id"].(string)

	body := map[string]string{}
	if trackID != "" {
		body["track_id"] = trackID
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\nTrack: %s\n", session.ID, session.TrackID)
	if session.Frame != nil {
		result += "\n" + formatFrame(session.Frame)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                   `json:"count"`
		Sessions []service.SessionInfo `json:"sessions"`
	}

	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active Sessions (%d):\n\n", response.Count)
	for _, s := range response.Sessions {
		fmt.Fprintf(&b, "- %s (Track: %s, Created: %s", s.ID, s.TrackID, s.CreatedAt.Format("15:04:05"))
		if s.Frame != nil {
			fmt.Fprintf(&b, ", Phase: %s, Time: %s", s.Frame.Phase, s.Frame.TimerText)
		}
		if s.Realtime {
			b.WriteString(", realtime")
		}
		b.WriteString(")\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", path, nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleFrame(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/frame")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var frame engine.Frame
	if err := c.apiCall(ctx, "GET", path, nil, &frame); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatFrame(&frame)), nil
}

func (c *Client) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/step")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Intent parameter serves as rubber duck debugging - we don't need to process it further
	_, _ = args["intent"].(string)

	input := physics.Input{}
	input.Throttle, _ = args["throttle"].(bool)
	input.Brake, _ = args["brake"].(bool)
	input.SteerLeft, _ = args["steer_left"].(bool)
	input.SteerRight, _ = args["steer_right"].(bool)

	ticks := 1
	if t, ok := args["ticks"].(float64); ok {
		ticks = int(t)
	}
	if ticks < 0 {
		return mcp.NewToolResultError("ticks must not be negative"), nil
	}

	body := map[string]interface{}{
		"input": input,
		"ticks": ticks,
	}

	var result service.StepResult
	if err := c.apiCall(ctx, "POST", path, body, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStepResult(&result)), nil
}

func (c *Client) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/reset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response struct {
		Message string        `json:"message"`
		Frame   *engine.Frame `json:"frame"`
	}

	if err := c.apiCall(ctx, "POST", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := response.Message
	if response.Frame != nil {
		result += "\n\n" + formatFrame(response.Frame)
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleProbe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/probe")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	x, okX := args["x"].(float64)
	y, okY := args["y"].(float64)
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required integers"), nil
	}

	var probe service.ProbeResult
	query := fmt.Sprintf("?x=%d&y=%d", int(x), int(y))
	if err := c.apiCall(ctx, "GET", path+query, nil, &probe); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatProbe(&probe)), nil
}

func (c *Client) handleListTracks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tracks []service.TrackInfo
	if err := c.apiCall(ctx, "GET", "/api/tracks", nil, &tracks); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Available Tracks:\n\n")
	for _, t := range tracks {
		fmt.Fprintf(&b, "• %s (%s)\n", t.TrackID, t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, "  %s\n", t.Description)
		}
		fmt.Fprintf(&b, "  Field: %dx%d, Obstacles: %d, Finish zones: %d\n\n",
			t.Width, t.Height, t.Obstacles, t.FinishZones)
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleDriveInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instructions := `Lidar Drive - Complete Instructions

OBJECTIVE:
Drive the car from its start pose into any finish zone. The run timer starts
when the countdown ends and stops the moment the car body touches a finish zone.

THE WORLD:
• The track is a rectangle of pixels. x grows to the right, y grows downward.
• Obstacles are solid rectangles. Everything outside the field is solid too.
• The car is a rectangle that rotates around its center.
• Heading is in degrees, counter-clockwise. Heading 0 points up (-y), 90
  points left (-x), 180 points down (+y) and 270 points right (+x).

CONTROLS (held for every tick of a step):
• throttle - accelerate forward up to the top speed
• brake - slow down, then accelerate in reverse
• steer_left / steer_right - rotate the heading (left adds degrees)
• Friction slows the car whenever neither throttle nor brake is held.

SENSORS:
Every frame carries five distances, one per ray, fanned around the heading
(-30, -15, 0, +15 and +30 degrees relative to it, right to left). Each value
is the number of
free pixels before the ray hits something solid, capped at the maximum
range. The middle value looks straight ahead.

RUN LIFECYCLE:
1. countdown - the car cannot move; frames show the seconds left
2. running - physics applies and the timer counts up
3. finished - the car touched a finish zone; the timer is frozen

COLLISIONS:
A move that would overlap an obstacle or leave the field is cancelled: the
car stays where it was and its speed drops to zero. The step result reports
how many ticks collided.

TIPS:
• Use step with many ticks when the front sensor shows plenty of room.
• Slow down before turning; speed limits how quickly you can react.
• Compare the left and right sensors to find the open side.
• A front reading that keeps shrinking means a wall is coming.
• Use probe_point to check a position before committing to a route.
• reset_run starts over with a new run ID and a fresh countdown.

Good luck, and drive fast!`

	return mcp.NewToolResultText(instructions), nil
}

// Formatting helpers

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nTrack: %s\nCreated: %s\n",
		session.ID, session.TrackID, session.CreatedAt.Format(time.RFC3339))
	if session.Realtime {
		b.WriteString("Real-time loop: running\n")
	}
	if session.Frame != nil {
		b.WriteString("\n")
		b.WriteString(formatFrame(session.Frame))
	}
	return b.String()
}

func formatFrame(f *engine.Frame) string {
	var b strings.Builder

	switch f.Phase {
	case engine.PhaseCountdown:
		fmt.Fprintf(&b, "⏳ COUNTDOWN: %d\n", f.Countdown)
	case engine.PhaseFinished:
		fmt.Fprintf(&b, "🏁 FINISHED in %s\n", f.TimerText)
	default:
		fmt.Fprintf(&b, "🚗 RUNNING %s\n", f.TimerText)
	}

	fmt.Fprintf(&b, "Tick: %d (run %s)\n", f.Tick, f.RunID)
	fmt.Fprintf(&b, "Position: (%.1f,%.1f) Heading: %.1f°\n", f.Pose.X, f.Pose.Y, f.Pose.Heading)
	fmt.Fprintf(&b, "Speed: %.2f\n", f.Velocity)
	b.WriteString(formatSensors(f.Sensors))
	if f.Collided {
		b.WriteString("⚠️ Collided on the last tick\n")
	}
	return b.String()
}

// sensorLabels names the default five-ray fan in offset order. Positive
// offsets turn counter-clockwise, so the fan runs right to left.
var sensorLabels = []string{"right", "front-right", "front", "front-left", "left"}

func formatSensors(sensors []int) string {
	if len(sensors) == 0 {
		return ""
	}
	parts := make([]string, len(sensors))
	for i, d := range sensors {
		if len(sensors) == len(sensorLabels) {
			parts[i] = fmt.Sprintf("%s=%d", sensorLabels[i], d)
		} else {
			parts[i] = fmt.Sprintf("%d", d)
		}
	}
	return "Sensors: " + strings.Join(parts, " ") + "\n"
}

func formatStepResult(result *service.StepResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Executed %d/%d ticks", result.TicksExecuted, result.RequestedTicks)
	if result.Truncated {
		fmt.Fprintf(&b, " (truncated to %d)", result.Limit)
	}
	b.WriteString("\n")
	if result.StoppedReason != "" {
		fmt.Fprintf(&b, "Stopped: %s [%s]\n", result.StoppedReason, result.StopReasonCode)
	}
	fmt.Fprintf(&b, "Moved %.1f px: (%.1f,%.1f) → (%.1f,%.1f)\n",
		result.Distance, result.StartPose.X, result.StartPose.Y, result.EndPose.X, result.EndPose.Y)
	if result.Collisions > 0 {
		fmt.Fprintf(&b, "💥 Collisions: %d ticks blocked\n", result.Collisions)
	}
	for _, ev := range result.Events {
		fmt.Fprintf(&b, "• [%d] %s: %s\n", ev.Tick, ev.Type, ev.Message)
	}
	if result.Frame != nil {
		b.WriteString("\n")
		b.WriteString(formatFrame(result.Frame))
	}
	return b.String()
}

func formatProbe(p *service.ProbeResult) string {
	if !p.InField {
		return fmt.Sprintf("(%d,%d) is outside the field (solid)\n", p.X, p.Y)
	}
	state := "free"
	if p.Solid {
		state = "solid"
	}
	result := fmt.Sprintf("(%d,%d) is %s\n", p.X, p.Y, state)
	if len(p.Obstacles) > 0 {
		result += fmt.Sprintf("Obstacles: %v\n", p.Obstacles)
	}
	if len(p.FinishZones) > 0 {
		result += fmt.Sprintf("Finish zones: %v\n", p.FinishZones)
	}
	return result
}
