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
	"time"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
)

// Client drives one session through the REST API.
type Client struct {
	baseURL   string
	sessionID string
	client    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateSession starts a session on trackID, or the default track when
// trackID is empty.
func (c *Client) CreateSession(ctx context.Context, trackID string) (*service.SessionInfo, error) {
	var info service.SessionInfo
	body := map[string]string{}
	if trackID != "" {
		body["track_id"] = trackID
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", body, &info); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.sessionID = info.ID
	return &info, nil
}

// GetSession fetches the current session, including its track.
func (c *Client) GetSession(ctx context.Context) (*service.SessionInfo, error) {
	var info service.SessionInfo
	if err := c.do(ctx, http.MethodGet, c.sessionPath(""), nil, &info); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &info, nil
}

func (c *Client) Step(ctx context.Context, in physics.Input, ticks int) (*service.StepResult, error) {
	req := struct {
		Input physics.Input `json:"input"`
		Ticks int           `json:"ticks"`
	}{in, ticks}

	var result service.StepResult
	if err := c.do(ctx, http.MethodPost, c.sessionPath("/step"), req, &result); err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	return &result, nil
}

type ResetResponse struct {
	Message string        `json:"message"`
	Frame   *engine.Frame `json:"frame"`
}

func (c *Client) Reset(ctx context.Context) (*engine.Frame, error) {
	var resp ResetResponse
	if err := c.do(ctx, http.MethodPost, c.sessionPath("/reset"), nil, &resp); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	return resp.Frame, nil
}

func (c *Client) sessionPath(suffix string) string {
	return "/api/sessions/" + url.PathEscape(c.sessionID) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s - %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
