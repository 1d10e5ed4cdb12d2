// Package api is the REST client for the battle room lifecycle. The
// server is the source of truth; every response here is a snapshot,
// never something the client computed.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
)

// TokenSource yields the current session token per request.
type TokenSource func() string

// Client calls the battle endpoints under a fixed base URL.
type Client struct {
	base  string
	http  *http.Client
	token TokenSource
	log   *zap.Logger
}

// New builds a Client. baseURL is e.g. https://api.example.com.
func New(baseURL string, token TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 10 * time.Second},
		token: token,
		log:   logger.Named("api"),
	}
}

type roomResponse struct {
	Room *battle.Room `json:"room"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateRoom opens a new room with the caller as host.
func (c *Client) CreateRoom(ctx context.Context) (*battle.Room, error) {
	var out roomResponse
	if err := c.do(ctx, http.MethodPost, "/battle/room/create", nil, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

// JoinRoom attaches the caller as guest. Fails with ErrRoomNotFound,
// ErrRoomFull or ErrAlreadyInRoom.
func (c *Client) JoinRoom(ctx context.Context, code string) (*battle.Room, error) {
	body := map[string]string{"roomCode": battle.NormalizeCode(code)}
	var out roomResponse
	if err := c.do(ctx, http.MethodPost, "/battle/room/join", body, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

// LeaveRoom removes the caller. A leaving host closes the room for
// everyone; the guest learns that via a room:closed push.
func (c *Client) LeaveRoom(ctx context.Context, code string) error {
	body := map[string]string{"roomCode": code}
	return c.do(ctx, http.MethodPost, "/battle/room/leave", body, nil)
}

// Room fetches the current snapshot.
func (c *Client) Room(ctx context.Context, code string) (*battle.Room, error) {
	var out roomResponse
	if err := c.do(ctx, http.MethodGet, "/battle/room/"+code, nil, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

// StartGame asks the server to begin the round. The response is only an
// ack; the actual transition arrives as a game:started push.
func (c *Client) StartGame(ctx context.Context, code string) error {
	body := map[string]string{"roomCode": code}
	return c.do(ctx, http.MethodPost, "/battle/game/start", body, nil)
}

// SubmitAnswer records one answer for the current question. An empty
// answer marks a timeout.
func (c *Client) SubmitAnswer(ctx context.Context, code, vocabID, answer string, timeSpentMs int) error {
	body := map[string]any{
		"roomCode":  code,
		"vocabId":   vocabID,
		"answer":    answer,
		"timeSpent": timeSpentMs,
	}
	return c.do(ctx, http.MethodPost, "/battle/game/answer", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			apiErr.Code = e.Code
			apiErr.Message = e.Message
		}
		c.log.Warn("request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}
