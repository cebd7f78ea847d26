package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"chatcord/internal/models"
	"chatcord/pkg/logger"
)

// StatusError carries a non-2xx response back to the caller with the
// server-provided message when the body had one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// IsUnauthorized reports whether err is a 401 response, meaning the
// user must log in again.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusUnauthorized
	}
	return false
}

// Client is the request/response side of the ChatCord server API.
// The token source is consulted per request so the client always sends
// the current bearer token.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

func NewClient(baseURL string, timeout time.Duration, token func() string) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

func (c *Client) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req *models.RegisterRequest) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error) {
	var room models.Room
	if err := c.do(ctx, http.MethodPost, "/rooms", req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) DeleteRoom(ctx context.Context, roomID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/rooms/%d", roomID), nil, nil)
}

func (c *Client) JoinRoom(ctx context.Context, roomID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/join", roomID), nil, nil)
}

func (c *Client) LeaveRoom(ctx context.Context, roomID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/rooms/%d/leave", roomID), nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]models.OnlineUser, error) {
	var users []models.OnlineUser
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// RoomSummary asks the server for an AI-generated summary of the
// room's recent conversation.
func (c *Client) RoomSummary(ctx context.Context, roomID int) (string, error) {
	var resp models.SummaryResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/ai/summary", roomID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// UploadImage posts an image attachment for a room as multipart form
// data under the "image" field.
func (c *Client) UploadImage(ctx context.Context, roomID int, filename string, content io.Reader) (*models.Attachment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish upload form: %w", err)
	}

	url := fmt.Sprintf("%s/rooms/%d/messages/image", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp)
	}

	var attachment models.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&attachment); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &attachment, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) statusError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		logger.Debug("Error reading error response body: %v", err)
	}

	message := strings.TrimSpace(string(data))
	var wire struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &wire) == nil && wire.Message != "" {
		message = wire.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &StatusError{Code: resp.StatusCode, Message: message}
}
