package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatcord/internal/models"
	"chatcord/pkg/logger"

	"github.com/google/uuid"
)

// The server emits message and user payloads in more than one shape:
// a bare message vs. a message nested under a wrapper, a flat username
// vs. a nested user object, RFC3339 timestamps vs. epoch milliseconds.
// Everything below maps those onto the canonical models, logging and
// defaulting when a field cannot be recognized.

// flexID accepts JSON strings and numbers, and the "_id" spelling.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	return fmt.Errorf("id is neither string nor number: %s", data)
}

// flexTime accepts RFC3339 strings and epoch milliseconds. An
// unreadable timestamp is logged and left zero rather than failing
// the whole payload; callers default zero times.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			f.Time = t
			return nil
		}
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		f.Time = time.UnixMilli(ms)
		return nil
	}
	logger.Debug("unrecognized timestamp %s, defaulting", data)
	return nil
}

type wireUser struct {
	ID       int       `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	LastSeen *flexTime `json:"lastSeen"`
}

type wireMessage struct {
	ID          flexID              `json:"id"`
	AltID       flexID              `json:"_id"`
	Message     string              `json:"message"`
	Content     string              `json:"content"`
	Username    string              `json:"username"`
	User        *wireUser           `json:"user"`
	Timestamp   *flexTime           `json:"timestamp"`
	CreatedAt   *flexTime           `json:"createdAt"`
	IsAI        bool                `json:"isAI"`
	Attachments []models.Attachment `json:"attachments"`
}

func (w *wireMessage) toModel() models.Message {
	msg := models.Message{
		IsAI:        w.IsAI,
		Attachments: w.Attachments,
	}

	msg.ID = string(w.ID)
	if msg.ID == "" {
		msg.ID = string(w.AltID)
	}
	if msg.ID == "" {
		// Pushes without an id still need a stable key locally.
		msg.ID = uuid.NewString()
	}

	msg.Content = w.Message
	if msg.Content == "" {
		msg.Content = w.Content
	}

	msg.Username = w.Username
	if w.User != nil {
		if w.User.Username != "" {
			msg.Username = w.User.Username
		} else if w.User.Name != "" {
			msg.Username = w.User.Name
		}
	}
	if msg.Username == "" && !msg.IsAI {
		logger.Debug("message %s has no author, defaulting", msg.ID)
		msg.Username = "unknown"
	}

	switch {
	case w.Timestamp != nil && !w.Timestamp.IsZero():
		msg.Timestamp = w.Timestamp.Time
	case w.CreatedAt != nil && !w.CreatedAt.IsZero():
		msg.Timestamp = w.CreatedAt.Time
	default:
		logger.Debug("message %s has no timestamp, defaulting to now", msg.ID)
		msg.Timestamp = time.Now()
	}

	return msg
}

// ParseMessage normalizes a new_message payload.
func ParseMessage(data json.RawMessage) (models.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Message{}, fmt.Errorf("unrecognized message payload: %w", err)
	}
	return w.toModel(), nil
}

// ParseHistory normalizes a room_messages payload. The payload is
// either a bare array or wrapped as {roomId, messages}. The returned
// room id is 0 when the wire shape does not carry one.
func ParseHistory(data json.RawMessage) (int, []models.Message, error) {
	var wrapped struct {
		RoomID   int               `json:"roomId"`
		Messages []json.RawMessage `json:"messages"`
	}
	var raw []json.RawMessage
	roomID := 0
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Messages != nil {
		raw = wrapped.Messages
		roomID = wrapped.RoomID
	} else {
		var bare []json.RawMessage
		if err := json.Unmarshal(data, &bare); err != nil {
			return 0, nil, fmt.Errorf("unrecognized history payload: %w", err)
		}
		raw = bare
	}

	messages := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		msg, err := ParseMessage(item)
		if err != nil {
			logger.Error("Skipping malformed history entry: %v", err)
			continue
		}
		messages = append(messages, msg)
	}
	return roomID, messages, nil
}

func (w *wireUser) toModel() models.OnlineUser {
	u := models.OnlineUser{
		ID:       w.ID,
		Username: w.Username,
		Status:   w.Status,
	}
	if u.Username == "" {
		u.Username = w.Name
	}
	if u.Status == "" {
		u.Status = models.StatusOnline
	} else if !models.ValidStatus(u.Status) {
		logger.Debug("unknown user status %q, defaulting to online", u.Status)
		u.Status = models.StatusOnline
	}
	if w.LastSeen != nil {
		u.LastSeen = w.LastSeen.Time
	} else {
		u.LastSeen = time.Now()
	}
	return u
}

// ParseUsers normalizes a users_update payload, which replaces the
// online-user list wholesale.
func ParseUsers(data json.RawMessage) ([]models.OnlineUser, error) {
	var wire []wireUser
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unrecognized users payload: %w", err)
	}
	users := make([]models.OnlineUser, 0, len(wire))
	for i := range wire {
		users = append(users, wire[i].toModel())
	}
	return users, nil
}

// UserEvent is the normalized form of user_joined / user_left.
type UserEvent struct {
	User   models.OnlineUser
	RoomID int
	// HasUser reports whether the payload carried a full user object,
	// as opposed to only a display name.
	HasUser bool
}

// ParseUserEvent normalizes a user_joined or user_left payload, which
// arrives either as {username} or {user: {...}, roomId}.
func ParseUserEvent(data json.RawMessage) (UserEvent, error) {
	var wire struct {
		Username string    `json:"username"`
		User     *wireUser `json:"user"`
		RoomID   int       `json:"roomId"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return UserEvent{}, fmt.Errorf("unrecognized user event payload: %w", err)
	}

	ev := UserEvent{RoomID: wire.RoomID}
	if wire.User != nil {
		ev.User = wire.User.toModel()
		ev.HasUser = true
	} else {
		name := strings.TrimSpace(wire.Username)
		if name == "" {
			name = "A user"
		}
		ev.User = models.OnlineUser{Username: name, Status: models.StatusOnline, LastSeen: time.Now()}
	}
	return ev, nil
}

// ParseRoom normalizes a room_created payload.
func ParseRoom(data json.RawMessage) (models.Room, error) {
	var wire struct {
		ID        flexID `json:"id"`
		Name      string `json:"name"`
		CreatedBy int    `json:"created_by"`
		CreatorID int    `json:"createdBy"`
		IsJoined  bool   `json:"is_joined"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.Room{}, fmt.Errorf("unrecognized room payload: %w", err)
	}
	id, err := strconv.Atoi(string(wire.ID))
	if err != nil {
		return models.Room{}, fmt.Errorf("room payload has no usable id: %w", err)
	}
	createdBy := wire.CreatedBy
	if createdBy == 0 {
		createdBy = wire.CreatorID
	}
	return models.Room{ID: id, Name: wire.Name, CreatedBy: createdBy, IsJoined: wire.IsJoined}, nil
}

// RoomRemovedEvent is the normalized form of room_removed / room_deleted.
type RoomRemovedEvent struct {
	RoomID    int
	RoomName  string
	DeletedBy string
}

func ParseRoomRemoved(data json.RawMessage) (RoomRemovedEvent, error) {
	var wire struct {
		RoomID    flexID `json:"roomId"`
		RoomName  string `json:"roomName"`
		DeletedBy string `json:"deletedBy"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return RoomRemovedEvent{}, fmt.Errorf("unrecognized room removal payload: %w", err)
	}
	id, err := strconv.Atoi(string(wire.RoomID))
	if err != nil {
		return RoomRemovedEvent{}, fmt.Errorf("room removal has no usable id: %w", err)
	}
	return RoomRemovedEvent{RoomID: id, RoomName: wire.RoomName, DeletedBy: wire.DeletedBy}, nil
}
