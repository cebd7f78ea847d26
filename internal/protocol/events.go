package protocol

import "encoding/json"

// Event names on the real-time channel.
const (
	// Client -> Server
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"

	// Server -> Client
	EventNewMessage   = "new_message"
	EventRoomMessages = "room_messages"
	EventUsersUpdate  = "users_update"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventRoomCreated  = "room_created"
	EventRoomRemoved  = "room_removed"
	EventRoomDeleted  = "room_deleted"
	EventError        = "error"

	// Synthesized by the transport, never sent on the wire.
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnect       = "reconnect"
	EventConnectError    = "connect_error"
	EventReconnectFailed = "reconnect_failed"
)

// Envelope wraps every wire message with its event name.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event.
func NewEnvelope(event string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// ParseEnvelope parses a raw wire message into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// JoinRoomPayload is emitted for join_room and leave_room.
type JoinRoomPayload struct {
	RoomID int `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID  int    `json:"roomId"`
	Content string `json:"content"`
}

// DisconnectPayload carries the close reason for the synthesized
// disconnect event.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// Disconnect reasons, mirroring the distinction the coordinator cares
// about: a deliberate server kick is terminal, anything else retries.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportError   = "transport error"
	ReasonClientDisconnect = "io client disconnect"
)

// ReconnectPayload carries the attempt count for the synthesized
// reconnect event.
type ReconnectPayload struct {
	Attempts int `json:"attempts"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
