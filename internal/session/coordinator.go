package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"chatcord/internal/directory"
	"chatcord/internal/models"
	"chatcord/internal/protocol"
	"chatcord/internal/store"
	"chatcord/internal/transport"
	"chatcord/pkg/logger"
)

// Notifier is the user-facing alert surface, the terminal analog of a
// modal dialog. No application failure is fatal to the process; the
// worst case is asking the user to reconnect by hand.
type Notifier interface {
	// Toast shows a transient notice.
	Toast(title string)
	// Alert shows a blocking notice with an acknowledgement.
	Alert(title, text string)
	// ConfirmReload shows a blocking notice offering to re-establish
	// the session and reports whether the user accepted.
	ConfirmReload(title, text string) bool
}

// Coordinator owns the selected room, message log, online-user list
// and connection flag, and reconciles them with transport events.
// Cached state is restored from the store before any connection
// exists so the UI is non-empty immediately.
type Coordinator struct {
	transport transport.Transport
	store     store.Store
	directory *directory.Directory
	notify    Notifier

	mu        sync.Mutex
	selected  *models.Room
	messages  []models.Message
	users     []models.OnlineUser
	connected bool
	token     string
	subs      []transport.Subscription

	onUpdate func()
}

func NewCoordinator(t transport.Transport, st store.Store, dir *directory.Directory, n Notifier) *Coordinator {
	c := &Coordinator{
		transport: t,
		store:     st,
		directory: dir,
		notify:    n,
	}

	// Restore the last session's room and cached log before the
	// transport connects.
	if saved := store.LoadSelectedRoom(st); saved != nil {
		c.selected = saved
		c.messages = store.LoadMessages(st, saved.ID)
	}
	return c
}

// OnUpdate registers a repaint hook invoked after every state change.
// Must be set before Start.
func (c *Coordinator) OnUpdate(fn func()) {
	c.onUpdate = fn
}

// Start wires the transport events and opens the connection.
func (c *Coordinator) Start(token string) error {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	type sub struct {
		event string
		h     transport.Handler
	}
	for _, s := range []sub{
		{protocol.EventConnect, c.handleConnect},
		{protocol.EventDisconnect, c.handleDisconnect},
		{protocol.EventReconnect, c.handleReconnect},
		{protocol.EventReconnectFailed, c.handleReconnectFailed},
		{protocol.EventNewMessage, c.handleNewMessage},
		{protocol.EventRoomMessages, c.handleRoomMessages},
		{protocol.EventUsersUpdate, c.handleUsersUpdate},
		{protocol.EventUserJoined, c.handleUserJoined},
		{protocol.EventUserLeft, c.handleUserLeft},
		{protocol.EventRoomCreated, c.handleRoomCreated},
		{protocol.EventRoomRemoved, c.handleRoomRemoved},
		{protocol.EventRoomDeleted, c.handleRoomRemoved},
		{protocol.EventError, c.handleServerError},
	} {
		c.subs = append(c.subs, c.transport.Subscribe(s.event, s.h))
	}

	return c.transport.Connect(token)
}

// Stop persists the current log and tears the session down.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.selected != nil && len(c.messages) > 0 {
		if err := store.SaveMessages(c.store, c.selected.ID, c.messages); err != nil {
			logger.Error("Failed to persist message log: %v", err)
		}
	}
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		c.transport.Unsubscribe(s)
	}
	c.transport.Disconnect()
}

// SelectRoom switches the active room: the outgoing room's log is
// persisted and left, the incoming room's cached log is shown as a
// placeholder until the server's history push replaces it.
func (c *Coordinator) SelectRoom(room models.Room) {
	c.mu.Lock()
	c.persistCurrentLocked()
	if c.selected != nil && c.transport.IsConnected() {
		c.emitLeave(c.selected.ID)
	}

	selected := room
	c.selected = &selected
	c.messages = store.LoadMessages(c.store, room.ID)
	if err := store.SaveSelectedRoom(c.store, &selected); err != nil {
		logger.Error("Failed to persist selected room: %v", err)
	}
	c.mu.Unlock()

	if c.transport.IsConnected() {
		c.emitJoin(room.ID)
		logger.Info("Joining room: %s (%d)", room.Name, room.ID)
	}
	c.changed()
}

// ClearRoom leaves the active room without selecting another.
func (c *Coordinator) ClearRoom() {
	c.mu.Lock()
	c.persistCurrentLocked()
	if c.selected != nil && c.transport.IsConnected() {
		c.emitLeave(c.selected.ID)
	}
	c.selected = nil
	c.messages = nil
	if err := store.SaveSelectedRoom(c.store, nil); err != nil {
		logger.Error("Failed to clear selected room: %v", err)
	}
	c.mu.Unlock()
	c.changed()
}

// Send validates and emits a chat message. The live transport state
// is checked immediately before emitting: a missed disconnect event
// must not let a message vanish silently.
func (c *Coordinator) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message is empty")
	}

	c.mu.Lock()
	room := c.selected
	c.mu.Unlock()
	if room == nil {
		return fmt.Errorf("no room selected")
	}

	if !c.transport.IsConnected() {
		if c.notify.ConfirmReload("Connection Error",
			"Not connected to chat server. Reconnect and try again.") {
			c.reload()
		}
		return transport.ErrNotConnected
	}

	err := c.transport.Emit(protocol.EventSendMessage, protocol.SendMessagePayload{
		RoomID:  room.ID,
		Content: text,
	})
	if err != nil {
		logger.Error("Error sending message: %v", err)
		c.notify.Alert("Failed to Send Message",
			"There was an error sending your message. Please try again.")
		return err
	}
	return nil
}

// Selected returns the active room, or nil.
func (c *Coordinator) Selected() *models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	room := *c.selected
	return &room
}

// Messages returns a snapshot of the active room's message log.
func (c *Coordinator) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]models.Message, len(c.messages))
	copy(msgs, c.messages)
	return msgs
}

// Users returns a snapshot of the online-user list.
func (c *Coordinator) Users() []models.OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]models.OnlineUser, len(c.users))
	copy(users, c.users)
	return users
}

// Connected reports the coordinator's mirror of the connection flag.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Coordinator) handleConnect(json.RawMessage) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.rejoin()
	c.changed()
}

func (c *Coordinator) handleDisconnect(data json.RawMessage) {
	var payload protocol.DisconnectPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Debug("Disconnect event without reason: %v", err)
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.changed()

	logger.Info("Disconnected from server. Reason: %s", payload.Reason)
	if payload.Reason == protocol.ReasonServerDisconnect {
		// Server-initiated: terminal until the user acts. The
		// transport will not retry on its own.
		if c.notify.ConfirmReload("Server Disconnected",
			"The server disconnected you. Reconnect to continue.") {
			c.reload()
		}
	}
}

func (c *Coordinator) handleReconnect(data json.RawMessage) {
	var payload protocol.ReconnectPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		logger.Info("Reconnected to server after %d attempts", payload.Attempts)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.rejoin()
	c.changed()
}

func (c *Coordinator) handleReconnectFailed(json.RawMessage) {
	if c.notify.ConfirmReload("Connection Failed",
		"Unable to reconnect to chat server. Try again?") {
		c.reload()
	}
}

func (c *Coordinator) handleNewMessage(data json.RawMessage) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		logger.Error("Dropping malformed message: %v", err)
		return
	}

	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		logger.Debug("Message %s arrived with no room selected, dropping", msg.ID)
		return
	}
	c.messages = append(c.messages, msg)
	c.persistCurrentLocked()
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleRoomMessages(data json.RawMessage) {
	roomID, messages, err := protocol.ParseHistory(data)
	if err != nil {
		logger.Error("Dropping malformed room history: %v", err)
		return
	}

	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return
	}
	// A history push for a room that is no longer selected is stale;
	// the local switch already happened, so discard it.
	if roomID != 0 && roomID != c.selected.ID {
		c.mu.Unlock()
		logger.Debug("Discarding stale history for room %d", roomID)
		return
	}
	// The server's history is authoritative and replaces the cached
	// placeholder log, including when it is empty: messages deleted
	// server-side must not resurface from the cache on restart.
	c.messages = messages
	if err := store.SaveMessages(c.store, c.selected.ID, c.messages); err != nil {
		logger.Error("Failed to persist messages for room %d: %v", c.selected.ID, err)
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleUsersUpdate(data json.RawMessage) {
	users, err := protocol.ParseUsers(data)
	if err != nil {
		logger.Error("Dropping malformed users update: %v", err)
		return
	}

	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) handleUserJoined(data json.RawMessage) {
	ev, err := protocol.ParseUserEvent(data)
	if err != nil {
		logger.Error("Dropping malformed user_joined: %v", err)
		return
	}

	if ev.HasUser {
		c.mu.Lock()
		patched := false
		for i := range c.users {
			if c.users[i].ID == ev.User.ID {
				c.users[i] = ev.User
				patched = true
				break
			}
		}
		if !patched {
			c.users = append(c.users, ev.User)
		}
		c.mu.Unlock()
		c.changed()
	}

	c.notify.Toast(fmt.Sprintf("%s joined the room", ev.User.Username))
}

func (c *Coordinator) handleUserLeft(data json.RawMessage) {
	ev, err := protocol.ParseUserEvent(data)
	if err != nil {
		logger.Error("Dropping malformed user_left: %v", err)
		return
	}

	if ev.HasUser {
		c.mu.Lock()
		filtered := c.users[:0]
		for _, u := range c.users {
			if u.ID != ev.User.ID {
				filtered = append(filtered, u)
			}
		}
		c.users = filtered
		c.mu.Unlock()
		c.changed()
	}

	c.notify.Toast(fmt.Sprintf("%s left the room", ev.User.Username))
}

func (c *Coordinator) handleRoomCreated(data json.RawMessage) {
	room, err := protocol.ParseRoom(data)
	if err != nil {
		logger.Error("Dropping malformed room_created: %v", err)
		return
	}
	c.directory.ApplyCreated(room)
}

func (c *Coordinator) handleRoomRemoved(data json.RawMessage) {
	ev, err := protocol.ParseRoomRemoved(data)
	if err != nil {
		logger.Error("Dropping malformed room removal: %v", err)
		return
	}
	c.directory.ApplyRemoved(ev.RoomID)

	c.mu.Lock()
	wasSelected := c.selected != nil && c.selected.ID == ev.RoomID
	if wasSelected {
		c.persistCurrentLocked()
		c.selected = nil
		c.messages = nil
		if err := store.SaveSelectedRoom(c.store, nil); err != nil {
			logger.Error("Failed to clear removed room: %v", err)
		}
	}
	c.mu.Unlock()

	if wasSelected {
		name := ev.RoomName
		if name == "" {
			name = "Unknown room"
		}
		c.notify.Alert("Room Unavailable",
			fmt.Sprintf("The room %q is no longer available.", name))
		c.changed()
	}
}

func (c *Coordinator) handleServerError(data json.RawMessage) {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Error("Server sent an unreadable error event: %s", data)
		return
	}
	logger.Error("Server error: [%s] %s", payload.Code, payload.Message)
}

// rejoin re-issues the join for the active room so server-side
// membership matches client-side UI state after a connect or a
// transient drop. In-memory state wins; the persisted room is the
// fallback when memory is empty.
func (c *Coordinator) rejoin() {
	c.mu.Lock()
	room := c.selected
	if room == nil {
		if saved := store.LoadSelectedRoom(c.store); saved != nil {
			c.selected = saved
			c.messages = store.LoadMessages(c.store, saved.ID)
			room = saved
		}
	}
	c.mu.Unlock()

	if room == nil {
		return
	}
	logger.Info("Rejoining room: %s (%d)", room.Name, room.ID)
	c.emitJoin(room.ID)
}

// Reconnect re-establishes the session by hand, the explicit path
// offered after a terminal disconnect.
func (c *Coordinator) Reconnect() {
	c.reload()
}

// reload is the terminal client's page-refresh analog: a fresh
// connection attempt with the current token.
func (c *Coordinator) reload() {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if err := c.transport.Connect(token); err != nil {
		logger.Error("Reconnect failed: %v", err)
		c.notify.Alert("Connection Failed", "Could not reach the chat server.")
	}
}

func (c *Coordinator) emitJoin(roomID int) {
	if err := c.transport.Emit(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: roomID}); err != nil {
		logger.Error("Failed to join room %d: %v", roomID, err)
	}
}

func (c *Coordinator) emitLeave(roomID int) {
	if err := c.transport.Emit(protocol.EventLeaveRoom, protocol.JoinRoomPayload{RoomID: roomID}); err != nil {
		logger.Error("Failed to leave room %d: %v", roomID, err)
	}
}

// persistCurrentLocked writes the active room's log snapshot, capped
// by the store. Callers hold c.mu.
func (c *Coordinator) persistCurrentLocked() {
	if c.selected == nil || len(c.messages) == 0 {
		return
	}
	if err := store.SaveMessages(c.store, c.selected.ID, c.messages); err != nil {
		logger.Error("Failed to persist messages for room %d: %v", c.selected.ID, err)
	}
}

func (c *Coordinator) changed() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
