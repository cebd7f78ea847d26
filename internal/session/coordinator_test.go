package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatcord/internal/directory"
	"chatcord/internal/models"
	"chatcord/internal/protocol"
	"chatcord/internal/store"
	"chatcord/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitCall struct {
	event string
	data  json.RawMessage
}

// fakeTransport implements transport.Transport in-process: it records
// emits and lets tests push server events at the registered handlers.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	dials     int
	emits     []emitCall
	handlers  map[string][]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeTransport) Connect(token string) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.dials++
	f.connected = true
	f.mu.Unlock()

	f.fire(protocol.EventConnect, `{}`)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.emits = append(f.emits, emitCall{event: event, data: data})
	return nil
}

func (f *fakeTransport) Subscribe(event string, h transport.Handler) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
	return transport.Subscription{}
}

func (f *fakeTransport) Unsubscribe(transport.Subscription) {}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// fire delivers a server event to every registered handler, the way
// the real transport dispatches in receipt order.
func (f *fakeTransport) fire(event, raw string) {
	f.mu.Lock()
	hs := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(raw))
	}
}

// drop simulates losing the connection: the transport flag flips
// before the disconnect event is delivered.
func (f *fakeTransport) drop(reason string) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(protocol.EventDisconnect, fmt.Sprintf(`{"reason":%q}`, reason))
}

func (f *fakeTransport) emitted(event string) []emitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitCall
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// fakeNotifier records every notification and answers ConfirmReload
// with a preset choice.
type fakeNotifier struct {
	mu       sync.Mutex
	toasts   []string
	alerts   []string
	confirms []string
	accept   bool
}

func (n *fakeNotifier) Toast(title string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, title)
}

func (n *fakeNotifier) Alert(title, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, title)
}

func (n *fakeNotifier) ConfirmReload(title, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirms = append(n.confirms, title)
	return n.accept
}

func setupCoordinator(t *testing.T) (*Coordinator, *fakeTransport, *fakeNotifier, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ft := newFakeTransport()
	fn := &fakeNotifier{}
	coord := NewCoordinator(ft, st, directory.New(nil), fn)
	return coord, ft, fn, st
}

func joinPayload(t *testing.T, e emitCall) protocol.JoinRoomPayload {
	t.Helper()
	var p protocol.JoinRoomPayload
	require.NoError(t, json.Unmarshal(e.data, &p))
	return p
}

func TestNewCoordinator_RestoresCachedSession(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	room := models.Room{ID: 7, Name: "general"}
	require.NoError(t, store.SaveSelectedRoom(st, &room))
	cached := []models.Message{{ID: "m1", Content: "hello", Username: "alice", Timestamp: time.Now()}}
	require.NoError(t, store.SaveMessages(st, 7, cached))

	coord := NewCoordinator(newFakeTransport(), st, directory.New(nil), &fakeNotifier{})

	selected := coord.Selected()
	require.NotNil(t, selected)
	assert.Equal(t, 7, selected.ID)
	msgs := coord.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, coord.Connected())
}

func TestStart_RejoinsPersistedRoom(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, store.SaveSelectedRoom(st, &models.Room{ID: 3, Name: "dev"}))

	// Selection was persisted after construction, so memory is empty
	// and the fallback path has to read the store.
	require.NoError(t, coord.Start("tok"))

	joins := ft.emitted(protocol.EventJoinRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, 3, joinPayload(t, joins[0]).RoomID)
	assert.True(t, coord.Connected())
}

func TestSelectRoom_SwitchesAndPersists(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))

	cached := []models.Message{{ID: "m1", Content: "old talk", Username: "bob", Timestamp: time.Now()}}
	require.NoError(t, store.SaveMessages(st, 2, cached))

	coord.SelectRoom(models.Room{ID: 1, Name: "general"})
	coord.SelectRoom(models.Room{ID: 2, Name: "random"})

	leaves := ft.emitted(protocol.EventLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, 1, joinPayload(t, leaves[0]).RoomID)

	joins := ft.emitted(protocol.EventJoinRoom)
	require.Len(t, joins, 2)
	assert.Equal(t, 2, joinPayload(t, joins[1]).RoomID)

	// The cached log shows immediately as a placeholder.
	msgs := coord.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "old talk", msgs[0].Content)

	saved := store.LoadSelectedRoom(st)
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.ID)
}

func TestSend_EmitsMessage(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	require.NoError(t, coord.Send("  hello there  "))

	sent := ft.emitted(protocol.EventSendMessage)
	require.Len(t, sent, 1)
	var p protocol.SendMessagePayload
	require.NoError(t, json.Unmarshal(sent[0].data, &p))
	assert.Equal(t, 5, p.RoomID)
	assert.Equal(t, "hello there", p.Content)
}

func TestSend_Validation(t *testing.T) {
	coord, _, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))

	assert.Error(t, coord.Send("   "))
	assert.Error(t, coord.Send("hi")) // no room selected
}

func TestSend_WhileDisconnected(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	fn.accept = true
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	// The connection is gone but no disconnect event was delivered:
	// the live transport check has to catch it anyway.
	ft.Disconnect()

	err := coord.Send("hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrNotConnected))
	assert.Empty(t, ft.emitted(protocol.EventSendMessage))
	assert.Contains(t, fn.confirms, "Connection Error")

	// Accepting the prompt re-established the session.
	assert.Equal(t, 2, ft.dialCount())
	assert.True(t, coord.Connected())
}

func TestNewMessage_AppendsAndPersists(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	ft.fire(protocol.EventNewMessage,
		`{"id":1,"message":"hi","username":"bob","timestamp":"2025-06-01T10:00:00Z"}`)

	msgs := coord.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "bob", msgs[0].Username)

	persisted := store.LoadMessages(st, 5)
	require.Len(t, persisted, 1)
	assert.Equal(t, "hi", persisted[0].Content)
}

func TestNewMessage_DroppedWithoutRoom(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))

	ft.fire(protocol.EventNewMessage, `{"id":1,"message":"hi","username":"bob"}`)
	assert.Empty(t, coord.Messages())
}

func TestRoomMessages_ReplacesLog(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, store.SaveMessages(st, 5, []models.Message{
		{ID: "stale", Content: "cached", Username: "bob", Timestamp: time.Now()},
	}))
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	ft.fire(protocol.EventRoomMessages,
		`{"roomId":5,"messages":[{"id":1,"message":"first","username":"alice"},{"id":2,"message":"second","username":"bob"}]}`)

	msgs := coord.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestRoomMessages_EmptyHistoryClearsCache(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, store.SaveMessages(st, 5, []models.Message{
		{ID: "old", Content: "deleted on server", Username: "bob", Timestamp: time.Now()},
	}))
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	ft.fire(protocol.EventRoomMessages, `{"roomId":5,"messages":[]}`)

	assert.Empty(t, coord.Messages())
	assert.Empty(t, store.LoadMessages(st, 5))
}

func TestRoomMessages_StaleRoomDiscarded(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 5, Name: "general"})

	ft.fire(protocol.EventNewMessage, `{"id":1,"message":"mine","username":"alice"}`)
	// History for the room we already switched away from.
	ft.fire(protocol.EventRoomMessages,
		`{"roomId":9,"messages":[{"id":2,"message":"other room","username":"bob"}]}`)

	msgs := coord.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mine", msgs[0].Content)
}

func TestUsersUpdate_ReplacesList(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))

	ft.fire(protocol.EventUsersUpdate, `[{"id":2,"username":"bob","status":"idle"}]`)

	users := coord.Users()
	require.Len(t, users, 1)
	assert.Equal(t, 2, users[0].ID)
	assert.Equal(t, "B", users[0].Avatar())
	assert.Equal(t, models.StatusIdle, users[0].Status)
	assert.True(t, users[0].IsOnline())
}

func TestUserJoined_PatchesAndToasts(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	ft.fire(protocol.EventUsersUpdate,
		`[{"id":1,"username":"alice","status":"online"},{"id":2,"username":"bob","status":"online"}]`)

	ft.fire(protocol.EventUserJoined, `{"user":{"id":2,"username":"bob","status":"dnd"},"roomId":5}`)

	users := coord.Users()
	require.Len(t, users, 2)
	assert.Equal(t, models.StatusDND, users[1].Status)
	assert.Contains(t, fn.toasts, "bob joined the room")
}

func TestUserLeft_RemovesAndToasts(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	ft.fire(protocol.EventUsersUpdate,
		`[{"id":1,"username":"alice","status":"online"},{"id":2,"username":"bob","status":"online"}]`)

	ft.fire(protocol.EventUserLeft, `{"user":{"id":1,"username":"alice","status":"online"},"roomId":5}`)

	users := coord.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
	assert.Contains(t, fn.toasts, "alice left the room")
}

func TestServerDisconnect_PromptsReconnect(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	fn.accept = true
	require.NoError(t, coord.Start("tok"))

	ft.drop(protocol.ReasonServerDisconnect)

	assert.Contains(t, fn.confirms, "Server Disconnected")
	assert.Equal(t, 2, ft.dialCount())
	assert.True(t, coord.Connected())
}

func TestTransportDisconnect_NoPrompt(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))

	// A transient drop retries inside the transport; the coordinator
	// only mirrors the flag.
	ft.drop(protocol.ReasonTransportError)

	assert.Empty(t, fn.confirms)
	assert.False(t, coord.Connected())
}

func TestReconnect_RejoinsSelectedRoom(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 3, Name: "dev"})

	ft.drop(protocol.ReasonTransportError)
	ft.mu.Lock()
	ft.connected = true
	ft.mu.Unlock()
	ft.fire(protocol.EventReconnect, `{"attempts":2}`)

	joins := ft.emitted(protocol.EventJoinRoom)
	require.Len(t, joins, 2)
	assert.Equal(t, 3, joinPayload(t, joins[1]).RoomID)
	assert.True(t, coord.Connected())
}

func TestReconnectFailed_PromptsRetry(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	fn.accept = true
	require.NoError(t, coord.Start("tok"))

	ft.drop(protocol.ReasonTransportError)
	ft.fire(protocol.EventReconnectFailed, `{}`)

	assert.Contains(t, fn.confirms, "Connection Failed")
	assert.Equal(t, 2, ft.dialCount())
}

func TestRoomRemoved_ClearsSelection(t *testing.T) {
	coord, ft, fn, st := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 4, Name: "general"})
	ft.fire(protocol.EventNewMessage, `{"id":1,"message":"hi","username":"bob"}`)

	ft.fire(protocol.EventRoomRemoved, `{"roomId":4,"roomName":"general","deletedBy":"admin"}`)

	assert.Nil(t, coord.Selected())
	assert.Empty(t, coord.Messages())
	assert.Contains(t, fn.alerts, "Room Unavailable")
	assert.Nil(t, store.LoadSelectedRoom(st))
}

func TestRoomRemoved_OtherRoomKeepsSelection(t *testing.T) {
	coord, ft, fn, _ := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 4, Name: "general"})

	ft.fire(protocol.EventRoomRemoved, `{"roomId":9,"roomName":"other"}`)

	require.NotNil(t, coord.Selected())
	assert.Equal(t, 4, coord.Selected().ID)
	assert.Empty(t, fn.alerts)
}

func TestRoomCreated_UpdatesDirectory(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	dir := directory.New(nil)
	ft := newFakeTransport()
	coord := NewCoordinator(ft, st, dir, &fakeNotifier{})
	require.NoError(t, coord.Start("tok"))

	ft.fire(protocol.EventRoomCreated, `{"id":11,"name":"announcements","created_by":1}`)

	rooms := dir.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "announcements", rooms[0].Name)
}

func TestStop_PersistsAndDisconnects(t *testing.T) {
	coord, ft, _, st := setupCoordinator(t)
	require.NoError(t, coord.Start("tok"))
	coord.SelectRoom(models.Room{ID: 6, Name: "general"})
	ft.fire(protocol.EventNewMessage, `{"id":1,"message":"bye","username":"bob"}`)

	coord.Stop()

	assert.False(t, ft.IsConnected())
	persisted := store.LoadMessages(st, 6)
	require.Len(t, persisted, 1)
	assert.Equal(t, "bye", persisted[0].Content)
}

func TestOnUpdate_FiresOnStateChange(t *testing.T) {
	coord, ft, _, _ := setupCoordinator(t)
	var updates int
	coord.OnUpdate(func() { updates++ })

	require.NoError(t, coord.Start("tok"))
	ft.fire(protocol.EventUsersUpdate, `[{"id":1,"username":"alice"}]`)

	assert.Greater(t, updates, 0)
}
