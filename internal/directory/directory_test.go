package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chatcord/internal/api"
	"chatcord/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roomServer is a minimal in-memory rooms endpoint.
type roomServer struct {
	mu    sync.Mutex
	rooms []models.Room
	fail  bool
}

func (s *roomServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rooms":
			json.NewEncoder(w).Encode(s.rooms)

		case r.Method == http.MethodPost && r.URL.Path == "/rooms":
			var req models.CreateRoomRequest
			json.NewDecoder(r.Body).Decode(&req)
			room := models.Room{ID: len(s.rooms) + 100, Name: req.Name, IsJoined: true}
			s.rooms = append(s.rooms, room)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(room)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/join"):
			s.setJoined(pathRoomID(r.URL.Path), true)
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/leave"):
			s.setJoined(pathRoomID(r.URL.Path), false)
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodDelete:
			id := pathRoomID(r.URL.Path)
			kept := s.rooms[:0]
			for _, room := range s.rooms {
				if room.ID != id {
					kept = append(kept, room)
				}
			}
			s.rooms = kept
			w.WriteHeader(http.StatusOK)

		default:
			http.NotFound(w, r)
		}
	})
}

func pathRoomID(path string) int {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return 0
	}
	id, _ := strconv.Atoi(parts[1])
	return id
}

func (s *roomServer) setJoined(id int, joined bool) {
	for i := range s.rooms {
		if s.rooms[i].ID == id {
			s.rooms[i].IsJoined = joined
		}
	}
}

func setupDirectory(t *testing.T, srv *roomServer) *Directory {
	t.Helper()

	server := httptest.NewServer(srv.handler())
	t.Cleanup(server.Close)
	return New(api.NewClient(server.URL, 5*time.Second, nil))
}

func TestFetch_ReplacesCollection(t *testing.T) {
	srv := &roomServer{rooms: []models.Room{
		{ID: 1, Name: "general"},
		{ID: 2, Name: "random"},
	}}
	dir := setupDirectory(t, srv)

	require.NoError(t, dir.Fetch(context.Background()))
	require.Len(t, dir.Rooms(), 2)

	srv.mu.Lock()
	srv.rooms = srv.rooms[:1]
	srv.mu.Unlock()

	require.NoError(t, dir.Fetch(context.Background()))
	assert.Len(t, dir.Rooms(), 1)
}

func TestFetch_FailureLeavesCollectionEmpty(t *testing.T) {
	srv := &roomServer{rooms: []models.Room{{ID: 1, Name: "general"}}}
	dir := setupDirectory(t, srv)

	require.NoError(t, dir.Fetch(context.Background()))
	require.Len(t, dir.Rooms(), 1)

	srv.mu.Lock()
	srv.fail = true
	srv.mu.Unlock()

	err := dir.Fetch(context.Background())
	require.Error(t, err)
	// No stale data: better an empty sidebar than rooms the user may
	// no longer have access to.
	assert.Empty(t, dir.Rooms())
}

func TestJoin_RefreshesMembership(t *testing.T) {
	srv := &roomServer{rooms: []models.Room{{ID: 1, Name: "general"}}}
	dir := setupDirectory(t, srv)

	require.NoError(t, dir.Fetch(context.Background()))
	room, _ := dir.Get(1)
	require.False(t, room.IsJoined)

	require.NoError(t, dir.Join(context.Background(), 1))
	room, ok := dir.Get(1)
	require.True(t, ok)
	assert.True(t, room.IsJoined)

	require.NoError(t, dir.Leave(context.Background(), 1))
	room, _ = dir.Get(1)
	assert.False(t, room.IsJoined)
}

func TestCreate_ReturnsRoomAndRefreshes(t *testing.T) {
	srv := &roomServer{}
	dir := setupDirectory(t, srv)

	room, err := dir.Create(context.Background(), "new-room")
	require.NoError(t, err)
	assert.Equal(t, "new-room", room.Name)

	_, ok := dir.Get(room.ID)
	assert.True(t, ok)
}

func TestCreate_RequiresName(t *testing.T) {
	dir := New(nil)
	_, err := dir.Create(context.Background(), "")
	require.Error(t, err)
}

func TestDelete_RefreshesList(t *testing.T) {
	srv := &roomServer{rooms: []models.Room{{ID: 1, Name: "doomed"}}}
	dir := setupDirectory(t, srv)

	require.NoError(t, dir.Fetch(context.Background()))
	require.NoError(t, dir.Delete(context.Background(), 1))
	assert.Empty(t, dir.Rooms())
}

func TestApplyCreated_DedupsById(t *testing.T) {
	dir := New(nil)

	dir.ApplyCreated(models.Room{ID: 5, Name: "pushed"})
	dir.ApplyCreated(models.Room{ID: 5, Name: "pushed again"})

	rooms := dir.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "pushed", rooms[0].Name)
}

func TestApplyCreated_PreservesArrivalOrder(t *testing.T) {
	dir := New(nil)

	dir.ApplyCreated(models.Room{ID: 2, Name: "second"})
	dir.ApplyCreated(models.Room{ID: 1, Name: "first"})

	rooms := dir.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, 2, rooms[0].ID)
	assert.Equal(t, 1, rooms[1].ID)
}

func TestApplyRemoved_AfterCreated(t *testing.T) {
	dir := New(nil)

	dir.ApplyCreated(models.Room{ID: 9, Name: "ephemeral"})
	dir.ApplyRemoved(9)

	// Created then removed with the same id never survives.
	_, ok := dir.Get(9)
	assert.False(t, ok)
	assert.Empty(t, dir.Rooms())
}

func TestApplyRemoved_UnknownIdIsNoop(t *testing.T) {
	dir := New(nil)
	dir.ApplyCreated(models.Room{ID: 1, Name: "keeper"})

	dir.ApplyRemoved(42)
	assert.Len(t, dir.Rooms(), 1)
}

func TestOnChange_FiresOnMerges(t *testing.T) {
	dir := New(nil)

	var calls int
	dir.OnChange(func([]models.Room) { calls++ })

	dir.ApplyCreated(models.Room{ID: 1, Name: "a"})
	dir.ApplyCreated(models.Room{ID: 1, Name: "duplicate"})
	dir.ApplyRemoved(1)

	// The duplicate create is suppressed and fires nothing.
	assert.Equal(t, 2, calls)
}
