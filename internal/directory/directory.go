package directory

import (
	"context"
	"fmt"
	"sync"

	"chatcord/internal/api"
	"chatcord/internal/models"
	"chatcord/pkg/logger"
)

// Directory owns the list of available rooms and membership
// operations. Request/response mutations refetch the full list rather
// than patching optimistically; server-pushed create/remove events are
// merged directly so multi-client views stay live without request
// storms.
//
// All mutations are serialized on one mutex, so overlapping join and
// leave calls cannot interleave their refetches: the last call wins.
type Directory struct {
	api *api.Client

	mu    sync.Mutex
	rooms []models.Room

	// onChange, when set, is invoked with a snapshot after every
	// change to the collection.
	onChange func([]models.Room)
}

func New(apiClient *api.Client) *Directory {
	return &Directory{api: apiClient}
}

// OnChange registers the change callback. Must be set before the
// directory is shared across goroutines.
func (d *Directory) OnChange(fn func([]models.Room)) {
	d.onChange = fn
}

// Rooms returns a snapshot of the current room collection.
func (d *Directory) Rooms() []models.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

// Get returns the room with the given id, if present.
func (d *Directory) Get(id int) (models.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, room := range d.rooms {
		if room.ID == id {
			return room, true
		}
	}
	return models.Room{}, false
}

// Fetch replaces the local collection with the server's current list.
// On failure the collection is left empty rather than stale, so the
// user never sees rooms they no longer have access to.
func (d *Directory) Fetch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchLocked(ctx)
}

func (d *Directory) fetchLocked(ctx context.Context) error {
	rooms, err := d.api.ListRooms(ctx)
	if err != nil {
		d.rooms = nil
		d.notify()
		return fmt.Errorf("failed to fetch rooms: %w", err)
	}
	d.rooms = rooms
	d.notify()
	return nil
}

// Join performs the membership change, then refreshes the full list.
func (d *Directory) Join(ctx context.Context, roomID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.api.JoinRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to join room %d: %w", roomID, err)
	}
	return d.fetchLocked(ctx)
}

// Leave performs the membership change, then refreshes the full list.
func (d *Directory) Leave(ctx context.Context, roomID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.api.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to leave room %d: %w", roomID, err)
	}
	return d.fetchLocked(ctx)
}

// Create creates a room, then refreshes the full list. The created
// room is returned for immediate selection.
func (d *Directory) Create(ctx context.Context, name string) (*models.Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	room, err := d.api.CreateRoom(ctx, &models.CreateRoomRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if err := d.fetchLocked(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// Delete removes a room, then refreshes the full list. Only the
// room's creator may delete it; the server enforces this, the UI only
// hides the control.
func (d *Directory) Delete(ctx context.Context, roomID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.api.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to delete room %d: %w", roomID, err)
	}
	return d.fetchLocked(ctx)
}

// ApplyCreated merges a server-pushed room_created event. Duplicate
// pushes (possible when the push and a refetch race) are suppressed
// by id.
func (d *Directory) ApplyCreated(room models.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.rooms {
		if existing.ID == room.ID {
			logger.Debug("Ignoring duplicate room_created for room %d", room.ID)
			return
		}
	}
	d.rooms = append(d.rooms, room)
	d.notify()
}

// ApplyRemoved merges a server-pushed room_removed event.
func (d *Directory) ApplyRemoved(roomID int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := d.rooms[:0]
	for _, room := range d.rooms {
		if room.ID != roomID {
			filtered = append(filtered, room)
		}
	}
	if len(filtered) == len(d.rooms) {
		return
	}
	d.rooms = filtered
	d.notify()
}

func (d *Directory) snapshot() []models.Room {
	rooms := make([]models.Room, len(d.rooms))
	copy(rooms, d.rooms)
	return rooms
}

func (d *Directory) notify() {
	if d.onChange != nil {
		d.onChange(d.snapshot())
	}
}
