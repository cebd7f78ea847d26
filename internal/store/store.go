package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"chatcord/internal/models"
	"chatcord/pkg/logger"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is the persistence port: a durable key-value space the client
// reads at startup and writes after state changes. Last writer wins.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	// Keys returns all stored keys with the given prefix.
	Keys(prefix string) ([]string, error)
	Close() error
}

// Storage keys. The identity keys are written on login and wiped on
// logout; the room and message keys follow the selected room.
const (
	KeyAccessToken  = "access_token"
	KeyUsername     = "username"
	KeyEmail        = "email"
	KeyUserID       = "id"
	KeyStatus       = "status"
	KeySelectedRoom = "chatcord_selectedRoom"

	messageKeyPrefix = "chatcord_messages_"
)

// MessageCacheLimit bounds the persisted per-room message snapshot.
// The in-memory log is not capped, only what is written here.
const MessageCacheLimit = 100

func messageKey(roomID int) string {
	return messageKeyPrefix + strconv.Itoa(roomID)
}

// SaveMessages persists the most recent messages for a room, dropping
// the oldest entries beyond MessageCacheLimit.
func SaveMessages(s Store, roomID int, messages []models.Message) error {
	if len(messages) > MessageCacheLimit {
		messages = messages[len(messages)-MessageCacheLimit:]
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode message cache: %w", err)
	}
	return s.Set(messageKey(roomID), string(data))
}

// LoadMessages returns the cached message log for a room, or an empty
// slice when nothing is cached or the cache is unreadable.
func LoadMessages(s Store, roomID int) []models.Message {
	value, err := s.Get(messageKey(roomID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error("Error loading message cache for room %d: %v", roomID, err)
		}
		return []models.Message{}
	}

	var messages []models.Message
	if err := json.Unmarshal([]byte(value), &messages); err != nil {
		logger.Error("Corrupt message cache for room %d: %v", roomID, err)
		return []models.Message{}
	}
	return messages
}

// SaveSelectedRoom persists the selected room, or clears it when room
// is nil.
func SaveSelectedRoom(s Store, room *models.Room) error {
	if room == nil {
		return s.Delete(KeySelectedRoom)
	}
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode selected room: %w", err)
	}
	return s.Set(KeySelectedRoom, string(data))
}

// LoadSelectedRoom returns the persisted selected room, or nil.
func LoadSelectedRoom(s Store) *models.Room {
	value, err := s.Get(KeySelectedRoom)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error("Error loading selected room: %v", err)
		}
		return nil
	}

	var room models.Room
	if err := json.Unmarshal([]byte(value), &room); err != nil {
		logger.Error("Corrupt selected room entry: %v", err)
		return nil
	}
	return &room
}

// ClearMessageCaches removes every per-room message cache entry.
func ClearMessageCaches(s Store) error {
	keys, err := s.Keys(messageKeyPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
