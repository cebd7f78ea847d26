package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// User presence statuses pushed by the server.
const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// Session is the authenticated identity for this client process.
type Session struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"-"`
	Status   string `json:"status"`
}

type OnlineUser struct {
	ID       int       `json:"id"`
	Username string    `json:"username"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

func (u OnlineUser) IsOnline() bool {
	return u.Status != StatusOffline
}

// Avatar returns the initial(s) shown next to a username. Single names
// get one letter, "First Last" gets two.
func (u OnlineUser) Avatar() string {
	return Initials(u.Username)
}

func Initials(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "U"
	}
	parts := strings.Fields(name)
	first, _ := utf8.DecodeRuneInString(parts[0])
	if len(parts) == 1 {
		return strings.ToUpper(string(first))
	}
	last, _ := utf8.DecodeRuneInString(parts[len(parts)-1])
	return strings.ToUpper(string(first) + string(last))
}

func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	}
	return false
}
