package models

import "time"

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Message is the canonical chat message shape. Wire payloads come in
// several shapes and are normalized into this one before any state is
// touched. Messages are append-only once created.
type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Username    string       `json:"username"`
	Timestamp   time.Time    `json:"timestamp"`
	IsAI        bool         `json:"is_ai,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (m Message) Avatar() string {
	if m.IsAI {
		return "AI"
	}
	return Initials(m.Username)
}
