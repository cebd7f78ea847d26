package models

import "time"

type Room struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedBy int       `json:"created_by"`
	IsJoined  bool      `json:"is_joined"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by both /login and /register.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Status      string `json:"status,omitempty"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}
