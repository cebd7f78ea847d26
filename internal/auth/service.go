package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatcord/internal/api"
	"chatcord/internal/models"
	"chatcord/internal/store"
	"chatcord/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Service holds the authenticated session for this client process.
// Identity is persisted to the store on login and restored at startup
// so the UI is usable before any network round-trip.
type Service struct {
	store store.Store
	api   *api.Client

	mu      sync.RWMutex
	current *models.Session
}

func NewService(st store.Store, apiClient *api.Client) *Service {
	return &Service{
		store: st,
		api:   apiClient,
	}
}

// SetAPI attaches the API client. The client's token source is this
// service, so the two are wired in two steps.
func (s *Service) SetAPI(apiClient *api.Client) {
	s.api = apiClient
}

// Restore loads the persisted session, if any. An expired token is
// treated as no session: the user must log in again.
func (s *Service) Restore() *models.Session {
	token, err := s.store.Get(store.KeyAccessToken)
	if err != nil {
		return nil
	}
	username, err := s.store.Get(store.KeyUsername)
	if err != nil || username == "" {
		return nil
	}

	if expired, err := tokenExpired(token); err != nil {
		logger.Debug("Stored token not inspectable: %v", err)
	} else if expired {
		logger.Info("Stored token for %s has expired", username)
		return nil
	}

	session := &models.Session{
		Username: username,
		Token:    token,
		Status:   models.StatusOnline,
	}
	if email, err := s.store.Get(store.KeyEmail); err == nil {
		session.Email = email
	}
	if idStr, err := s.store.Get(store.KeyUserID); err == nil {
		if id, err := strconv.Atoi(idStr); err == nil {
			session.ID = id
		}
	}
	if status, err := s.store.Get(store.KeyStatus); err == nil && models.ValidStatus(status) {
		session.Status = status
	}

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()
	return session
}

func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	resp, err := s.api.Login(ctx, &models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	return s.adopt(resp)
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}

	resp, err := s.api.Register(ctx, &models.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	return s.adopt(resp)
}

func (s *Service) adopt(resp *models.LoginResponse) (*models.Session, error) {
	status := resp.Status
	if !models.ValidStatus(status) {
		status = models.StatusOnline
	}

	session := &models.Session{
		ID:       resp.ID,
		Username: resp.Username,
		Email:    resp.Email,
		Token:    resp.AccessToken,
		Status:   status,
	}

	writes := map[string]string{
		store.KeyAccessToken: session.Token,
		store.KeyUsername:    session.Username,
		store.KeyEmail:       session.Email,
		store.KeyUserID:      strconv.Itoa(session.ID),
		store.KeyStatus:      session.Status,
	}
	for key, value := range writes {
		if err := s.store.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()
	return session, nil
}

// Logout clears the session wholesale: identity keys, the selected
// room, and every cached message log.
func (s *Service) Logout() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	for _, key := range []string{
		store.KeyAccessToken,
		store.KeyUsername,
		store.KeyEmail,
		store.KeyUserID,
		store.KeyStatus,
		store.KeySelectedRoom,
	} {
		if err := s.store.Delete(key); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
	}

	return store.ClearMessageCaches(s.store)
}

func (s *Service) Current() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the current bearer token, or "" when logged out.
// Handed to the API client as its token source.
func (s *Service) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// SetStatus updates and persists the user's presence status.
func (s *Service) SetStatus(status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}

	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return errors.New("not logged in")
	}
	s.current.Status = status
	s.mu.Unlock()

	return s.store.Set(store.KeyStatus, status)
}

// tokenExpired inspects the token's exp claim without verifying the
// signature. The server is the verifier; the client only wants to
// know whether a round-trip is worth attempting.
func tokenExpired(tokenString string) (bool, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return false, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, fmt.Errorf("token has no expiry claim")
	}
	return exp.Before(time.Now()), nil
}

func validateRegistration(username, email, password string) error {
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("missing required fields")
	}

	if !isValidEmail(email) {
		return fmt.Errorf("invalid email format")
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	if len(username) < 3 || len(username) > 30 {
		return fmt.Errorf("username must be 3-30 characters long")
	}

	return nil
}

func isValidEmail(email string) bool {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	return emailRegex.MatchString(email)
}
