package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/logging"
)

const (
	usersCollection    = "users"
	emailsCollection   = "userEmails"
	sessionsCollection = "sessions"
)

var (
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrUserNotFound        = errors.New("user not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrInvalidRegistration = errors.New("invalid registration")
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is stored per login. Only a hash of the refresh token is kept.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	RefreshTokenHash string    `json:"refresh_token_hash"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
}

// ClientInfo describes where a login came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Tokens is the result of a login or refresh.
type Tokens struct {
	SessionID     string
	AccessToken   string
	AccessExpiry  time.Time
	RefreshToken  string
	RefreshExpiry time.Time
}

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"max=120"`
}

var validate = validator.New()

// Service manages users and their login sessions in the document store.
type Service struct {
	store  store.Store
	jwt    *JWTService
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(s store.Store, jwt *JWTService) *Service {
	return &Service{
		store:  s,
		jwt:    jwt,
		logger: logging.For("auth"),
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashToken creates a SHA-256 hash of a value for use as a key or for
// storage in place of a secret.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func emailPath(email string) string {
	return store.Join(emailsCollection, hashToken(email))
}

// Register creates a user. The email is reserved with an atomic update
// first so two concurrent registrations cannot both succeed.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           store.NewKey(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	err = s.store.AtomicUpdate(ctx, emailPath(u.Email), func(current json.RawMessage) (any, error) {
		if current != nil {
			return nil, ErrEmailTaken
		}
		return map[string]string{"user_id": u.ID}, nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.Write(ctx, store.Join(usersCollection, u.ID), u); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), emailPath(u.Email)); derr != nil {
			s.logger.Error().Err(derr).Str("user_id", u.ID).Msg("failed to release email reservation")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info().Str("user_id", u.ID).Msg("user registered")
	return u, nil
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	raw, err := s.store.Read(ctx, emailPath(normalizeEmail(email)))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	var reservation struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &reservation); err != nil {
		return nil, fmt.Errorf("malformed email reservation: %w", err)
	}

	u, err := s.GetUser(ctx, reservation.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, ErrUserNotFound
	}
	raw, err := s.store.Read(ctx, store.Join(usersCollection, id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("malformed user %s: %w", id, err)
	}
	return &u, nil
}

// StartSession issues tokens for u and stores a new session.
func (s *Service) StartSession(ctx context.Context, u *User, client ClientInfo) (*Tokens, error) {
	sessionID := store.NewKey()

	accessToken, accessExpiry, err := s.jwt.GenerateAccessToken(u.ID, u.Email, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, refreshExpiry, err := s.jwt.GenerateRefreshToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	session := Session{
		ID:               sessionID,
		UserID:           u.ID,
		RefreshTokenHash: hashToken(refreshToken),
		ExpiresAt:        refreshExpiry,
		CreatedAt:        s.now().UTC(),
		IPAddress:        client.IPAddress,
		UserAgent:        client.UserAgent,
	}
	if err := s.store.Write(ctx, store.Join(sessionsCollection, sessionID), session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &Tokens{
		SessionID:     sessionID,
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  refreshToken,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Refresh rotates a session: the old one is removed and a new one issued.
func (s *Service) Refresh(ctx context.Context, sessionID, refreshToken string, client ClientInfo) (*Tokens, *User, error) {
	userID, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return nil, nil, ErrSessionNotFound
	}

	path := store.Join(sessionsCollection, sessionID)
	raw, err := s.store.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, nil, fmt.Errorf("malformed session %s: %w", sessionID, err)
	}

	if s.now().After(session.ExpiresAt) {
		_ = s.store.Delete(ctx, path)
		return nil, nil, ErrSessionExpired
	}
	if session.UserID != userID || hashToken(refreshToken) != session.RefreshTokenHash {
		return nil, nil, ErrInvalidToken
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.Delete(ctx, path); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to remove old session: %w", err)
	}
	tokens, err := s.StartSession(ctx, u, client)
	if err != nil {
		return nil, nil, err
	}
	return tokens, u, nil
}

// EndSession removes a session. Unknown sessions are ignored.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return nil
	}
	err := s.store.Delete(ctx, store.Join(sessionsCollection, sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
