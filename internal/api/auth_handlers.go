package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/auth"
	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/logging"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	sessionCookie = "session_id"

	refreshCookiePath = "/api/auth/refresh"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	users  *auth.Service
	carts  *cart.Registry
	logger zerolog.Logger
}

// NewAuthHandlers creates a new AuthHandlers instance. Carts are keyed by
// login session, so logout and refresh keep the registry in step.
func NewAuthHandlers(users *auth.Service, carts *cart.Registry) *AuthHandlers {
	return &AuthHandlers{
		users:  users,
		carts:  carts,
		logger: logging.For("api"),
	}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message,omitempty"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *auth.User) UserResponse {
	return UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
}

// Register handles user registration
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Register(r.Context(), req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if !h.startSession(w, r, u) {
		return
	}
	respondJSON(w, http.StatusCreated, AuthResponse{
		User:    toUserResponse(u),
		Message: "Registration successful",
	})
}

// Login handles user login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if !h.startSession(w, r, u) {
		return
	}
	respondJSON(w, http.StatusOK, AuthResponse{
		User:    toUserResponse(u),
		Message: "Login successful",
	})
}

// Logout ends the session and discards its cart. It succeeds even when the
// caller is no longer authenticated.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		sessionID = claims.SessionID
	} else if cookie, err := r.Cookie(sessionCookie); err == nil {
		sessionID = cookie.Value
	}

	if sessionID != "" {
		if err := h.users.EndSession(r.Context(), sessionID); err != nil {
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to end session")
		}
		h.carts.Drop(sessionID)
	}

	clearAuthCookies(w)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Logout successful",
	})
}

// Refresh rotates the session. The cart moves to the new session id.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	refresh, err := r.Cookie(refreshCookie)
	if err != nil {
		respondJSONError(w, "No refresh token", http.StatusUnauthorized)
		return
	}
	session, err := r.Cookie(sessionCookie)
	if err != nil {
		clearAuthCookies(w)
		respondJSONError(w, "No session", http.StatusUnauthorized)
		return
	}

	tokens, _, err := h.users.Refresh(r.Context(), session.Value, refresh.Value, clientInfo(r))
	if err != nil {
		if statusFor(err) == http.StatusUnauthorized || statusFor(err) == http.StatusNotFound {
			clearAuthCookies(w)
			respondJSONError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		respondError(w, h.logger, err)
		return
	}

	h.carts.Move(session.Value, tokens.SessionID)
	setAuthCookies(w, r, tokens)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Token refreshed",
	})
}

// Me returns the current authenticated user's information
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	u, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *AuthHandlers) startSession(w http.ResponseWriter, r *http.Request, u *auth.User) bool {
	tokens, err := h.users.StartSession(r.Context(), u, clientInfo(r))
	if err != nil {
		respondError(w, h.logger, err)
		return false
	}
	setAuthCookies(w, r, tokens)
	return true
}

func setAuthCookies(w http.ResponseWriter, r *http.Request, tokens *auth.Tokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookie,
		Value:    tokens.AccessToken,
		Path:     "/",
		Expires:  tokens.AccessExpiry,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    tokens.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  tokens.RefreshExpiry,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tokens.SessionID,
		Path:     "/",
		Expires:  tokens.RefreshExpiry,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearAuthCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{accessCookie, "/"},
		{refreshCookie, refreshCookiePath},
		{sessionCookie, "/"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}
