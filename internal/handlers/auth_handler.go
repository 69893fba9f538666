package handlers

import (
	"net/http"
	"time"

	"solvegate/internal/models"
	"solvegate/internal/service"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService *service.AuthService
	gateway     *service.GatewayService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, gateway *service.GatewayService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		gateway:     gateway,
	}
}

type authRequest struct {
	DeviceID string            `json:"device_id"`
	Device   models.DeviceInfo `json:"device"`
}

type loginRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Device   models.DeviceInfo `json:"device"`
}

// AuthResponse is returned by /auth and /auth/login
type AuthResponse struct {
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	ExpiresAt time.Time         `json:"expires_at"`
	UserID    int64             `json:"user_id"`
	Quota     models.QuotaState `json:"quota"`
}

// Authenticate exchanges a device fingerprint for a session token
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !decodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	issued, err := h.authService.Authenticate(r.Context(), req.DeviceID, req.Device)
	if err != nil {
		respondServiceError(w, "failed to authenticate device", err)
		return
	}
	h.respondIssued(w, issued)
}

// Login exchanges an email and password for a session token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	issued, err := h.authService.Login(r.Context(), req.Email, req.Password, req.Device)
	if err != nil {
		respondServiceError(w, "failed to log in", err)
		return
	}
	h.respondIssued(w, issued)
}

// Logout revokes the caller's session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := GetSessionFromContext(r.Context())
	if session == nil {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, ErrUnauthorized, "", nil)
		return
	}

	if err := h.authService.Revoke(r.Context(), session.ID); err != nil {
		respondServiceError(w, "failed to revoke session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the caller, signing out all devices
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, ErrUnauthorized, "", nil)
		return
	}

	if _, err := h.authService.RevokeAll(r.Context(), user.ID); err != nil {
		respondServiceError(w, "failed to revoke sessions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) respondIssued(w http.ResponseWriter, issued *service.Issued) {
	respondJSON(w, http.StatusOK, AuthResponse{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresAt: issued.Session.ExpiresAt,
		UserID:    issued.User.ID,
		Quota:     h.gateway.QuotaState(issued.User),
	})
}
