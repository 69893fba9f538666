package handlers

import (
	"net/http"
	"strconv"

	"solvegate/internal/models"
	"solvegate/internal/service"
)

// AccountHandler serves the caller's own account, profile and history
type AccountHandler struct {
	authService *service.AuthService
	gateway     *service.GatewayService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(authService *service.AuthService, gateway *service.GatewayService) *AccountHandler {
	return &AccountHandler{
		authService: authService,
		gateway:     gateway,
	}
}

// MeResponse describes the authenticated user
type MeResponse struct {
	UserID          int64             `json:"user_id"`
	Tier            models.Tier       `json:"tier"`
	Email           string            `json:"email,omitempty"`
	HasCredentials  bool              `json:"has_credentials"`
	DeclaredAge     *int              `json:"declared_age,omitempty"`
	ParentalConsent bool              `json:"parental_consent"`
	RequestsTotal   int64             `json:"requests_total"`
	Quota           models.QuotaState `json:"quota"`
}

type profileRequest struct {
	DeclaredAge     *int  `json:"declared_age"`
	ParentalConsent *bool `json:"parental_consent"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Me returns the caller's tier and quota state
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.me(GetUserFromContext(r.Context())))
}

// UpdateProfile sets the declared age and parental consent flag
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	user, err := h.gateway.UpdateProfile(r.Context(), GetUserFromContext(r.Context()), req.DeclaredAge, req.ParentalConsent)
	if err != nil {
		respondServiceError(w, "failed to update profile", err)
		return
	}
	respondJSON(w, http.StatusOK, h.me(user))
}

// LinkCredentials attaches an email and password to the caller's account
func (h *AccountHandler) LinkCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}

	if err := h.authService.LinkCredentials(r.Context(), GetUserFromContext(r.Context()), req.Email, req.Password); err != nil {
		respondServiceError(w, "failed to link credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History lists the caller's request records, newest first
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	page, err := h.gateway.History(r.Context(), GetUserFromContext(r.Context()), limit, offset)
	if err != nil {
		respondServiceError(w, "failed to load history", err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *AccountHandler) me(user *models.User) MeResponse {
	return MeResponse{
		UserID:          user.ID,
		Tier:            user.Tier,
		Email:           user.Email,
		HasCredentials:  user.HasCredentials(),
		DeclaredAge:     user.DeclaredAge,
		ParentalConsent: user.ParentalConsent,
		RequestsTotal:   user.RequestsTotal,
		Quota:           h.gateway.QuotaState(user),
	}
}

// queryInt parses an optional non-negative integer query parameter
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, name+" must be a non-negative integer", "", nil)
		return 0, false
	}
	return n, true
}
