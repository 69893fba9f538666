package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"solvegate/internal/quota"
	"solvegate/internal/service"
	"solvegate/internal/validation"
)

// ErrorResponse is the JSON body of every error
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	UpgradeHint string `json:"upgrade_hint,omitempty"`
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, code, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(context.Background(), level, logMsg, "status", status, "error", err)
	}

	respondJSON(w, status, ErrorResponse{Error: code, Message: userMsg})
}

func respondGatewayError(w http.ResponseWriter, gerr *service.GatewayError) {
	status := gerr.HTTPStatus()
	if status >= http.StatusInternalServerError && gerr.Err != nil {
		slog.Error("solve failed", "kind", gerr.Kind.String(), "status", status, "error", gerr.Err)
	}
	respondJSON(w, status, ErrorResponse{
		Error:       gerr.Code(),
		Message:     gerr.Message,
		UpgradeHint: gerr.UpgradeHint,
	})
}

// respondServiceError maps errors returned by the service layer
func respondServiceError(w http.ResponseWriter, logMsg string, err error) {
	var gerr *service.GatewayError
	var ve validation.ValidationError

	switch {
	case errors.As(err, &gerr):
		respondGatewayError(w, gerr)
	case errors.As(err, &ve):
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, ve.Error(), "", nil)
	case errors.Is(err, service.ErrUnauthenticated):
		respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, ErrUnauthorized, "", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, "Invalid email or password", "", nil)
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrAlreadyLinked):
		respondWithError(w, http.StatusConflict, CodeConflict, err.Error(), "", nil)
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, CodeNotFound, "User not found", "", nil)
	case errors.Is(err, quota.ErrStore):
		respondWithError(w, http.StatusInternalServerError, CodeStoreError, "Temporary storage problem. Please retry.", logMsg, err)
	default:
		respondWithError(w, http.StatusInternalServerError, CodeInternal, ErrInternalServerError, logMsg, err)
	}
}

// decodeJSON reads at most maxBytes of JSON from the request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body is too large", "", nil)
			return false
		}
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, ErrInvalidJSON, "", nil)
		return false
	}
	return true
}
