package handlers

import (
	"net/http"

	"solvegate/internal/models"
	"solvegate/internal/service"
)

// AdminHandler serves operator-only routes
type AdminHandler struct {
	entitlements *service.EntitlementService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(entitlements *service.EntitlementService) *AdminHandler {
	return &AdminHandler{entitlements: entitlements}
}

type entitlementRequest struct {
	UserID int64  `json:"user_id"`
	Tier   string `json:"tier"`
}

// EntitlementResponse confirms a tier change
type EntitlementResponse struct {
	UserID int64       `json:"user_id"`
	Tier   models.Tier `json:"tier"`
}

// SetEntitlement is called by the purchase flow after a purchase or refund
func (h *AdminHandler) SetEntitlement(w http.ResponseWriter, r *http.Request) {
	var req entitlementRequest
	if !decodeJSON(w, r, &req, maxJSONBodyBytes) {
		return
	}
	if req.UserID <= 0 {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, "user_id is required", "", nil)
		return
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), "", nil)
		return
	}

	user, err := h.entitlements.SetEntitlement(r.Context(), req.UserID, tier)
	if err != nil {
		respondServiceError(w, "failed to set entitlement", err)
		return
	}
	respondJSON(w, http.StatusOK, EntitlementResponse{UserID: user.ID, Tier: user.Tier})
}
