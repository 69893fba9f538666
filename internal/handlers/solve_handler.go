package handlers

import (
	"net/http"

	"solvegate/internal/models"
	"solvegate/internal/service"
)

// SolveHandler serves the paid completion endpoint
type SolveHandler struct {
	gateway      *service.GatewayService
	maxBodyBytes int64
}

// NewSolveHandler creates a solve handler. Bodies may carry a base64 image
// of up to maxImageBytes.
func NewSolveHandler(gateway *service.GatewayService, maxImageBytes int64) *SolveHandler {
	return &SolveHandler{
		gateway:      gateway,
		maxBodyBytes: maxImageBytes*4/3 + maxJSONBodyBytes,
	}
}

type solveRequest struct {
	Question    string `json:"question"`
	Subject     string `json:"subject"`
	ImageBase64 string `json:"image_base64"`
	ImageMime   string `json:"image_mime"`
}

// SolveResponse is the body of a successful /solve
type SolveResponse struct {
	RecordID   int64             `json:"record_id,omitempty"`
	Solution   string            `json:"solution"`
	Remaining  int               `json:"remaining"`
	TokensUsed int               `json:"tokens_used"`
	CostUSD    float64           `json:"cost_usd"`
	Persisted  bool              `json:"persisted"`
	Quota      models.QuotaState `json:"quota"`
}

// Solve proxies one question to the completion provider
func (h *SolveHandler) Solve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if !decodeJSON(w, r, &req, h.maxBodyBytes) {
		return
	}

	result, err := h.gateway.Solve(r.Context(), GetUserFromContext(r.Context()), service.SolveInput{
		Question:    req.Question,
		Subject:     req.Subject,
		ImageBase64: req.ImageBase64,
		ImageMime:   req.ImageMime,
	})
	if err != nil {
		respondServiceError(w, "solve failed", err)
		return
	}

	respondJSON(w, http.StatusOK, SolveResponse{
		RecordID:   result.RecordID,
		Solution:   result.Solution,
		Remaining:  result.Remaining,
		TokensUsed: result.Tokens,
		CostUSD:    models.MicrosToUSD(result.CostMicros),
		Persisted:  result.Persisted,
		Quota:      result.Quota,
	})
}
