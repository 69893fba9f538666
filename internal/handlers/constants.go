package handlers

const (
	AuthorizationHeader = "Authorization"
	AdminTokenHeader    = "X-Admin-Token"
	bearerPrefix        = "Bearer "

	// maxJSONBodyBytes bounds request bodies that carry no image
	maxJSONBodyBytes = 64 << 10

	CodeInvalidRequest  = "invalid_request"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
	CodeStoreError      = "store_error"
	CodeUnavailable     = "service_unavailable"

	ErrInvalidJSON         = "Request body must be valid JSON"
	ErrUnauthorized        = "Authentication required"
	ErrInternalServerError = "Internal server error"
)
