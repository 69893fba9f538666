package models

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a user's entitlement level
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// ParseTier validates and normalises a tier name
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, nil
	case TierPremium:
		return TierPremium, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

func (t Tier) IsPremium() bool {
	return t == TierPremium
}

// User is an account anchored to a device fingerprint
type User struct {
	ID              int64
	DeviceID        string
	Email           string // empty when no credential is linked
	PasswordHash    string
	Tier            Tier
	RequestsToday   int
	RequestsTotal   int64
	LastResetDate   string // YYYY-MM-DD in the quota time zone
	DeclaredAge     *int
	ParentalConsent bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasCredentials reports whether an email/password is linked
func (u *User) HasCredentials() bool {
	return u.Email != "" && u.PasswordHash != ""
}

// DeviceInfo is optional client metadata captured at authentication
type DeviceInfo struct {
	Platform   string `json:"platform"`
	Model      string `json:"model"`
	AppVersion string `json:"app_version"`
}

// Session represents an authenticated session. ID is the token's jti claim.
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	Device    DeviceInfo
	CreatedAt time.Time
}

// IsExpiredAt reports whether the session is no longer valid at now.
// A session is valid only while now is strictly before its expiry.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// QuotaState is the caller-facing view of today's consumption
type QuotaState struct {
	Tier      Tier   `json:"tier"`
	Used      int    `json:"requests_today"`
	Limit     int    `json:"daily_limit"` // 0 when unlimited
	Remaining int    `json:"remaining"`   // -1 when unlimited
	Unlimited bool   `json:"unlimited"`
	Date      string `json:"date"`
}
