package security

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")
	sessionID := NewSessionID()
	expires := time.Now().Add(time.Hour)

	token, err := issuer.Issue(42, sessionID, expires)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.WithinDuration(t, expires, claims.ExpiresAt, time.Second)
}

func TestTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")
	now := time.Now()

	good, err := issuer.Issue(1, "sess", now.Add(time.Hour))
	require.NoError(t, err)
	forged, err := NewTokenIssuer("other-secret").Issue(1, "sess", now.Add(time.Hour))
	require.NoError(t, err)
	expired, err := issuer.Issue(1, "sess", now.Add(-time.Minute))
	require.NoError(t, err)
	noID, err := issuer.Issue(1, "", now.Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong signature", forged},
		{"expired", expired},
		{"missing session id", noID},
		{"tampered", good[:len(good)-2] + "xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenExpiresWithClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("s").WithClock(func() time.Time { return now })

	token, err := issuer.Issue(7, "sess", now.Add(30*24*time.Hour))
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	require.NoError(t, err)

	now = now.Add(30 * 24 * time.Hour)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	hash2, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)

	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, CheckPassword("correct horse", "not-a-hash"))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute).WithClock(func() time.Time { return now })
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("1.2.3.4")
		assert.True(t, ok)
	}

	ok, retryAfter := rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	// Other addresses have their own bucket
	ok, _ = rl.Allow("5.6.7.8")
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, retryAfter = rl.Allow("1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retryAfter)

	now = now.Add(40 * time.Second)
	ok, _ = rl.Allow("1.2.3.4")
	assert.True(t, ok)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute).WithClock(func() time.Time { return now })
	rl.Stop()
	rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	assert.Equal(t, 2, rl.Len())

	now = now.Add(3 * time.Minute)
	rl.Allow("b")
	rl.sweep()
	assert.Equal(t, 1, rl.Len())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		trust      bool
		want       string
	}{
		{"remote addr host", "10.0.0.1:5555", "", "", false, "10.0.0.1"},
		{"ipv6 remote", "[::1]:8080", "", "", false, "::1"},
		{"untrusted forwarded ignored", "10.0.0.1:5555", "203.0.113.9", "", false, "10.0.0.1"},
		{"trusted first hop", "10.0.0.1:5555", "203.0.113.9, 10.0.0.2", "", true, "203.0.113.9"},
		{"trusted real ip", "10.0.0.1:5555", "", "198.51.100.4", true, "198.51.100.4"},
		{"no port", "10.0.0.1", "", "", false, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, GetClientIP(r, tt.trust))
		})
	}
}
