package models

import "time"

// RequestRecord is the immutable audit row for one completed provider call
type RequestRecord struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"-"`
	Question   string    `json:"question"`
	Subject    string    `json:"subject"`
	Solution   string    `json:"solution"`
	TokensUsed int       `json:"tokens_used"`
	CostMicros int64     `json:"cost_micros"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// CostUSD returns the record's cost in dollars
func (r *RequestRecord) CostUSD() float64 {
	return MicrosToUSD(r.CostMicros)
}

// DailyUsage is the system-wide per-day, per-endpoint aggregate
type DailyUsage struct {
	Day        string
	Endpoint   string
	Calls      int64
	Tokens     int64
	CostMicros int64
	UpdatedAt  time.Time
}

// MicrosToUSD converts micro-dollars to dollars
func MicrosToUSD(micros int64) float64 {
	return float64(micros) / 1e6
}

// USDToMicros converts dollars to micro-dollars, rounding to the nearest unit
func USDToMicros(usd float64) int64 {
	if usd < 0 {
		return -int64(-usd*1e6 + 0.5)
	}
	return int64(usd*1e6 + 0.5)
}
