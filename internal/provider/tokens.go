package provider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates the token count of text
type Estimator func(text string) int

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// TiktokenEstimator counts with the model's BPE encoding, falling back to
// cl100k_base for unknown models and to ApproxTokens if no encoding loads.
func TiktokenEstimator(model string) Estimator {
	return func(text string) int {
		enc := encodingFor(model)
		if enc == nil {
			return ApproxTokens(text)
		}
		return len(enc.Encode(text, nil, nil))
	}
}

func encodingFor(model string) *tiktoken.Tiktoken {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// remember the miss
			encodingCache[model] = nil
			return nil
		}
	}
	encodingCache[model] = enc
	return enc
}

// ApproxTokens is the four-characters-per-token rule of thumb
func ApproxTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
