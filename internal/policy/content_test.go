package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGate(t *testing.T) {
	gate := Default()

	tests := []struct {
		question string
		allowed  bool
	}{
		{"this is for my final exam, do not share", false},
		{"THIS IS FOR MY FINAL EXAM", false},
		{"my proctored quiz asks for the derivative of x^2", false},
		{"The test is live, quick: what is 7*8?", false},
		{"Confidential: question 3 of the assessment", false},
		{"don't share this but what's the capital of France", false},
		{"closed-book exam question: define entropy", false},
		{"What is the derivative of x^2?", true},
		{"Help me study for next week's exam on photosynthesis", true},
		{"Explain how to balance H2 + O2 -> H2O", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			v := gate.Evaluate(tt.question)
			assert.Equal(t, tt.allowed, v.Allowed)
			if !tt.allowed {
				assert.Equal(t, DefaultMessage, v.Reason)
				assert.NotEmpty(t, v.Pattern)
			} else {
				assert.Empty(t, v.Reason)
			}
		})
	}
}

func TestParse(t *testing.T) {
	gate, err := Parse([]byte("patterns:\n  - '\\bsecret\\b'\nmessage: homework only\n"))
	require.NoError(t, err)

	v := gate.Evaluate("this is SECRET")
	assert.False(t, v.Allowed)
	assert.Equal(t, "homework only", v.Reason)

	// Replaces the defaults
	assert.True(t, gate.Evaluate("final exam").Allowed)
}

func TestParseKeepsDefaultsWithoutPatterns(t *testing.T) {
	gate, err := Parse([]byte("message: study only\n"))
	require.NoError(t, err)
	v := gate.Evaluate("final exam help")
	assert.False(t, v.Allowed)
	assert.Equal(t, "study only", gate.Message())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("patterns: [unclosed"))
	assert.Error(t, err)

	_, err = Parse([]byte("patterns:\n  - '(unbalanced'\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	gate, err := Load("")
	require.NoError(t, err)
	assert.False(t, gate.Evaluate("final exam").Allowed)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns: ['quiz']\n"), 0o600))
	gate, err = Load(path)
	require.NoError(t, err)
	assert.False(t, gate.Evaluate("pop QUIZ").Allowed)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
