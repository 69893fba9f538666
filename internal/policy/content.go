// Package policy implements the content gate that screens questions for
// signs of active-exam misuse before any paid call is made.
package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultMessage is shown to the caller when a question is blocked
const DefaultMessage = "This looks like it may be part of a live exam or a confidential assessment. " +
	"Please use this service for homework and study only."

// DefaultPatterns are matched case-insensitively against the question text
var DefaultPatterns = []string{
	`\b(final|midterm|mid-term|live|online|current)\s+(exam|test|quiz|assessment)\b`,
	`\bexam\s+(is\s+)?(happening|going on|right now|in progress)\b`,
	`\b(test|exam|quiz)\s+is\s+live\b`,
	`\bproctor(ed|ing)?\b`,
	`\bdo\s+not\s+(share|distribute|copy)\b`,
	`\bdon'?t\s+(share|distribute)\b`,
	`\bconfidential\b`,
	`\b(timed|closed[- ]book)\s+(exam|test|quiz)\b`,
	`\bhonou?r\s+code\b`,
}

// Verdict is the outcome of Evaluate
type Verdict struct {
	Allowed bool
	Reason  string // user-facing message when blocked
	Pattern string // the pattern that matched, for logs
}

// Gate evaluates questions against a compiled pattern set. It is safe for
// concurrent use and has no side effects.
type Gate struct {
	patterns []*regexp.Regexp
	message  string
}

// Rules is the YAML shape of a content policy file
type Rules struct {
	Patterns []string `yaml:"patterns"`
	Message  string   `yaml:"message"`
}

// NewGate compiles patterns; an empty message selects DefaultMessage
func NewGate(patterns []string, message string) (*Gate, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid content pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	if message == "" {
		message = DefaultMessage
	}
	return &Gate{patterns: compiled, message: message}, nil
}

// Default returns a gate using DefaultPatterns
func Default() *Gate {
	g, err := NewGate(DefaultPatterns, "")
	if err != nil {
		panic(err)
	}
	return g
}

// Load returns the gate described by the YAML file at path, or Default when path is empty
func Load(path string) (*Gate, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content policy: %w", err)
	}
	return Parse(data)
}

// Parse builds a gate from YAML. A document with no patterns keeps the defaults.
func Parse(data []byte) (*Gate, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse content policy: %w", err)
	}
	patterns := rules.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return NewGate(patterns, rules.Message)
}

// Evaluate checks question against every pattern
func (g *Gate) Evaluate(question string) Verdict {
	for _, re := range g.patterns {
		if re.MatchString(question) {
			return Verdict{Allowed: false, Reason: g.message, Pattern: re.String()}
		}
	}
	return Verdict{Allowed: true}
}

// Message returns the user-facing block message
func (g *Gate) Message() string {
	return g.message
}
