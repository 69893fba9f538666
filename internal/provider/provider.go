// Package provider defines the completion provider contract used by the
// gateway. Concrete adapters live in the subpackages.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is used when no SYSTEM_PROMPT is configured
const DefaultSystemPrompt = "You are a patient homework tutor. Explain the solution step by step " +
	"so the student can learn the method, then state the final answer clearly."

var (
	// ErrUpstream classifies every provider failure
	ErrUpstream = errors.New("upstream provider error")
	// ErrTimeout is an ErrUpstream raised when the call exceeded its deadline
	ErrTimeout = fmt.Errorf("%w: timeout", ErrUpstream)
	// ErrResponseTooLarge is an ErrUpstream raised when the body exceeded the size cap
	ErrResponseTooLarge = fmt.Errorf("%w: response too large", ErrUpstream)
)

// Image is an optional picture of the problem
type Image struct {
	MimeType string
	Data     []byte
}

// Request is one completion call
type Request struct {
	SystemPrompt string
	Subject      string
	Question     string
	Image        *Image
	MaxTokens    int
}

// Response is a successful completion
type Response struct {
	Text       string
	TokensUsed int
	Model      string
}

// Provider produces a completion for a question
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Wrap classifies err as an upstream failure; deadline errors become ErrTimeout
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// UserPrompt renders the subject and question as the user turn
func UserPrompt(subject, question string) string {
	var b strings.Builder
	if subject != "" {
		b.WriteString("Subject: ")
		b.WriteString(subject)
		b.WriteString("\n\n")
	}
	b.WriteString(question)
	return b.String()
}

// SystemPromptOrDefault returns p, or DefaultSystemPrompt when p is blank
func SystemPromptOrDefault(p string) string {
	if strings.TrimSpace(p) == "" {
		return DefaultSystemPrompt
	}
	return p
}
