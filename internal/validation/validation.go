package validation

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	subjectRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9 _\-]*$`)
)

// DefaultSubject is used when the caller names none
const DefaultSubject = "general"

const (
	maxDeviceIDLength = 255
	maxSubjectLength  = 64
	maxDeclaredAge    = 130
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

// ValidatePassword checks if a password meets requirements
func ValidatePassword(password string) error {
	if password == "" {
		return ValidationError{Field: "password", Message: "password is required"}
	}
	if len(password) < 8 {
		return ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}
	if len(password) > 72 {
		return ValidationError{Field: "password", Message: "password must be at most 72 bytes"}
	}
	return nil
}

// ValidateDeviceID checks a device fingerprint
func ValidateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return ValidationError{Field: "device_id", Message: "device_id is required"}
	}
	if len(deviceID) > maxDeviceIDLength {
		return ValidationError{Field: "device_id", Message: "device_id is too long"}
	}
	for _, r := range deviceID {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return ValidationError{Field: "device_id", Message: "device_id contains invalid characters"}
		}
	}
	return nil
}

// ValidateQuestion checks that a question is present and at most maxChars characters
func ValidateQuestion(question string, maxChars int) error {
	if strings.TrimSpace(question) == "" {
		return ValidationError{Field: "question", Message: "question is required"}
	}
	if !utf8.ValidString(question) {
		return ValidationError{Field: "question", Message: "question must be valid UTF-8"}
	}
	if maxChars > 0 && utf8.RuneCountInString(question) > maxChars {
		return ValidationError{Field: "question", Message: fmt.Sprintf("question must be at most %d characters", maxChars)}
	}
	return nil
}

// NormalizeSubject lower-cases and trims a subject; blank becomes DefaultSubject
func NormalizeSubject(subject string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(subject))
	if s == "" {
		return DefaultSubject, nil
	}
	if len(s) > maxSubjectLength || !subjectRegex.MatchString(s) {
		return "", ValidationError{Field: "subject", Message: "invalid subject"}
	}
	return s, nil
}

// DecodeImage decodes a base64 image and checks its type and size. The mime
// type is sniffed when not given. An empty payload returns nil data.
func DecodeImage(encoded, mimeType string, maxBytes int64) ([]byte, string, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, "", nil
	}
	if i := strings.Index(encoded, ";base64,"); strings.HasPrefix(encoded, "data:") && i > 0 {
		if mimeType == "" {
			mimeType = encoded[len("data:"):i]
		}
		encoded = encoded[i+len(";base64,"):]
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > maxBytes+2 {
		return nil, "", ValidationError{Field: "image", Message: "image is too large"}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", ValidationError{Field: "image", Message: "image is not valid base64"}
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", ValidationError{Field: "image", Message: "image is too large"}
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !allowedImageTypes[mimeType] {
		return nil, "", ValidationError{Field: "image", Message: "unsupported image type"}
	}
	return data, mimeType, nil
}

// ValidateAge checks a declared age
func ValidateAge(age int) error {
	if age < 0 || age > maxDeclaredAge {
		return ValidationError{Field: "declared_age", Message: "declared_age is out of range"}
	}
	return nil
}
