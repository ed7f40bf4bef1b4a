package models

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/neilberkman/chatsync/internal/core/apperr"
)

// Input limits, counted in runes after sanitization
const (
	MaxTitleLength    = 100
	MaxMessageLength  = 1000
	MaxEmailLength    = 254
	MinPasswordLength = 6
	MaxPasswordLength = 128
)

const validateOp = "validate"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func errRequired(field string) error {
	return apperr.Validation(validateOp, field, "is required")
}

// ValidateTitle normalizes a conversation title and checks its length.
// Titles are single-line: runs of whitespace collapse to one space.
func ValidateTitle(title string) (string, error) {
	clean := strings.Join(strings.Fields(stripControl(norm.NFC.String(title))), " ")
	n := utf8.RuneCountInString(clean)
	if n == 0 {
		return "", apperr.Validation(validateOp, "title", "cannot be empty")
	}
	if n > MaxTitleLength {
		return "", apperr.Validation(validateOp, "title", "is too long (max 100 characters)")
	}
	return clean, nil
}

// SanitizeMessage strips control characters and surrounding whitespace.
// Newlines and tabs are kept so markdown survives.
func SanitizeMessage(content string) string {
	content = norm.NFC.String(content)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(stripControl(content))
}

// ValidateMessage sanitizes content and checks its length
func ValidateMessage(content string) (string, error) {
	clean := SanitizeMessage(content)
	n := utf8.RuneCountInString(clean)
	if n == 0 {
		return "", apperr.Validation(validateOp, "content", "cannot be empty")
	}
	if n > MaxMessageLength {
		return "", apperr.Validation(validateOp, "content", "is too long (max 1000 characters)")
	}
	return clean, nil
}

// ValidateID checks that id is a well-formed conversation identifier
func ValidateID(id string) error {
	if id == "" {
		return errRequired("id")
	}
	if !IsValidUUID(id) {
		return apperr.Validation(validateOp, "id", "invalid format")
	}
	return nil
}

// IsValidUUID reports whether s is a canonical RFC 4122 UUID, versions 1-5
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	v := u.Version()
	return v >= 1 && v <= 5 && u.Variant() == uuid.RFC4122
}

// ValidateEmail checks an email address for sign-up and sign-in
func ValidateEmail(email string) error {
	if email == "" {
		return apperr.Validation(validateOp, "email", "is required")
	}
	if len(email) > MaxEmailLength {
		return apperr.Validation(validateOp, "email", "is too long")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Validation(validateOp, "email", "must be a valid email address")
	}
	return nil
}

// ValidatePassword checks password length bounds
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return apperr.Validation(validateOp, "password", "is required")
	case len(password) < MinPasswordLength:
		return apperr.Validation(validateOp, "password", "must be at least 6 characters long")
	case len(password) > MaxPasswordLength:
		return apperr.Validation(validateOp, "password", "is too long (max 128 characters)")
	}
	return nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
