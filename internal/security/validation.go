// Package security validates user input and masks secrets before they
// reach logs.
package security

import (
	"regexp"
	"strings"
	"time"

	apperrors "chanlun-engine/internal/errors"
)

// MaxCodeLength bounds an instrument code.
const MaxCodeLength = 32

// Codes double as file names and store keys, so path separators, spaces
// and key delimiters are rejected.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func invalid(field, value, message string, sentinel error) error {
	return &apperrors.ValidationError{Field: field, Value: value, Message: message, Err: sentinel}
}

// ValidateCode checks an instrument code such as "600519", "sh600519" or
// "600519.SH".
func ValidateCode(code string) error {
	switch {
	case strings.TrimSpace(code) == "":
		return invalid("code", code, "code cannot be empty", apperrors.ErrInvalidCode)
	case len(code) > MaxCodeLength:
		return invalid("code", code, "code too long", apperrors.ErrInvalidCode)
	case !codePattern.MatchString(code):
		return invalid("code", code, "code may only contain letters, digits, '.', '_' and '-'", apperrors.ErrInvalidCode)
	case strings.Contains(code, ".."):
		return invalid("code", code, "code may not contain '..'", apperrors.ErrInvalidCode)
	}
	return nil
}

// ValidateCodes checks every code and returns the first failure.
func ValidateCodes(codes []string) error {
	for _, c := range codes {
		if err := ValidateCode(c); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDate checks a YYYY-MM-DD run date.
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return invalid("date", date, "want YYYY-MM-DD", nil)
	}
	return nil
}
