// Package validate provides centralized input validation utilities for the
// ranking API. It includes basic protection against SQL injection and other
// malformed request input.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrSQLKeyword        = errors.New("string contains SQL keywords")
	ErrEmpty             = errors.New("string is empty")
)

// Common SQL keywords to detect potential SQL injection attempts
// This is a basic defense layer; parameterized queries are the primary defense
var sqlKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "EXEC", "EXECUTE", "UNION", "JOIN", "WHERE", "FROM",
	"--", "/*", "*/", ";--", "xp_", "sp_",
}

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength        int            // Minimum length (0 = no minimum)
	MaxLength        int            // Maximum length (0 = no maximum)
	AllowedPattern   *regexp.Regexp // Optional regex pattern for allowed characters
	CheckSQLKeywords bool           // Whether to check for SQL keywords
	AllowEmpty       bool           // Whether empty strings are allowed
	TrimSpace        bool           // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	// Optionally trim whitespace
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	// Check if empty
	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Get actual character count (not byte count)
	length := utf8.RuneCountInString(s)

	// Check minimum length
	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}

	// Check maximum length
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	// Check allowed pattern
	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	// Check SQL keywords if enabled
	if constraints.CheckSQLKeywords {
		if err := checkSQLKeywords(s); err != nil {
			return "", err
		}
	}

	return s, nil
}

// checkSQLKeywords checks if the string contains common SQL keywords.
// This is a basic heuristic check; parameterized queries are the real defense.
func checkSQLKeywords(s string) error {
	upper := strings.ToUpper(s)
	for _, keyword := range sqlKeywords {
		if strings.Contains(upper, keyword) {
			return fmt.Errorf("%w: contains %q", ErrSQLKeyword, keyword)
		}
	}
	return nil
}

var (
	userIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_\-\.:@]+$`)
	regionPattern   = regexp.MustCompile(`^[A-Za-z]{2}(-[A-Za-z0-9]+)?$`)
	currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// UserID validates a user identifier:
// - 1-128 characters
// - Letters, numbers, underscore, dash, period, colon, at-sign only
// The keyword heuristic is for free-text fields and is not applied here;
// ordinary names ("joiner", "updater42") contain SQL keywords as
// substrings, and the allowed charset excludes injection metacharacters.
func UserID(id string) (string, error) {
	return String(id, StringConstraints{
		MinLength:      1,
		MaxLength:      128,
		AllowedPattern: userIDPattern,
		AllowEmpty:     false,
		TrimSpace:      true,
	})
}

// Region validates an optional region hint such as "US" or "eu-west".
func Region(region string) (string, error) {
	return String(region, StringConstraints{
		MaxLength:      16,
		AllowedPattern: regionPattern,
		AllowEmpty:     true,
		TrimSpace:      true,
	})
}

// Currency validates an optional ISO 4217 currency code. The returned
// value is uppercased.
func Currency(code string) (string, error) {
	validated, err := String(code, StringConstraints{
		AllowedPattern: currencyPattern,
		AllowEmpty:     true,
		TrimSpace:      true,
	})
	if err != nil {
		return "", err
	}
	return strings.ToUpper(validated), nil
}
