// Package validation provides input validation for the escrow API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

var (
	// keyRegex validates ledger identities (payout key, oracle key,
	// script address): 0x-prefixed 40-hex addresses.
	keyRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// courseIDRegex validates course identifiers.
	courseIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidKey checks if a string is a valid ledger identity
func IsValidKey(key string) bool {
	return keyRegex.MatchString(key)
}

// IsValidCourseID checks if a string is a well-formed course identifier
func IsValidCourseID(id string) bool {
	return courseIDRegex.MatchString(id)
}

// IsValidAmount checks if a string is a base-unit integer amount.
// Leading signs, decimals, and non-digits are rejected; monetary
// values never travel as floating point.
func IsValidAmount(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SanitizeString trims whitespace, strips null bytes, and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidKey checks if a field is a valid ledger identity.
// Empty values pass; combine with Required for required fields.
func ValidKey(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidKey(value) {
			return &ValidationError{Field: field, Message: "must be a valid ledger key (0x + 40 hex chars)"}
		}
		return nil
	}
}

// ValidCourseID checks if a field is a well-formed course identifier
func ValidCourseID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCourseID(value) {
			return &ValidationError{Field: field, Message: "must be 1-64 chars: letters, digits, - or _"}
		}
		return nil
	}
}

// ValidAmount checks if a field is a positive base-unit integer amount
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAmount(value) {
			return &ValidationError{Field: field, Message: "must be a base-unit integer string"}
		}
		allZero := true
		for _, c := range value {
			if c != '0' {
				allZero = false
				break
			}
		}
		if allZero {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// CourseParamMiddleware validates the :courseId URL parameter on routes
// that use it. Rejects malformed identifiers before any handler runs.
func CourseParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("courseId")
		if id != "" && !IsValidCourseID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_course_id",
				"message": "courseId must be 1-64 chars: letters, digits, - or _",
			})
			return
		}
		c.Next()
	}
}
