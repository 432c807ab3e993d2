// Package validation provides custom validation rules for the application.
package validation

import (
	"strings"
	"unicode"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/mqingest/internal/errors"
)

// maxQueueNameLength is the AMQP 0-9-1 short string limit, in bytes.
const maxQueueNameLength = 255

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// QueueName validates a broker queue name: at most 255 bytes and free of control characters.
var QueueName = validation.NewStringRuleWithError(
	func(s string) bool {
		if len(s) > maxQueueNameLength {
			return false
		}
		return !strings.ContainsFunc(s, unicode.IsControl)
	},
	validation.NewError("validation_queue_name", "must be a valid queue name"),
)
