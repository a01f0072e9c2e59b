package core_domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no post exists for the requested id.
	ErrNotFound = errors.New("post not found")
	// ErrInvalidTransition indicates the post is not in a state that allows the requested change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// PublishError is the normalized failure of a vendor publish call.
type PublishError struct {
	Platform string
	Reason   string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %s", e.Platform, e.Reason)
}

// NotFound wraps ErrNotFound with the missing id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// InvalidTransition wraps ErrInvalidTransition with the offending states.
func InvalidTransition(id string, from, to PostStatus) error {
	return fmt.Errorf("%w: post %s is %s, cannot become %s", ErrInvalidTransition, id, from, to)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
