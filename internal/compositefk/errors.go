package compositefk

import (
	"errors"
	"fmt"

	"github.com/roach88/compositefk/internal/queryir"
)

// ConfigurationError reports a malformed composite reference declaration.
// It is returned when a mapping is built or reconstructed, and when a
// resolution matches more than one remote row.
type ConfigurationError struct {
	// Remote is the remote entity of the offending mapping, when known.
	Remote string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Remote == "" {
		return "compositefk: " + e.Message
	}
	return fmt.Sprintf("compositefk: reference to %s: %s", e.Remote, e.Message)
}

func configErrorf(remote, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Remote: remote, Message: fmt.Sprintf(format, args...)}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// RelatedObjectNotFoundError reports that a reference expected exactly one
// remote row and found none.
type RelatedObjectNotFoundError struct {
	// Entity and Field name the reference on the local side.
	Entity string
	Field  string

	// Remote is the entity that was searched.
	Remote string

	// Query is the lookup that returned no row. It is nil when the lookup
	// was skipped because a local column was NULL.
	Query queryir.Query
}

// Error implements the error interface.
func (e *RelatedObjectNotFoundError) Error() string {
	return fmt.Sprintf("%s.%s: related %s does not exist", e.Entity, e.Field, e.Remote)
}

// IsRelatedObjectNotFound returns true if the error is a
// RelatedObjectNotFoundError.
// Uses errors.As to handle wrapped errors.
func IsRelatedObjectNotFound(err error) bool {
	var nf *RelatedObjectNotFoundError
	return errors.As(err, &nf)
}
