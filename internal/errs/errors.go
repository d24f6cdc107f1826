// Package errs defines sentinel errors shared by the grooved packages.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrEmptyPlaylist      = errors.New("playlist is empty")
	ErrEffectsUnavailable = errors.New("effects pipeline is unavailable")
	ErrPlaybackRejected   = errors.New("playback start rejected")
	ErrNotFound           = errors.New("not found")
)

// PlayerError wraps errors with the operation and locator involved
type PlayerError struct {
	Op      string // Operation that failed
	Locator string // Source locator if applicable
	Err     error  // Underlying error
}

func (e *PlayerError) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Locator, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// NewPlayerError creates a new PlayerError
func NewPlayerError(op, locator string, err error) *PlayerError {
	return &PlayerError{Op: op, Locator: locator, Err: err}
}
