package webhook

import "errors"

// Terminal failures (malformed payloads, references to entities that do not
// exist) still increment the attempt count but are excluded from automatic
// retry; only the explicit operator retry path re-runs them. Everything else
// is treated as transient and retried by the supervisor.

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the retry supervisor classifies it as
// non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was classified as a terminal processing
// failure.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
