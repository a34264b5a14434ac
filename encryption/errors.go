package encryption

import "errors"

// ErrIntegrity is the sentinel every ballot opening failure unwraps to.
var ErrIntegrity = errors.New("ballot integrity check failed")

// IntegrityError describes why a sealed ballot could not be opened. The
// underlying cipher error, if any, is kept for logging only.
type IntegrityError struct {
	Reason string
	Cause  error
}

func integrityFailure(reason string, cause error) *IntegrityError {
	return &IntegrityError{Reason: reason, Cause: cause}
}

func (e *IntegrityError) Error() string {
	if e.Cause != nil {
		return ErrIntegrity.Error() + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return ErrIntegrity.Error() + ": " + e.Reason
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
