package notify

import "errors"

// PermanentError marks delivery failures that are not retryable.
// Params: wrapped root cause.
// Returns: typed permanent error marker.
type PermanentError struct {
	Err error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent delivery error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks error as non-retryable.
// Params: none.
// Returns: true.
func (PermanentError) Permanent() bool {
	return true
}

// MarkPermanent wraps error with permanent marker.
// Params: source error.
// Returns: wrapped error or nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether error has permanent marker.
// Params: candidate error.
// Returns: true when retrying cannot succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
