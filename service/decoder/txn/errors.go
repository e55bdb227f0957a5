package txn

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope   = errors.New("malformed transaction envelope")
	ErrMissingField        = errors.New("missing required field")
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrUnsupportedVersion  = errors.New("unsupported transaction version")
	ErrUnsupportedEncoding = errors.New("unsupported transaction encoding")
)

// NormalizationError reports an envelope that cannot be turned into a Transaction.
// The whole transaction is unprocessable and should be dead-lettered.
type NormalizationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize: %s (%s): %v", e.Reason, e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

func normErr(sentinel error, field, format string, args ...interface{}) *NormalizationError {
	return &NormalizationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Err:    sentinel,
	}
}

// IsNormalizationError reports whether err is (or wraps) a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
