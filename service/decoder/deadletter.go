package decoder

import (
	"errors"
	"time"

	"github.com/brojonat/txdecode/service/decoder/txn"
)

// Dead-letter reasons.
const (
	ReasonNormalization = "normalization_error"
	ReasonFetch         = "fetch_error"
	ReasonStorage       = "storage_error"
	ReasonUnknown       = "unknown_error"
)

// DeadLetter is the record kept for a transaction that could not be decoded, so it can be
// inspected or retried without blocking the rest of a batch.
type DeadLetter struct {
	Signature string    `json:"signature"`
	FailedAt  time.Time `json:"failed_at"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
	Payload   []byte    `json:"payload,omitempty"`
	Attempts  int       `json:"attempts"`
}

// NewDeadLetter builds the dead-letter record for a failed decode. When signature is empty it
// is recovered from the payload if possible.
func NewDeadLetter(signature string, err error, payload []byte, failedAt time.Time) DeadLetter {
	if signature == "" {
		signature = txn.PeekSignature(payload)
	}
	dl := DeadLetter{
		Signature: signature,
		FailedAt:  failedAt.UTC(),
		Reason:    ReasonOf(err),
		Payload:   payload,
		Attempts:  1,
	}
	if err != nil {
		dl.Error = err.Error()
	}
	return dl
}

// ReasonOf classifies err into one of the dead-letter reasons.
func ReasonOf(err error) string {
	var fe *FetchError
	switch {
	case txn.IsNormalizationError(err):
		return ReasonNormalization
	case errors.As(err, &fe):
		return ReasonFetch
	case errors.Is(err, ErrStorage):
		return ReasonStorage
	default:
		return ReasonUnknown
	}
}

// ErrStorage marks failures to persist a decode result.
var ErrStorage = errors.New("storage failure")

// FetchError wraps a failure to acquire the raw transaction.
type FetchError struct {
	Signature string
	Err       error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Signature + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
