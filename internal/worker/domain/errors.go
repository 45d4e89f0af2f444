package domain

import "errors"

var (
	// ErrJobNotFound means the row is gone or no longer in the expected
	// status, usually because the submitting session discarded it.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed means another worker moved the row out of PENDING first.
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in PENDING status")

	// ErrInvalidPayload covers descriptors that cannot be decoded or name an
	// unusable artifact.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrMaxRetriesExceeded is returned once a failed download has used up its attempts.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrUnsupportedJobType is returned for job types this worker cannot run.
	ErrUnsupportedJobType = errors.New("unsupported job type")
)

// permanent lists the failures a redelivery can never fix.
var permanent = []error{
	ErrJobAlreadyClaimed,
	ErrJobNotFound,
	ErrMaxRetriesExceeded,
	ErrInvalidPayload,
	ErrUnsupportedJobType,
}

// Permanent reports whether err wraps one of the non-retryable sentinels.
func Permanent(err error) bool {
	for _, p := range permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}

// RetryableError marks a failure whose message should go back on the queue.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
