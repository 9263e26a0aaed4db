package scholarly

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a response body that didn't match the
// expected shape (spec §7: "log, skip record/chunk").
var ErrMalformedResponse = errors.New("scholarly: malformed response")

// apiError is the typed result §9 asks for in place of exception-driven
// retry: retry eligibility is carried in the retryable field, and
// sendRequest wraps non-retryable errors in backoff.Permanent rather than
// branching on error strings.
type apiError struct {
	statusCode int
	retryable  bool
	retryAfter int // seconds, 0 if not specified
	msg        string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("scholarly api: %s (status %d)", e.msg, e.statusCode)
}

// Retryable reports whether the caller should retry this error under the
// backoff policy of spec §4.3.
func (e *apiError) Retryable() bool { return e.retryable }

// RetryAfterSeconds returns the server-specified retry delay, or 0 if none
// was present.
func (e *apiError) RetryAfterSeconds() int { return e.retryAfter }

// IsRetryable reports whether err should be retried, per the §9
// re-architecture guidance to model retry eligibility as an explicit
// predicate rather than exception control flow.
func IsRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.retryable
	}
	// Network-level errors (timeouts, connection resets) that never made it
	// to an HTTP response are always transient per §4.3/§7.
	return err != nil
}
