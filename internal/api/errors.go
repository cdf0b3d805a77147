package api

import (
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for every outcome the reservation flow has to branch on.
// Server error codes and HTTP statuses are mapped onto these in the client so
// the rest of the program never inspects raw responses.
var (
	// ErrConflict: the slot raced away to another session. Not retryable;
	// forces a fresh availability read.
	ErrConflict = errors.New("slot already taken")

	// ErrHoldExpired: the hold backing the operation is gone. Terminal for
	// the hold, not for the screen.
	ErrHoldExpired = errors.New("hold expired")

	// ErrAuthExpired: the session is no longer valid; propagated to the
	// session collaborator.
	ErrAuthExpired = errors.New("session expired")

	// ErrVerificationRejected: the server declined the payment proof. The
	// user may resubmit while the hold remains valid.
	ErrVerificationRejected = errors.New("payment verification rejected")

	// ErrValidation: input rejected locally before any network call.
	ErrValidation = errors.New("invalid input")
)

// NetworkError wraps transport-level failures. Bounded retries apply; after
// that callers fall back to last known-good data.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a request timeout. Timeouts mean
// unknown outcome: the caller must re-read availability rather than assume
// success or failure.
func (e *NetworkError) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsRetryable reports whether err is worth another attempt (network-level
// only; conflicts and rejections never are).
func IsRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// serverError maps wire error codes to sentinels.
func serverError(code string) error {
	switch code {
	case "slot_unavailable", "slot_locked", "already_booked":
		return ErrConflict
	case "hold_expired", "no_active_hold":
		return ErrHoldExpired
	case "verification_rejected", "amount_mismatch":
		return ErrVerificationRejected
	case "unauthorized":
		return ErrAuthExpired
	default:
		return fmt.Errorf("server error: %s", code)
	}
}
