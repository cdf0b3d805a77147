package models

import "time"

// Hold is a time-bounded exclusive claim on one slot by one client session,
// pending payment. The server is the source of truth for who holds a slot;
// everything here is provisional until corroborated by a later read.
type Hold struct {
	SlotID         string    `json:"slot_id"`
	Slot           Slot      `json:"slot"`
	SessionID      string    `json:"session_id"`
	ExpiresAt      time.Time `json:"hold_expires_at"`
	IdempotencyKey string    `json:"idempotency_key"`
	AcquiredAt     time.Time `json:"acquired_at"`
}

// Remaining returns whole seconds left on the hold at the given instant,
// floored at zero.
func (h *Hold) Remaining(now time.Time) int64 {
	if h == nil {
		return 0
	}
	left := h.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Expired reports whether the hold is past its expiry at now.
func (h *Hold) Expired(now time.Time) bool {
	return h != nil && !now.Before(h.ExpiresAt)
}
