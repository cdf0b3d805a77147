package lock

import (
	"time"

	"courtside/internal/models"
)

// Snapshot is the synced server view of the held slot, extracted from the
// latest availability refresh.
type Snapshot struct {
	Found  bool
	Status models.SlotStatus
}

// SnapshotFor pulls the held slot's state out of refreshed groups.
func SnapshotFor(groups []models.ResourceGroup, slotID string) Snapshot {
	slot := models.FindSlot(groups, slotID)
	if slot == nil {
		return Snapshot{}
	}
	return Snapshot{Found: true, Status: slot.Status}
}

// Outcome is the reconciliation verdict for an active hold against a fresh
// server snapshot.
type Outcome int

const (
	// KeepHold: nothing in the snapshot disproves the hold.
	KeepHold Outcome = iota
	// HoldGone: the hold itself has expired locally. The countdown usually
	// reports this first; reconciliation returning it too keeps the two
	// paths from disagreeing.
	HoldGone
	// SlotTaken: the snapshot proves the slot is unavailable for a reason
	// other than "held by me": someone else completed it or the vendor
	// blocked it.
	SlotTaken
)

// Reconcile is the single merge rule between optimistic local hold state and
// the latest server snapshot. It never trusts either side unconditionally:
// the local expiry clock is authoritative for the hold's lifetime, the
// snapshot is authoritative for the slot's fate.
//
// A snapshot showing "available" or "locked" while we hold the slot is poll
// latency or our own lock echoed back, so the hold stands. A missing slot is
// treated conservatively as latency too; only an affirmative terminal status
// clears the hold.
func Reconcile(hold *models.Hold, now time.Time, snap Snapshot) Outcome {
	if hold == nil {
		return KeepHold
	}
	if hold.Expired(now) {
		return HoldGone
	}
	if !snap.Found {
		return KeepHold
	}

	switch snap.Status {
	case models.SlotAvailable, models.SlotLocked:
		return KeepHold
	case models.SlotPending, models.SlotConfirmed, models.SlotCompleted, models.SlotCancelled, models.SlotBlocked:
		return SlotTaken
	}
	return KeepHold
}
