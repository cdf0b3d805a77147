package models

import "fmt"

// SlotStatus is the closed set of states a slot can be in. The server speaks
// plain strings; ParseSlotStatus is the only way they enter the program.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotLocked    SlotStatus = "locked"
	SlotPending   SlotStatus = "pending"
	SlotConfirmed SlotStatus = "confirmed"
	SlotCompleted SlotStatus = "completed"
	SlotCancelled SlotStatus = "cancelled"
	SlotBlocked   SlotStatus = "blocked"
)

func ParseSlotStatus(raw string) (SlotStatus, error) {
	switch SlotStatus(raw) {
	case SlotAvailable, SlotLocked, SlotPending, SlotConfirmed, SlotCompleted, SlotCancelled, SlotBlocked:
		return SlotStatus(raw), nil
	}
	return "", fmt.Errorf("unknown slot status: %q", raw)
}

// Bookable reports whether a fresh lock attempt on a slot in this status can
// succeed.
func (s SlotStatus) Bookable() bool {
	return s == SlotAvailable
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return BookingStatus(raw), nil
	}
	return "", fmt.Errorf("unknown booking status: %q", raw)
}

// Upcoming reports whether the booking still lies ahead of the user:
// pending and confirmed bookings are upcoming, completed and cancelled are
// history.
func (s BookingStatus) Upcoming() bool {
	switch s {
	case BookingPending, BookingConfirmed:
		return true
	case BookingCompleted, BookingCancelled:
		return false
	}
	return false
}

// VerificationState tracks a payment proof through upload and verification.
type VerificationState string

const (
	VerificationIdle      VerificationState = "idle"
	VerificationUploading VerificationState = "uploading"
	VerificationVerified  VerificationState = "verified"
	VerificationRejected  VerificationState = "rejected"
)

// HoldPhase is the client-side lock state machine position.
type HoldPhase string

const (
	PhaseIdle     HoldPhase = "idle"
	PhaseLocking  HoldPhase = "locking"
	PhaseHeld     HoldPhase = "held"
	PhasePaying   HoldPhase = "paying"
	PhaseExpired  HoldPhase = "expired"
	PhaseLost     HoldPhase = "lost"
	PhaseReleased HoldPhase = "released"
)
