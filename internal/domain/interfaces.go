package domain

import (
	"context"
	"time"

	"courtside/internal/api"
	"courtside/internal/models"
)

type AvailabilityAPI interface {
	Availability(ctx context.Context, vendorID, date string) ([]models.Slot, error)
}

type LockAPI interface {
	Lock(ctx context.Context, slotID, idempotencyKey string) (*api.LockResult, error)
	Unlock(ctx context.Context, slotID string) error
}

type PaymentAPI interface {
	UploadPayment(ctx context.Context, proof *models.PaymentProof) (*api.UploadResult, error)
}

type BookingAPI interface {
	ListBookings(ctx context.Context) ([]models.Booking, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Clock abstracts time for the countdown and staleness checks so tests can
// drive expiry deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// HoldGuard lets the background refresher ask whether a lock request is
// mid-flight before racing it with a poll result.
type HoldGuard interface {
	Active() bool
}

// AvailabilityCache is the surface the lock controller and payment pipeline
// use to read and invalidate slot state. All slot data flows through it;
// nothing mutates slot arrays directly.
type AvailabilityCache interface {
	Fetch(ctx context.Context, vendorID, date string) ([]models.ResourceGroup, error)
	Invalidate(ctx context.Context, vendorID, date string) error
}

// BookingProjection is refreshed eagerly after payment success.
type BookingProjection interface {
	Refresh(ctx context.Context) ([]models.Booking, error)
}

// HoldController is what the payment pipeline needs from the lock controller.
type HoldController interface {
	Hold() *models.Hold
	BeginPayment() error
	CompletePayment(confirmed bool)
}
