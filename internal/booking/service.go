package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"courtside/internal/domain"
	"courtside/internal/models"
	"courtside/internal/store"
)

const bookingsKey = "bookings:me"

// Service is the read-mostly projection of the caller's bookings. It is
// refreshed eagerly after a payment verifies and on explicit user pull, not
// on every read; the only event that changes booking state is a payment
// submission, and that path already invalidates.
type Service struct {
	client domain.BookingAPI
	store  store.Store
	logger *zerolog.Logger
	ttl    time.Duration
}

func NewService(client domain.BookingAPI, cache store.Store, ttl time.Duration, logger *zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = models.DefaultBookingsTTL
	}
	return &Service{
		client: client,
		store:  cache,
		logger: logger,
		ttl:    ttl,
	}
}

// List returns the cached bookings, fetching only when nothing is cached.
func (s *Service) List(ctx context.Context) ([]models.Booking, error) {
	entry, err := s.store.Get(ctx, bookingsKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bookings cache read failed")
	}
	if entry != nil {
		var bookings []models.Booking
		if err := json.Unmarshal(entry.Value, &bookings); err == nil {
			return bookings, nil
		}
	}
	return s.Refresh(ctx)
}

// Refresh bypasses the cache and refetches from the server.
func (s *Service) Refresh(ctx context.Context) ([]models.Booking, error) {
	bookings, err := s.client.ListBookings(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bookings); err == nil {
		if err := s.store.Set(ctx, bookingsKey, data, s.ttl); err != nil {
			s.logger.Warn().Err(err).Msg("bookings cache write failed")
		}
	}
	return bookings, nil
}

// Partitioned returns bookings split into upcoming and past halves.
func (s *Service) Partitioned(ctx context.Context) (upcoming, past []models.Booking, err error) {
	bookings, err := s.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	upcoming, past = models.PartitionBookings(bookings)
	return upcoming, past, nil
}

// Invalidate drops the cached projection.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.store.Invalidate(ctx, bookingsKey)
}
