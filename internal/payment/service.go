package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"courtside/internal/api"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/lock"
	"courtside/internal/metrics"
	"courtside/internal/models"
)

// Service runs the payment verification pipeline: validate the proof
// locally, gate on a live hold, upload, and resolve the hold according to
// the server's verdict. The image bytes and idempotency key are stable
// across transport retries, so a flaky upload can never double-submit.
type Service struct {
	client     domain.PaymentAPI
	controller domain.HoldController
	cache      domain.AvailabilityCache
	bookings   domain.BookingProjection
	bus        *events.Bus
	validate   *validator.Validate
	retry      api.RetryPolicy
	clock      domain.Clock
	logger     *zerolog.Logger
}

func NewService(client domain.PaymentAPI, controller domain.HoldController, cache domain.AvailabilityCache, bookings domain.BookingProjection, bus *events.Bus, retry api.RetryPolicy, clock domain.Clock, logger *zerolog.Logger) *Service {
	if clock == nil {
		clock = lock.RealClock{}
	}
	return &Service{
		client:     client,
		controller: controller,
		cache:      cache,
		bookings:   bookings,
		bus:        bus,
		validate:   validator.New(),
		retry:      retry,
		clock:      clock,
		logger:     logger,
	}
}

// Submit uploads a payment proof for the currently held slot and returns the
// server's verdict. A rejection leaves the hold intact for resubmission as
// long as the countdown has not run out; expiry always wins over rejection.
func (s *Service) Submit(ctx context.Context, proof *models.PaymentProof) (*api.UploadResult, error) {
	if err := s.validate.Struct(proof); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrValidation, err)
	}

	hold := s.controller.Hold()
	if hold == nil {
		return nil, api.ErrHoldExpired
	}
	proof.SlotID = hold.SlotID
	if proof.IdempotencyKey == "" {
		proof.IdempotencyKey = uuid.NewString()
	}

	if err := s.controller.BeginPayment(); err != nil {
		return nil, err
	}
	proof.State = models.VerificationUploading

	result, err := s.upload(ctx, proof)
	if err != nil {
		return nil, s.uploadFailed(err, proof, hold)
	}

	proof.State = models.VerificationVerified
	s.controller.CompletePayment(true)
	metrics.IncPaymentOutcome("verified")

	s.invalidateAfterSuccess(ctx, hold)
	s.publishOutcome(events.EventPaymentVerified, proof, string(result.Status))
	s.publishOutcome(events.EventBookingCreated, proof, string(result.Status))

	s.logger.Info().
		Str("slot_id", proof.SlotID).
		Str("status", string(result.Status)).
		Msg("payment verified")
	return result, nil
}

// upload retries transport failures with the same bytes and idempotency key.
// Conflicts, rejections, and expiries are final on the first response.
func (s *Service) upload(ctx context.Context, proof *models.PaymentProof) (*api.UploadResult, error) {
	attempts := s.retry.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := s.client.UploadPayment(ctx, proof)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !api.IsRetryable(err) {
			break
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("payment upload failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retry.NextDelay(attempt)):
		}
	}
	return nil, lastErr
}

func (s *Service) uploadFailed(err error, proof *models.PaymentProof, hold *models.Hold) error {
	switch {
	case errors.Is(err, api.ErrHoldExpired):
		s.controller.CompletePayment(false)
		metrics.IncPaymentOutcome("hold_expired")
		return err

	case errors.Is(err, api.ErrVerificationRejected):
		proof.State = models.VerificationRejected
		// Read the hold before resolving: if the countdown ran out while the
		// server was rejecting us, the expiry is what the user must see.
		current := s.controller.Hold()
		expired := current == nil || current.Expired(s.clock.Now())
		s.controller.CompletePayment(false)
		if expired {
			metrics.IncPaymentOutcome("hold_expired")
			return api.ErrHoldExpired
		}
		metrics.IncPaymentOutcome("rejected")
		s.publishOutcome(events.EventPaymentRejected, proof, string(models.VerificationRejected))
		s.logger.Warn().Str("slot_id", proof.SlotID).Msg("payment proof rejected, hold still valid")
		return err

	default:
		// Transport failure after retries: outcome unknown. Return to held so
		// the user can try again with the same proof; the booking projection
		// will surface a verification that actually landed.
		s.controller.CompletePayment(false)
		metrics.IncPaymentOutcome("error")
		return err
	}
}

func (s *Service) invalidateAfterSuccess(ctx context.Context, hold *models.Hold) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, hold.Slot.VendorID, hold.Slot.Date); err != nil {
			s.logger.Warn().Err(err).Msg("invalidate availability after payment")
		}
	}
	if s.bookings != nil {
		if _, err := s.bookings.Refresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("refresh bookings after payment")
		}
	}
}

func (s *Service) publishOutcome(eventType string, proof *models.PaymentProof, status string) {
	payload := events.PaymentEventPayload{
		SlotID:        proof.SlotID,
		AmountClaimed: proof.AmountClaimed,
		Status:        status,
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish payment event")
	}
}
