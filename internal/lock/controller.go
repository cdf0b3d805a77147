package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"courtside/internal/api"
	"courtside/internal/domain"
	"courtside/internal/events"
	"courtside/internal/metrics"
	"courtside/internal/models"
)

var (
	// ErrSwitchConfirmationRequired: another slot is already held by this
	// session; the caller must confirm before switching, which implicitly
	// releases the prior hold.
	ErrSwitchConfirmationRequired = errors.New("another slot is held, confirm switch first")

	// ErrSlotNotSelectable: the selected slot is not available to lock.
	ErrSlotNotSelectable = errors.New("slot is not available")

	// ErrLockInFlight: a lock request is already pending.
	ErrLockInFlight = errors.New("lock request already in flight")
)

// Controller owns the client-side hold state machine:
//
//	idle → locking → held → {paying | expired | lost | released} → idle
//
// All state lives behind one mutex; network calls happen outside it, guarded
// by a generation counter so a cancelled or superseded request cannot mutate
// state that has moved on underneath it.
type Controller struct {
	client domain.LockAPI
	cache  domain.AvailabilityCache
	bus    *events.Bus
	clock  domain.Clock
	logger *zerolog.Logger

	sessionID string

	mu         sync.Mutex
	phase      models.HoldPhase
	hold       *models.Hold
	selected   *models.Slot
	countdown  *Countdown
	generation uint64
}

func NewController(client domain.LockAPI, cache domain.AvailabilityCache, bus *events.Bus, clock domain.Clock, sessionID string, logger *zerolog.Logger) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{
		client:    client,
		cache:     cache,
		bus:       bus,
		clock:     clock,
		sessionID: sessionID,
		logger:    logger,
		phase:     models.PhaseIdle,
	}
}

// SetCache wires the availability cache in after construction. The cache and
// the controller reference each other, so one side has to attach late.
func (c *Controller) SetCache(cache domain.AvailabilityCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = cache
}

// Phase returns the current state machine position.
func (c *Controller) Phase() models.HoldPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Hold returns a copy of the active hold, or nil.
func (c *Controller) Hold() *models.Hold {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold == nil {
		return nil
	}
	hold := *c.hold
	return &hold
}

// SelectedSlot returns a copy of the currently selected slot, or nil.
func (c *Controller) SelectedSlot() *models.Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	slot := *c.selected
	return &slot
}

// Active reports whether a lock request is mid-flight. The availability
// refresher skips its tick while this is true; once a hold is live, polling
// resumes so a vendor-side override still surfaces as a lost hold.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == models.PhaseLocking
}

// Remaining returns whole seconds left on the active hold, floored at zero.
func (c *Controller) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hold.Remaining(c.clock.Now())
}

// Select attempts to acquire a hold on slot. When another slot is already
// held by this session, confirmSwitch must be true; the prior hold is then
// released before the new lock is requested. On success the slot is adopted
// as selected immediately rather than waiting for the next availability
// refresh.
func (c *Controller) Select(ctx context.Context, slot models.Slot, confirmSwitch bool) (*models.Hold, error) {
	c.mu.Lock()

	if c.phase == models.PhaseLocking {
		c.mu.Unlock()
		return nil, ErrLockInFlight
	}

	var released string
	if c.hold != nil && c.hold.SlotID != slot.ID {
		if !confirmSwitch {
			c.mu.Unlock()
			return nil, ErrSwitchConfirmationRequired
		}
		released = c.releaseLocked("switched")
	}

	if !slot.Status.Bookable() {
		c.mu.Unlock()
		c.unlockBestEffort(ctx, released)
		return nil, ErrSlotNotSelectable
	}

	c.phase = models.PhaseLocking
	c.generation++
	gen := c.generation
	idemKey := uuid.NewString()
	c.mu.Unlock()

	c.unlockBestEffort(ctx, released)
	result, err := c.client.Lock(ctx, slot.ID, idemKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		// Superseded while the request was in flight; whatever came back
		// belongs to a state that no longer exists.
		return nil, context.Canceled
	}

	if err != nil {
		c.phase = models.PhaseIdle
		return nil, c.lockFailed(ctx, slot, err)
	}

	hold := &models.Hold{
		SlotID:         slot.ID,
		Slot:           slot,
		SessionID:      c.sessionID,
		ExpiresAt:      result.HoldExpiresAt,
		IdempotencyKey: idemKey,
		AcquiredAt:     c.clock.Now(),
	}
	c.hold = hold
	c.selected = &slot
	c.phase = models.PhaseHeld
	c.startCountdownLocked(gen)

	metrics.IncLockAttempt("held")
	metrics.SetActiveHolds(1)
	c.publishHoldEvent(events.EventHoldAcquired, hold, "")
	c.logger.Info().Str("slot_id", slot.ID).Time("expires_at", hold.ExpiresAt).Msg("hold acquired")

	held := *hold
	return &held, nil
}

func (c *Controller) lockFailed(ctx context.Context, slot models.Slot, err error) error {
	var netErr *api.NetworkError
	switch {
	case errors.Is(err, api.ErrConflict):
		// Lost the race. Force a fresh read so the stale "available" slot
		// disappears from view.
		metrics.IncLockAttempt("conflict")
		c.invalidateSlot(ctx, slot)
		c.logger.Warn().Str("slot_id", slot.ID).Msg("slot raced away")
		return err
	case errors.As(err, &netErr) && netErr.Timeout():
		// Unknown outcome: the lock may or may not exist server-side. Do not
		// guess; refetch availability and let the next read settle it.
		metrics.IncLockAttempt("error")
		c.invalidateSlot(ctx, slot)
		c.logger.Warn().Str("slot_id", slot.ID).Msg("lock request timed out, outcome unknown")
		return err
	default:
		metrics.IncLockAttempt("error")
		return fmt.Errorf("lock slot %s: %w", slot.ID, err)
	}
}

// Release explicitly gives up the active hold.
func (c *Controller) Release(ctx context.Context) {
	c.mu.Lock()
	released := c.releaseLocked("released")
	c.phase = models.PhaseIdle
	c.selected = nil
	c.mu.Unlock()

	c.unlockBestEffort(ctx, released)
}

// releaseLocked tears down the current hold under the mutex and returns the
// slot ID still to be unlocked server-side, or "". The network call is the
// caller's job once the mutex is dropped. Safe to call with no hold active.
func (c *Controller) releaseLocked(reason string) string {
	if c.hold == nil {
		return ""
	}
	hold := c.hold
	c.clearHoldLocked()
	c.selected = nil

	metrics.IncHoldEnding(reason)
	c.publishHoldEvent(events.EventHoldReleased, hold, reason)
	return hold.SlotID
}

// unlockBestEffort releases a hold server-side. Failures are only logged; the
// server expires the hold on its own anyway.
func (c *Controller) unlockBestEffort(ctx context.Context, slotID string) {
	if slotID == "" {
		return
	}
	if err := c.client.Unlock(ctx, slotID); err != nil {
		c.logger.Warn().Err(err).Str("slot_id", slotID).Msg("unlock failed")
	}
}

// BeginPayment moves held → paying. The countdown keeps running: expiry
// during payment must still surface.
func (c *Controller) BeginPayment() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != models.PhaseHeld || c.hold == nil {
		return api.ErrHoldExpired
	}
	if c.hold.Expired(c.clock.Now()) {
		return api.ErrHoldExpired
	}
	c.phase = models.PhasePaying
	return nil
}

// CompletePayment resolves the paying phase. Confirmed payments consume the
// hold; a rejection with the hold still valid returns to held so the user can
// resubmit.
func (c *Controller) CompletePayment(confirmed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != models.PhasePaying {
		return
	}
	if confirmed {
		hold := c.hold
		c.clearHoldLocked()
		c.phase = models.PhaseIdle
		c.selected = nil
		metrics.IncHoldEnding("paid")
		if hold != nil {
			c.publishHoldEvent(events.EventHoldReleased, hold, "paid")
		}
		return
	}
	if c.hold != nil && !c.hold.Expired(c.clock.Now()) {
		c.phase = models.PhaseHeld
		return
	}
	// Hold died while the payment was being rejected.
	c.expireLocked(context.Background())
}

// ApplySnapshot reconciles refreshed availability against the local hold.
// Called from the availability refresher after every fetch; it must not
// blindly overwrite optimistic state (see Reconcile), and a second
// invalidation of an already-cleared hold is a no-op.
func (c *Controller) ApplySnapshot(ctx context.Context, groups []models.ResourceGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hold == nil {
		// No local selection to protect; adopt the synced view of whatever
		// slot the UI had selected, if it still exists.
		if c.selected != nil {
			if synced := models.FindSlot(groups, c.selected.ID); synced != nil {
				c.selected = synced
			}
		}
		return
	}

	switch Reconcile(c.hold, c.clock.Now(), SnapshotFor(groups, c.hold.SlotID)) {
	case KeepHold:
	case HoldGone:
		c.expireLocked(ctx)
	case SlotTaken:
		hold := c.hold
		c.clearHoldLocked()
		c.phase = models.PhaseLost
		c.selected = nil
		metrics.IncHoldEnding("lost")
		c.publishHoldEvent(events.EventHoldLost, hold, "slot taken by another path")
		c.logger.Warn().Str("slot_id", hold.SlotID).Msg("hold lost, slot taken elsewhere")
	}
}

// onExpiry is the countdown callback. The generation check discards stale
// timers from superseded holds.
func (c *Controller) onExpiry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.hold == nil {
		return
	}
	c.expireLocked(context.Background())
}

func (c *Controller) expireLocked(ctx context.Context) {
	if c.hold == nil {
		return
	}
	hold := c.hold
	c.clearHoldLocked()
	c.phase = models.PhaseExpired
	c.selected = nil

	metrics.IncHoldEnding("expired")
	c.publishHoldEvent(events.EventHoldExpired, hold, "countdown reached zero")
	c.logger.Info().Str("slot_id", hold.SlotID).Msg("hold expired")

	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, hold.Slot.VendorID, hold.Slot.Date); err != nil {
			c.logger.Warn().Err(err).Msg("invalidate availability after expiry")
		}
	}
}

// Acknowledge moves a terminal expired/lost phase back to idle once the UI
// has shown its notice.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == models.PhaseExpired || c.phase == models.PhaseLost || c.phase == models.PhaseReleased {
		c.phase = models.PhaseIdle
	}
}

// clearHoldLocked drops the hold and its countdown and bumps the generation
// so in-flight callbacks for the old hold become no-ops.
func (c *Controller) clearHoldLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.hold = nil
	c.generation++
	metrics.SetActiveHolds(0)
}

func (c *Controller) startCountdownLocked(gen uint64) {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	c.countdown = NewCountdown(c.clock, c.hold.ExpiresAt, nil, func() {
		c.onExpiry(gen)
	})
	c.countdown.Start()
}

func (c *Controller) invalidateSlot(ctx context.Context, slot models.Slot) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, slot.VendorID, slot.Date); err != nil {
		c.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("invalidate availability")
	}
}

func (c *Controller) publishHoldEvent(eventType string, hold *models.Hold, reason string) {
	payload := events.HoldEventPayload{
		SlotID:     hold.SlotID,
		ResourceID: hold.Slot.ResourceID,
		VendorID:   hold.Slot.VendorID,
		Date:       hold.Slot.Date,
		SessionID:  hold.SessionID,
		ExpiresAt:  hold.ExpiresAt,
		Reason:     reason,
	}
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Error().Err(err).Str("event_type", eventType).Msg("publish hold event")
	}
}
