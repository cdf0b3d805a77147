package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/api"
	"courtside/internal/events"
	"courtside/internal/logging"
	"courtside/internal/models"
)

type stubLockAPI struct {
	mu         sync.Mutex
	lockErr    error
	expiresAt  time.Time
	locked     []string
	unlocked   []string
	unlockHook func()
}

func (s *stubLockAPI) Lock(ctx context.Context, slotID, idempotencyKey string) (*api.LockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locked = append(s.locked, slotID)
	return &api.LockResult{HoldExpiresAt: s.expiresAt, ExpiresInMinutes: 10}, nil
}

func (s *stubLockAPI) Unlock(ctx context.Context, slotID string) error {
	if s.unlockHook != nil {
		s.unlockHook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked = append(s.unlocked, slotID)
	return nil
}

type stubCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (s *stubCache) Fetch(ctx context.Context, vendorID, date string) ([]models.ResourceGroup, error) {
	return nil, nil
}

func (s *stubCache) Invalidate(ctx context.Context, vendorID, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, vendorID+":"+date)
	return nil
}

func (s *stubCache) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invalidated)
}

func availableSlot(id string) models.Slot {
	return models.Slot{
		ID:         id,
		VendorID:   "v1",
		ResourceID: "c1",
		Date:       "2026-09-01",
		StartTime:  "09:00",
		EndTime:    "10:00",
		Price:      1500,
		Status:     models.SlotAvailable,
	}
}

func newTestController(t *testing.T, start time.Time) (*Controller, *stubLockAPI, *stubCache, *fakeClock, *events.Bus) {
	t.Helper()
	clock := newFakeClock(start)
	client := &stubLockAPI{expiresAt: start.Add(600 * time.Second)}
	cache := &stubCache{}
	bus := events.NewBus()
	ctrl := NewController(client, cache, bus, clock, "sess-1", logging.Nop())
	return ctrl, client, cache, clock, bus
}

func TestSelectAcquiresHold(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, _, _, bus := newTestController(t, start)

	acquired := 0
	bus.Subscribe(events.EventHoldAcquired, func(e *events.Event) error {
		acquired++
		return nil
	})

	hold, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)
	require.NotNil(t, hold)

	assert.Equal(t, models.PhaseHeld, ctrl.Phase())
	assert.False(t, ctrl.Active(), "no lock request in flight once the hold is live")
	assert.Equal(t, []string{"s1"}, client.locked)
	assert.Equal(t, int64(600), ctrl.Remaining())
	assert.Equal(t, 1, acquired)

	selected := ctrl.SelectedSlot()
	require.NotNil(t, selected, "slot adopted optimistically, no refresh needed")
	assert.Equal(t, "s1", selected.ID)
}

func TestSelectNotSelectable(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, _, _, _, _ := newTestController(t, start)

	slot := availableSlot("s1")
	slot.Status = models.SlotLocked

	_, err := ctrl.Select(context.Background(), slot, false)
	assert.ErrorIs(t, err, ErrSlotNotSelectable)
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
}

func TestSelectConflictForcesRefresh(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, cache, _, _ := newTestController(t, start)
	client.lockErr = api.ErrConflict

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	assert.ErrorIs(t, err, api.ErrConflict)
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
	assert.Equal(t, 1, cache.invalidations(), "conflict forces a fresh availability read")
	assert.Nil(t, ctrl.Hold())
}

func TestSwitchRequiresConfirmation(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, _, _, _ := newTestController(t, start)

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	_, err = ctrl.Select(context.Background(), availableSlot("s2"), false)
	assert.ErrorIs(t, err, ErrSwitchConfirmationRequired)
	require.NotNil(t, ctrl.Hold())
	assert.Equal(t, "s1", ctrl.Hold().SlotID, "original hold untouched")

	// Confirmed switch releases s1 before locking s2: never two holds at once.
	hold, err := ctrl.Select(context.Background(), availableSlot("s2"), true)
	require.NoError(t, err)
	assert.Equal(t, "s2", hold.SlotID)
	assert.Equal(t, []string{"s1"}, client.unlocked)
	assert.Equal(t, []string{"s1", "s2"}, client.locked)
}

func TestReselectSameSlotNoConfirmation(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, _, _, _, _ := newTestController(t, start)

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	// Same slot is not a switch.
	_, err = ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)
}

func TestHoldExpiresExactlyOnce(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, _, _, clock, bus := newTestController(t, start)

	var mu sync.Mutex
	expiredEvents := 0
	bus.Subscribe(events.EventHoldExpired, func(e *events.Event) error {
		mu.Lock()
		expiredEvents++
		mu.Unlock()
		return nil
	})

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	// Simulated clock: 600 seconds pass.
	clock.Advance(600 * time.Second)

	require.Eventually(t, func() bool {
		return ctrl.Phase() == models.PhaseExpired
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, ctrl.Hold())
	assert.Nil(t, ctrl.SelectedSlot())
	assert.Equal(t, int64(0), ctrl.Remaining())

	// A racing snapshot invalidation after expiry is a no-op.
	ctrl.ApplySnapshot(context.Background(), models.GroupSlots("2026-09-01", []models.Slot{
		{ID: "s1", VendorID: "v1", ResourceID: "c1", Status: models.SlotConfirmed},
	}))

	mu.Lock()
	assert.Equal(t, 1, expiredEvents, "expiry fired exactly once")
	mu.Unlock()

	ctrl.Acknowledge()
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
}

func TestHoldLostToBackgroundRefresh(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, _, _, clock, bus := newTestController(t, start)

	lostEvents := 0
	bus.Subscribe(events.EventHoldLost, func(e *events.Event) error {
		lostEvents++
		return nil
	})

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	// 50 seconds in, countdown has 550s left, but the refresh says someone
	// else completed the slot.
	clock.mu.Lock()
	clock.now = start.Add(50 * time.Second)
	clock.mu.Unlock()

	ctrl.ApplySnapshot(context.Background(), models.GroupSlots("2026-09-01", []models.Slot{
		{ID: "s1", VendorID: "v1", ResourceID: "c1", Status: models.SlotConfirmed},
	}))

	assert.Equal(t, models.PhaseLost, ctrl.Phase())
	assert.Nil(t, ctrl.Hold())
	assert.Nil(t, ctrl.SelectedSlot())
	assert.Equal(t, 1, lostEvents)

	// Second invalidation of the cleared hold is a no-op.
	ctrl.ApplySnapshot(context.Background(), models.GroupSlots("2026-09-01", []models.Slot{
		{ID: "s1", VendorID: "v1", ResourceID: "c1", Status: models.SlotConfirmed},
	}))
	assert.Equal(t, 1, lostEvents)
}

func TestSnapshotKeepsHoldOnLatency(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, _, _, _, _ := newTestController(t, start)

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	// Poll still says available: latency, not loss.
	ctrl.ApplySnapshot(context.Background(), models.GroupSlots("2026-09-01", []models.Slot{
		{ID: "s1", VendorID: "v1", ResourceID: "c1", Status: models.SlotAvailable},
	}))

	assert.Equal(t, models.PhaseHeld, ctrl.Phase())
	require.NotNil(t, ctrl.Hold())
}

func TestRelease(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, _, _, _ := newTestController(t, start)

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	ctrl.Release(context.Background())
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
	assert.Nil(t, ctrl.Hold())
	assert.Equal(t, []string{"s1"}, client.unlocked)

	// Releasing with nothing held is harmless.
	ctrl.Release(context.Background())
	assert.Equal(t, []string{"s1"}, client.unlocked)
}

func TestReleaseDoesNotBlockReaders(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, _, _, _ := newTestController(t, start)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	client.unlockHook = func() {
		close(entered)
		<-proceed
	}

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ctrl.Release(context.Background())
		close(done)
	}()

	// The unlock request is in flight; state reads must not wait on it.
	<-entered
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
	assert.Nil(t, ctrl.Hold())
	assert.False(t, ctrl.Active())
	assert.Equal(t, int64(0), ctrl.Remaining())

	close(proceed)
	<-done
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"s1"}, client.unlocked)
}

func TestPaymentFlow(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Confirmed", func(t *testing.T) {
		ctrl, _, _, _, _ := newTestController(t, start)
		_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
		require.NoError(t, err)

		require.NoError(t, ctrl.BeginPayment())
		assert.Equal(t, models.PhasePaying, ctrl.Phase())

		ctrl.CompletePayment(true)
		assert.Equal(t, models.PhaseIdle, ctrl.Phase())
		assert.Nil(t, ctrl.Hold())
	})

	t.Run("RejectedHoldStillValid", func(t *testing.T) {
		ctrl, _, _, _, _ := newTestController(t, start)
		_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
		require.NoError(t, err)

		require.NoError(t, ctrl.BeginPayment())
		ctrl.CompletePayment(false)

		assert.Equal(t, models.PhaseHeld, ctrl.Phase(), "hold preserved for resubmission")
		require.NotNil(t, ctrl.Hold())
	})

	t.Run("BeginWithoutHold", func(t *testing.T) {
		ctrl, _, _, _, _ := newTestController(t, start)
		assert.ErrorIs(t, ctrl.BeginPayment(), api.ErrHoldExpired)
	})

	t.Run("BeginAfterExpiry", func(t *testing.T) {
		ctrl, _, _, clock, _ := newTestController(t, start)
		_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
		require.NoError(t, err)

		clock.mu.Lock()
		clock.now = start.Add(601 * time.Second)
		clock.mu.Unlock()

		assert.ErrorIs(t, ctrl.BeginPayment(), api.ErrHoldExpired)
	})
}

func TestLockTimeoutIsUnknownOutcome(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, cache, _, _ := newTestController(t, start)
	client.lockErr = &api.NetworkError{Op: "lock", Err: timeoutErr{}}

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.Error(t, err)
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
	assert.Equal(t, 1, cache.invalidations(), "timeout resolved by forcing a fresh read")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestLockGenericError(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	ctrl, client, _, _, _ := newTestController(t, start)
	client.lockErr = errors.New("boom")

	_, err := ctrl.Select(context.Background(), availableSlot("s1"), false)
	require.Error(t, err)
	assert.Equal(t, models.PhaseIdle, ctrl.Phase())
}
