package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventHoldAcquired    = "hold_acquired"
	EventHoldExpired     = "hold_expired"
	EventHoldLost        = "hold_lost"
	EventHoldReleased    = "hold_released"
	EventPaymentVerified = "payment_verified"
	EventPaymentRejected = "payment_rejected"
	EventBookingCreated  = "booking_created"
)

// HoldEventPayload is the snapshot published on every hold transition.
type HoldEventPayload struct {
	SlotID     string    `json:"slot_id"`
	ResourceID string    `json:"resource_id"`
	VendorID   string    `json:"vendor_id"`
	Date       string    `json:"date"`
	SessionID  string    `json:"session_id"`
	ExpiresAt  time.Time `json:"hold_expires_at,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// PaymentEventPayload describes a payment verification outcome.
type PaymentEventPayload struct {
	SlotID        string `json:"slot_id"`
	AmountClaimed int64  `json:"amount_claimed"`
	Status        string `json:"status"`
	BookingID     string `json:"booking_id,omitempty"`
}

// Event is a lightweight in-process domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event.
type Handler func(event *Event) error

// Bus provides in-process pub/sub. Handlers run synchronously on the
// publisher's goroutine; subscribers decide their own concurrency.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event. Nil-safe so
// callers can leave the bus optional.
func (b *Bus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
