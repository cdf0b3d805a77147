package models

import "time"

type Booking struct {
	ID         string        `json:"id"`
	SlotID     string        `json:"slot_id"`
	VendorID   string        `json:"vendor_id"`
	VendorName string        `json:"vendor"`
	Date       string        `json:"date"`
	Status     BookingStatus `json:"status"`
	Amount     int64         `json:"amount"`
	PaymentID  string        `json:"payment_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PartitionBookings splits bookings into upcoming (pending, confirmed) and
// past (completed, cancelled), preserving input order within each half.
func PartitionBookings(bookings []Booking) (upcoming, past []Booking) {
	for _, b := range bookings {
		if b.Status.Upcoming() {
			upcoming = append(upcoming, b)
		} else {
			past = append(past, b)
		}
	}
	return upcoming, past
}
