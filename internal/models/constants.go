package models

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusExpired   BookingStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further status transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

const (
	// MinSeatsPerBooking and MaxSeatsPerBooking bound a single request.
	MinSeatsPerBooking = 1
	MaxSeatsPerBooking = 10

	// CancellationCutoff how long before the screening cancellation closes
	CancellationCutoff = 2 * time.Hour

	// BookingCutoff how long before the screening new bookings close
	BookingCutoff = 30 * time.Minute

	// DefaultPriceCents unit price used when the catalog omits one
	DefaultPriceCents int64 = 1000

	// DefaultLockTTL expiry of a screening lock key
	DefaultLockTTL = 30 * time.Second

	// DefaultLockPrefix key prefix of screening locks
	DefaultLockPrefix = "lock:"

	// DefaultPendingExpiry age after which a pending booking is eligible for the sweep
	DefaultPendingExpiry = 15 * time.Minute

	// WorkerQueueSize size of the async booking queue
	WorkerQueueSize = 1000
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingCancelled = "booking_cancelled"
)
