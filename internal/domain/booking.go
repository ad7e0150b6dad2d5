package domain

import (
	"fmt"
	"time"

	"cinemabooking/internal/models"
)

// BookingRules holds the booking lifecycle transitions. It performs no I/O.
type BookingRules struct {
	cancellationCutoff time.Duration
	now                func() time.Time
}

func NewBookingRules(cancellationCutoff time.Duration, now func() time.Time) *BookingRules {
	if cancellationCutoff <= 0 {
		cancellationCutoff = models.CancellationCutoff
	}
	if now == nil {
		now = time.Now
	}
	return &BookingRules{cancellationCutoff: cancellationCutoff, now: now}
}

// Confirm moves a pending booking to confirmed. Confirming twice keeps the first timestamp.
func (r *BookingRules) Confirm(b *models.Booking) error {
	switch b.Status {
	case models.StatusPending:
		now := r.now()
		b.Status = models.StatusConfirmed
		b.ConfirmedAt = &now
		return nil
	case models.StatusConfirmed:
		return nil
	default:
		return IllegalState(fmt.Sprintf("booking in status %s cannot be confirmed", b.Status))
	}
}

func (r *BookingRules) CanCancel(b *models.Booking) bool {
	switch b.Status {
	case models.StatusPending, models.StatusConfirmed:
		if b.ScreeningTime == nil {
			return true
		}
		return r.now().Before(b.ScreeningTime.Add(-r.cancellationCutoff))
	default:
		return false
	}
}

// Cancel leaves ConfirmedAt untouched.
func (r *BookingRules) Cancel(b *models.Booking) error {
	if !r.CanCancel(b) {
		return IllegalState("booking cannot be cancelled")
	}
	b.Status = models.StatusCancelled
	return nil
}

// Expire is applied by the housekeeping sweep to stale pending bookings.
func (r *BookingRules) Expire(b *models.Booking) error {
	if b.Status != models.StatusPending {
		return IllegalState(fmt.Sprintf("booking in status %s cannot expire", b.Status))
	}
	b.Status = models.StatusExpired
	return nil
}

func (r *BookingRules) StatusMessage(b *models.Booking) string {
	switch b.Status {
	case models.StatusPending:
		return fmt.Sprintf("Booking for %s is being processed", b.MovieTitle)
	case models.StatusConfirmed:
		return fmt.Sprintf("Confirmed! %d seat(s) for %s", b.Seats, b.MovieTitle)
	case models.StatusCancelled:
		return fmt.Sprintf("Booking for %s was cancelled", b.MovieTitle)
	case models.StatusExpired:
		return fmt.Sprintf("Booking for %s has expired", b.MovieTitle)
	default:
		return fmt.Sprintf("Booking for %s is in an unknown state", b.MovieTitle)
	}
}
