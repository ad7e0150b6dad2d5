package domain

import (
	"context"
	"time"

	"cinemabooking/internal/models"
)

// BookingRepository persists bookings. Save assigns the ID on first save.
type BookingRepository interface {
	Save(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id int64) (*models.Booking, error)
	FindByUserEmail(ctx context.Context, email string) ([]*models.Booking, error)
	FindExpiredPending(ctx context.Context, createdBefore time.Time) ([]*models.Booking, error)
	CountConfirmedSeats(ctx context.Context, screeningID int64) (int, error)
}

// InventoryGateway reads screening snapshots from the catalog and applies seat deltas.
// GetSnapshot returns ErrScreeningNotFound when the catalog has no such screening.
type InventoryGateway interface {
	GetSnapshot(ctx context.Context, screeningID int64) (*models.ScreeningSnapshot, error)
	AdjustSeats(ctx context.Context, screeningID int64, delta int) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SeatSyncQueue takes seat adjustments that failed inline for a later retry.
type SeatSyncQueue interface {
	EnqueueSeatAdjustment(ctx context.Context, bookingID, screeningID int64, delta int) error
}

// Locker runs work while holding the per-screening lock.
type Locker interface {
	ExecuteWithLock(ctx context.Context, resourceID int64, work func(ctx context.Context) error) error
}

type BookingService interface {
	CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, userEmail string) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, userEmail string) ([]*models.Booking, error)
	StatusMessage(booking *models.Booking) string
}
