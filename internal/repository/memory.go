package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"
)

// MemoryBookingRepository keeps bookings in process. Stored values are cloned on the
// way in and out.
type MemoryBookingRepository struct {
	mu       sync.RWMutex
	bookings map[int64]*models.Booking
	nextID   int64
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings: make(map[int64]*models.Booking),
	}
}

func (r *MemoryBookingRepository) Save(ctx context.Context, booking *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if booking.ID == 0 {
		r.nextID++
		booking.ID = r.nextID
		if booking.CreatedAt.IsZero() {
			booking.CreatedAt = time.Now()
		}
	} else if _, ok := r.bookings[booking.ID]; !ok {
		return domain.ErrBookingNotFound
	}
	r.bookings[booking.ID] = booking.Clone()
	return nil
}

func (r *MemoryBookingRepository) FindByID(ctx context.Context, id int64) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (r *MemoryBookingRepository) FindByUserEmail(ctx context.Context, email string) ([]*models.Booking, error) {
	out := r.filter(func(b *models.Booking) bool { return b.UserEmail == email })
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, ctx.Err()
}

func (r *MemoryBookingRepository) FindExpiredPending(ctx context.Context, createdBefore time.Time) ([]*models.Booking, error) {
	out := r.filter(func(b *models.Booking) bool {
		return b.Status == models.StatusPending && b.CreatedAt.Before(createdBefore)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, ctx.Err()
}

func (r *MemoryBookingRepository) CountConfirmedSeats(ctx context.Context, screeningID int64) (int, error) {
	seats := 0
	for _, b := range r.filter(func(b *models.Booking) bool {
		return b.ScreeningID == screeningID && b.Status == models.StatusConfirmed
	}) {
		seats += b.Seats
	}
	return seats, ctx.Err()
}

func (r *MemoryBookingRepository) filter(keep func(*models.Booking) bool) []*models.Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*models.Booking{}
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}
