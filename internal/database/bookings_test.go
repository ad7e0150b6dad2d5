package database

import (
	"context"
	"testing"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBooking(screeningID int64, email string, seats int, status models.BookingStatus, createdAt time.Time) *models.Booking {
	start := createdAt.Add(48 * time.Hour)
	return &models.Booking{
		ScreeningID:     screeningID,
		UserEmail:       email,
		Seats:           seats,
		TotalPriceCents: int64(seats) * 1000,
		Status:          status,
		CreatedAt:       createdAt,
		MovieTitle:      "Dune",
		ScreeningTime:   &start,
	}
}

func TestBookingCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	b := newBooking(42, "alice@example.com", 2, models.StatusPending, created)
	require.NoError(t, db.Save(ctx, b))
	require.NotZero(t, b.ID)

	got, err := db.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ScreeningID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(2000), got.TotalPriceCents)
	assert.Nil(t, got.ConfirmedAt)
	require.NotNil(t, got.ScreeningTime)
	assert.True(t, got.ScreeningTime.Equal(*b.ScreeningTime))
	assert.True(t, got.CreatedAt.Equal(created))

	confirmed := created.Add(time.Second)
	b.Status = models.StatusConfirmed
	b.ConfirmedAt = &confirmed
	require.NoError(t, db.Save(ctx, b))

	got, err = db.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(confirmed))

	// saving unchanged values is not a missing row
	require.NoError(t, db.Save(ctx, b))
}

func TestFindByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.FindByID(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestSave_UpdateMissing(t *testing.T) {
	db := setupTestDB(t)
	b := newBooking(1, "a@example.com", 1, models.StatusPending, time.Now())
	b.ID = 12345
	assert.ErrorIs(t, db.Save(context.Background(), b), domain.ErrBookingNotFound)
}

func TestFindByUserEmail_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	older := newBooking(1, "bob@example.com", 1, models.StatusConfirmed, base)
	newer := newBooking(2, "bob@example.com", 3, models.StatusPending, base.Add(time.Hour))
	other := newBooking(1, "carol@example.com", 1, models.StatusConfirmed, base)
	for _, b := range []*models.Booking{older, newer, other} {
		require.NoError(t, db.Save(ctx, b))
	}

	list, err := db.FindByUserEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	empty, err := db.FindByUserEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindExpiredPending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	stale := newBooking(1, "a@example.com", 1, models.StatusPending, now.Add(-time.Hour))
	fresh := newBooking(1, "b@example.com", 1, models.StatusPending, now.Add(-time.Minute))
	confirmedOld := newBooking(1, "c@example.com", 1, models.StatusConfirmed, now.Add(-time.Hour))
	for _, b := range []*models.Booking{stale, fresh, confirmedOld} {
		require.NoError(t, db.Save(ctx, b))
	}

	expired, err := db.FindExpiredPending(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
}

func TestCountConfirmedSeats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	bookings := []*models.Booking{
		newBooking(42, "a@example.com", 2, models.StatusConfirmed, now),
		newBooking(42, "b@example.com", 3, models.StatusConfirmed, now),
		newBooking(42, "c@example.com", 4, models.StatusCancelled, now),
		newBooking(42, "d@example.com", 5, models.StatusPending, now),
		newBooking(7, "e@example.com", 1, models.StatusConfirmed, now),
	}
	for _, b := range bookings {
		require.NoError(t, db.Save(ctx, b))
	}

	seats, err := db.CountConfirmedSeats(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 5, seats)

	seats, err = db.CountConfirmedSeats(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, seats)
}

func TestDB_ClosedErrors(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := db.FindByID(ctx, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrBookingNotFound)
	assert.Error(t, db.Save(ctx, newBooking(1, "a@example.com", 1, models.StatusPending, time.Now())))
	_, err = db.CountConfirmedSeats(ctx, 1)
	assert.Error(t, err)
}
