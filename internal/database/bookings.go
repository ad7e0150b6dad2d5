package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"
)

const bookingColumns = `id, screening_id, user_email, seats, total_price_cents, status, movie_title, screening_time, created_at, confirmed_at`

// Save inserts a booking without an ID and updates it otherwise.
func (db *DB) Save(ctx context.Context, booking *models.Booking) error {
	if booking.ID == 0 {
		return db.insertBooking(ctx, booking)
	}

	query := `UPDATE bookings SET screening_id = ?, user_email = ?, seats = ?, total_price_cents = ?, status = ?,
              movie_title = ?, screening_time = ?, confirmed_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query,
		booking.ScreeningID,
		booking.UserEmail,
		booking.Seats,
		booking.TotalPriceCents,
		booking.Status,
		booking.MovieTitle,
		utcPtr(booking.ScreeningTime),
		utcPtr(booking.ConfirmedAt),
		booking.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", booking.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (db *DB) insertBooking(ctx context.Context, booking *models.Booking) error {
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now()
	}
	query := `INSERT INTO bookings (screening_id, user_email, seats, total_price_cents, status, movie_title, screening_time, created_at, confirmed_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		booking.ScreeningID,
		booking.UserEmail,
		booking.Seats,
		booking.TotalPriceCents,
		booking.Status,
		booking.MovieTitle,
		utcPtr(booking.ScreeningTime),
		booking.CreatedAt.UTC(),
		utcPtr(booking.ConfirmedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	return nil
}

func (db *DB) FindByID(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return booking, nil
}

// FindByUserEmail returns the user's bookings newest first.
func (db *DB) FindByUserEmail(ctx context.Context, email string) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_email = ? ORDER BY created_at DESC, id DESC`,
		email)
}

func (db *DB) FindExpiredPending(ctx context.Context, createdBefore time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? AND created_at < ? ORDER BY created_at ASC`,
		models.StatusPending, createdBefore.UTC())
}

func (db *DB) CountConfirmedSeats(ctx context.Context, screeningID int64) (int, error) {
	var seats int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seats), 0) FROM bookings WHERE screening_id = ? AND status = ?`,
		screeningID, models.StatusConfirmed,
	).Scan(&seats)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed seats: %w", err)
	}
	return seats, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []*models.Booking{}
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.ScreeningID, &b.UserEmail, &b.Seats, &b.TotalPriceCents, &b.Status,
		&b.MovieTitle, &b.ScreeningTime, &b.CreatedAt, &b.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
