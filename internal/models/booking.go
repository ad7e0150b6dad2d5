package models

import "time"

type Booking struct {
	ID              int64         `json:"id"`
	ScreeningID     int64         `json:"screening_id"`
	UserEmail       string        `json:"user_email"`
	Seats           int           `json:"number_of_seats"`
	TotalPriceCents int64         `json:"total_price_cents"`
	Status          BookingStatus `json:"status"` // pending, confirmed, cancelled, expired
	CreatedAt       time.Time     `json:"created_at"`
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`
	MovieTitle      string        `json:"movie_title"`
	ScreeningTime   *time.Time    `json:"screening_time,omitempty"`
}

// Clone returns a deep copy so callers holding the result cannot mutate stored state.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if b.ScreeningTime != nil {
		t := *b.ScreeningTime
		c.ScreeningTime = &t
	}
	return &c
}

// BookingRequest is the caller-supplied input of a booking attempt.
type BookingRequest struct {
	ScreeningID int64  `json:"screening_id"`
	UserEmail   string `json:"user_email"`
	Seats       int    `json:"number_of_seats"`
}
