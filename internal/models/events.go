package models

import "time"

type BookingCreatedEvent struct {
	BookingID       int64      `json:"booking_id"`
	UserEmail       string     `json:"user_email"`
	MovieTitle      string     `json:"movie_title"`
	ScreeningTime   *time.Time `json:"screening_time,omitempty"`
	Seats           int        `json:"number_of_seats"`
	TotalPriceCents int64      `json:"total_price_cents"`
}

type BookingCancelledEvent struct {
	BookingID   int64  `json:"booking_id"`
	UserEmail   string `json:"user_email"`
	ScreeningID int64  `json:"screening_id"`
	Seats       int    `json:"number_of_seats"`
}
