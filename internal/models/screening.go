package models

import "time"

// ScreeningSnapshot is a point-in-time read of a screening owned by the catalog.
// Pointer fields are nil when the catalog omitted them.
type ScreeningSnapshot struct {
	ID             int64      `json:"id" yaml:"id"`
	MovieTitle     string     `json:"movie_title" yaml:"movie_title"`
	StartTime      *time.Time `json:"start_time" yaml:"start_time"`
	PriceCents     *int64     `json:"price_cents" yaml:"price_cents"`
	AvailableSeats *int       `json:"available_seats" yaml:"available_seats"`
	TotalSeats     int        `json:"total_seats" yaml:"total_seats"`
}

// Screening is the standalone-mode seed read from config.
type Screening struct {
	ID         int64     `yaml:"id"`
	MovieTitle string    `yaml:"movie_title"`
	StartTime  time.Time `yaml:"start_time"`
	PriceCents int64     `yaml:"price_cents"`
	TotalSeats int       `yaml:"total_seats"`
	Available  *int      `yaml:"available_seats"`
}
