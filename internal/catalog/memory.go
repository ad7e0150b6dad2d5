package catalog

import (
	"context"
	"sync"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"
)

type screeningState struct {
	title     string
	start     time.Time
	price     int64
	total     int
	available int
}

// MemoryInventory is a fixed-capacity catalog kept in process.
// AdjustSeats clamps availability to [0, total].
type MemoryInventory struct {
	mu         sync.RWMutex
	screenings map[int64]*screeningState
}

func NewMemoryInventory(seed []models.Screening) *MemoryInventory {
	inv := &MemoryInventory{screenings: make(map[int64]*screeningState, len(seed))}
	for _, s := range seed {
		inv.Put(s)
	}
	return inv
}

// Put adds or replaces a screening.
func (m *MemoryInventory) Put(s models.Screening) {
	available := s.TotalSeats
	if s.Available != nil {
		available = clamp(*s.Available, 0, s.TotalSeats)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenings[s.ID] = &screeningState{
		title:     s.MovieTitle,
		start:     s.StartTime,
		price:     s.PriceCents,
		total:     s.TotalSeats,
		available: available,
	}
}

func (m *MemoryInventory) GetSnapshot(ctx context.Context, screeningID int64) (*models.ScreeningSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.screenings[screeningID]
	if !ok {
		return nil, domain.ErrScreeningNotFound
	}
	start := s.start
	price := s.price
	available := s.available
	return &models.ScreeningSnapshot{
		ID:             screeningID,
		MovieTitle:     s.title,
		StartTime:      &start,
		PriceCents:     &price,
		AvailableSeats: &available,
		TotalSeats:     s.total,
	}, nil
}

func (m *MemoryInventory) AdjustSeats(ctx context.Context, screeningID int64, delta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screenings[screeningID]
	if !ok {
		return domain.ErrScreeningNotFound
	}
	s.available = clamp(s.available+delta, 0, s.total)
	return nil
}

// Available returns the current seat count of a screening.
func (m *MemoryInventory) Available(screeningID int64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.screenings[screeningID]
	if !ok {
		return 0, false
	}
	return s.available, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
