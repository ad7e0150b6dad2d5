package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cinemabooking/internal/config"
	"cinemabooking/internal/domain"
	"cinemabooking/internal/metrics"
	"cinemabooking/internal/models"
	"cinemabooking/internal/worker"

	"github.com/rs/zerolog"
)

// Flow stages, logged under "stage".
const (
	stageValidating         = "validating"
	stageFetching           = "fetching"
	stageValidated          = "validated"
	stagePersisting         = "persisting"
	stageConfirmed          = "confirmed"
	stageInventoryAdjusting = "inventory_adjusting"
	stageEventPublished     = "event_published"
	stageDone               = "done"
)

// JobSubmitter accepts background jobs; *worker.Pool implements it.
type JobSubmitter interface {
	Submit(job worker.Job) error
}

// AsyncResult is delivered once on the channel returned by CreateBookingAsync.
type AsyncResult struct {
	Booking *models.Booking
	Err     error
}

// Deps groups the collaborators of BookingService. Events, SyncQueue and Pool are optional.
type Deps struct {
	Repo      domain.BookingRepository
	Inventory domain.InventoryGateway
	Locker    domain.Locker
	Events    domain.EventPublisher
	SyncQueue domain.SeatSyncQueue
	Pool      JobSubmitter
	Now       func() time.Time
}

type BookingService struct {
	repo      domain.BookingRepository
	inventory domain.InventoryGateway
	locker    domain.Locker
	eventBus  domain.EventPublisher
	syncQueue domain.SeatSyncQueue
	pool      JobSubmitter
	rules     *domain.BookingRules
	cfg       config.BookingConfig
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewBookingService(deps Deps, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxSeats <= 0 || cfg.MaxSeats > models.MaxSeatsPerBooking {
		cfg.MaxSeats = models.MaxSeatsPerBooking
	}
	if cfg.BookingCutoff <= 0 {
		cfg.BookingCutoff = models.BookingCutoff
	}
	if cfg.DefaultPriceCents <= 0 {
		cfg.DefaultPriceCents = models.DefaultPriceCents
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = 100 * time.Millisecond
	}
	if cfg.PendingExpiry <= 0 {
		cfg.PendingExpiry = models.DefaultPendingExpiry
	}

	return &BookingService{
		repo:      deps.Repo,
		inventory: deps.Inventory,
		locker:    deps.Locker,
		eventBus:  deps.Events,
		syncQueue: deps.SyncQueue,
		pool:      deps.Pool,
		rules:     domain.NewBookingRules(cfg.CancellationCutoff, deps.Now),
		cfg:       cfg,
		now:       deps.Now,
		logger:    logger,
	}
}

// CreateBooking reserves seats on one screening. Once the booking has been
// persisted the caller always receives it, even if a later step fails.
func (s *BookingService) CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	log := s.logger.With().Int64("screening_id", req.ScreeningID).Int("seats", req.Seats).Logger()
	log.Info().Str("stage", stageValidating).Msg("booking request received")

	email, err := s.validateRequest(req)
	if err != nil {
		metrics.IncBooking("rejected")
		return nil, err
	}
	req.UserEmail = email

	var result *models.Booking
	err = s.locker.ExecuteWithLock(ctx, req.ScreeningID, func(ctx context.Context) error {
		b, err := s.processLocked(ctx, req, &log)
		result = b
		return err
	})
	if err != nil {
		metrics.IncBooking(outcomeFor(err))
		return nil, err
	}

	metrics.IncBooking("confirmed")
	return result, nil
}

// CreateBookingAsync runs CreateBooking on the worker pool.
func (s *BookingService) CreateBookingAsync(ctx context.Context, req models.BookingRequest) (<-chan AsyncResult, error) {
	if s.pool == nil {
		return nil, errors.New("booking service has no worker pool")
	}

	out := make(chan AsyncResult, 1)
	job := func(poolCtx context.Context) {
		// the request context may already be gone; keep its values only
		jobCtx, cancel := mergeCancel(context.WithoutCancel(ctx), poolCtx)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("panic", fmt.Sprint(r)).Msg("async booking panicked")
				out <- AsyncResult{Err: fmt.Errorf("async booking panicked: %v", r)}
			}
		}()

		b, err := s.CreateBooking(jobCtx, req)
		out <- AsyncResult{Booking: b, Err: err}
	}

	if err := s.pool.Submit(job); err != nil {
		metrics.IncBooking("rejected")
		return nil, err
	}
	return out, nil
}

// mergeCancel returns ctx cancelled also when stop is done.
func mergeCancel(ctx, stop context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	unregister := context.AfterFunc(stop, cancel)
	return merged, func() {
		unregister()
		cancel()
	}
}

func (s *BookingService) validateRequest(req models.BookingRequest) (string, error) {
	if req.ScreeningID <= 0 {
		return "", domain.Validation("screening id must be positive")
	}
	email := normalizeEmail(req.UserEmail)
	if email == "" {
		return "", domain.Validation("user email is required")
	}
	if !strings.Contains(email, "@") {
		return "", domain.Validation("user email is invalid")
	}
	if req.Seats < models.MinSeatsPerBooking || req.Seats > s.cfg.MaxSeats {
		return "", domain.Validation("number of seats must be between %d and %d", models.MinSeatsPerBooking, s.cfg.MaxSeats)
	}
	return email, nil
}

func (s *BookingService) processLocked(ctx context.Context, req models.BookingRequest, log *zerolog.Logger) (booking *models.Booking, err error) {
	log.Debug().Str("stage", stageFetching).Msg("fetching screening")
	snapshot, err := s.fetchSnapshot(ctx, req.ScreeningID)
	if err != nil {
		return nil, err
	}

	if err := s.validateSnapshot(snapshot, req.Seats, log); err != nil {
		log.Info().Err(err).Msg("booking rejected")
		return nil, err
	}
	log.Debug().Str("stage", stageValidated).Msg("screening validated")

	booking = s.buildBooking(req, snapshot, log)

	log.Debug().Str("stage", stagePersisting).Msg("persisting booking")
	if err := s.saveWithRetry(ctx, booking); err != nil {
		return nil, err
	}

	// The booking exists from here on. Later failures are logged, never returned.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Int64("booking_id", booking.ID).Msg("booking flow panicked after persistence")
			err = nil
		}
	}()

	persisted := booking.Clone()
	if err := s.rules.Confirm(booking); err != nil {
		log.Error().Err(err).Int64("booking_id", booking.ID).Msg("confirm failed")
		return persisted, nil
	}
	if err := s.saveWithRetry(ctx, booking); err != nil {
		log.Error().Err(err).Int64("booking_id", booking.ID).Msg("confirmed booking not saved")
		return persisted, nil
	}
	log.Info().Str("stage", stageConfirmed).Int64("booking_id", booking.ID).Msg("booking confirmed")

	log.Debug().Str("stage", stageInventoryAdjusting).Msg("adjusting inventory")
	s.adjustSeats(ctx, booking.ID, booking.ScreeningID, -booking.Seats, log)

	s.publish(models.EventBookingCreated, models.BookingCreatedEvent{
		BookingID:       booking.ID,
		UserEmail:       booking.UserEmail,
		MovieTitle:      booking.MovieTitle,
		ScreeningTime:   booking.ScreeningTime,
		Seats:           booking.Seats,
		TotalPriceCents: booking.TotalPriceCents,
	}, booking.ID)
	log.Debug().Str("stage", stageEventPublished).Msg("event published")

	log.Info().Str("stage", stageDone).Int64("booking_id", booking.ID).Msg("booking created")
	return booking.Clone(), nil
}

func (s *BookingService) fetchSnapshot(ctx context.Context, screeningID int64) (*models.ScreeningSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.FetchAttempts; attempt++ {
		snapshot, err := s.inventory.GetSnapshot(ctx, screeningID)
		switch {
		case errors.Is(err, domain.ErrScreeningNotFound):
			return nil, domain.NotFound("screening not found", err)
		case err == nil && snapshot == nil:
			return nil, domain.NotFound("screening not found", domain.ErrScreeningNotFound)
		case err == nil:
			return snapshot, nil
		}

		lastErr = err
		s.logger.Warn().Err(err).Int64("screening_id", screeningID).Int("attempt", attempt).Msg("screening fetch failed")
		if attempt < s.cfg.FetchAttempts {
			if err := worker.Sleep(ctx, worker.LinearDelay(s.cfg.RetryStep, attempt)); err != nil {
				return nil, domain.Transient("screening fetch cancelled", err)
			}
		}
	}
	return nil, domain.Transient("screening service unavailable", lastErr)
}

func (s *BookingService) validateSnapshot(snapshot *models.ScreeningSnapshot, seats int, log *zerolog.Logger) error {
	available := 0
	if snapshot.AvailableSeats == nil {
		log.Warn().Msg("screening snapshot has no available seats, treating as 0")
	} else {
		available = *snapshot.AvailableSeats
	}

	if available <= 0 {
		return domain.Unavailable("sold out")
	}
	if available < seats {
		return domain.Unavailable("only %d seats available", available)
	}

	if snapshot.StartTime == nil {
		log.Warn().Msg("screening snapshot has no start time")
		return domain.Unavailable("invalid screening")
	}
	now := s.now()
	if snapshot.StartTime.Before(now) {
		return domain.Unavailable("screening already started")
	}
	if snapshot.StartTime.Add(-s.cfg.BookingCutoff).Before(now) {
		return domain.Unavailable("booking window closed")
	}
	return nil
}

func (s *BookingService) buildBooking(req models.BookingRequest, snapshot *models.ScreeningSnapshot, log *zerolog.Logger) *models.Booking {
	unit := s.cfg.DefaultPriceCents
	switch {
	case snapshot.PriceCents == nil:
		log.Warn().Int64("default_price_cents", unit).Msg("screening snapshot has no price, using default")
	case *snapshot.PriceCents < 0:
		log.Warn().Int64("price_cents", *snapshot.PriceCents).Int64("default_price_cents", unit).
			Msg("screening snapshot has a negative price, using default")
	default:
		unit = *snapshot.PriceCents
	}

	start := *snapshot.StartTime
	return &models.Booking{
		ScreeningID:     req.ScreeningID,
		UserEmail:       req.UserEmail,
		Seats:           req.Seats,
		TotalPriceCents: unit * int64(req.Seats),
		Status:          models.StatusPending,
		CreatedAt:       s.now(),
		MovieTitle:      snapshot.MovieTitle,
		ScreeningTime:   &start,
	}
}

func (s *BookingService) saveWithRetry(ctx context.Context, booking *models.Booking) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.PersistAttempts; attempt++ {
		err := s.repo.Save(ctx, booking)
		if err == nil {
			return nil
		}
		if domain.IsBusiness(err) || errors.Is(err, domain.ErrBookingNotFound) {
			return err
		}

		lastErr = err
		s.logger.Warn().Err(err).Int64("booking_id", booking.ID).Int("attempt", attempt).Msg("booking save failed")
		if attempt < s.cfg.PersistAttempts {
			if err := worker.Sleep(ctx, worker.LinearDelay(s.cfg.RetryStep, attempt)); err != nil {
				return domain.Transient("booking save cancelled", err)
			}
		}
	}
	return domain.Transient("booking store unavailable", lastErr)
}

// adjustSeats applies delta best-effort. A failure is queued for the sync worker when one is configured.
func (s *BookingService) adjustSeats(ctx context.Context, bookingID, screeningID int64, delta int, log *zerolog.Logger) {
	err := s.inventory.AdjustSeats(ctx, screeningID, delta)
	if err == nil {
		return
	}

	metrics.IncBestEffortFailure("adjust_seats")
	log.Warn().Err(err).Int64("booking_id", bookingID).Int("delta", delta).Msg("seat adjustment failed")

	if s.syncQueue == nil {
		return
	}
	if err := s.syncQueue.EnqueueSeatAdjustment(context.WithoutCancel(ctx), bookingID, screeningID, delta); err != nil {
		metrics.IncBestEffortFailure("enqueue_sync")
		log.Error().Err(err).Int64("booking_id", bookingID).Msg("seat adjustment not queued")
	}
}

func (s *BookingService) publish(eventType string, payload interface{}, bookingID int64) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		metrics.IncBestEffortFailure("publish_event")
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", bookingID).Msg("publish event error")
	}
}

// CancelBooking cancels a booking owned by userEmail. Seats of a confirmed booking go back
// to the inventory; the booking is re-read under the screening lock before it changes.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID int64, userEmail string) (*models.Booking, error) {
	log := s.logger.With().Int64("booking_id", bookingID).Logger()

	found, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = s.locker.ExecuteWithLock(ctx, found.ScreeningID, func(ctx context.Context) error {
		current, err := s.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !strings.EqualFold(current.UserEmail, normalizeEmail(userEmail)) {
			log.Warn().Msg("cancellation by non-owner rejected")
			return domain.Unauthorized("not authorized")
		}

		held := current.Status == models.StatusConfirmed
		if err := s.rules.Cancel(current); err != nil {
			return err
		}
		if err := s.saveWithRetry(ctx, current); err != nil {
			return err
		}
		// pending bookings never took seats
		if held {
			s.adjustSeats(ctx, current.ID, current.ScreeningID, current.Seats, &log)
		}
		booking = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(models.EventBookingCancelled, models.BookingCancelledEvent{
		BookingID:   booking.ID,
		UserEmail:   booking.UserEmail,
		ScreeningID: booking.ScreeningID,
		Seats:       booking.Seats,
	}, booking.ID)

	metrics.IncBooking("cancelled")
	log.Info().Str("user_email", booking.UserEmail).Msg("booking cancelled")
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return nil, domain.NotFound("booking not found", err)
	}
	if err != nil {
		return nil, domain.Transient("booking store unavailable", err)
	}
	return booking, nil
}

// ListBookings returns the bookings of a user, newest first.
func (s *BookingService) ListBookings(ctx context.Context, userEmail string) ([]*models.Booking, error) {
	email := normalizeEmail(userEmail)
	if email == "" {
		return nil, domain.Validation("user email is required")
	}
	bookings, err := s.repo.FindByUserEmail(ctx, email)
	if err != nil {
		return nil, domain.Transient("booking store unavailable", err)
	}
	return bookings, nil
}

// ListExpiredPending returns pending bookings older than olderThan (the configured expiry when <= 0).
func (s *BookingService) ListExpiredPending(ctx context.Context, olderThan time.Duration) ([]*models.Booking, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.PendingExpiry
	}
	bookings, err := s.repo.FindExpiredPending(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, domain.Transient("booking store unavailable", err)
	}
	return bookings, nil
}

// ExpirePending moves pending bookings older than olderThan to expired and returns
// how many changed. Each booking is re-read under its screening lock.
func (s *BookingService) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.ListExpiredPending(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		err := s.locker.ExecuteWithLock(ctx, b.ScreeningID, func(ctx context.Context) error {
			current, err := s.repo.FindByID(ctx, b.ID)
			if err != nil {
				return err
			}
			if current.Status != models.StatusPending {
				return nil
			}
			if err := s.rules.Expire(current); err != nil {
				return err
			}
			if err := s.saveWithRetry(ctx, current); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("expire pending booking")
		}
	}
	return expired, nil
}

// RunExpirySweep expires stale pending bookings every interval until ctx is done.
func (s *BookingService) RunExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.PendingExpiry
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpirePending(ctx, 0)
			if err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("pending expiry sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("expired", n).Msg("stale pending bookings expired")
			}
		}
	}
}

func (s *BookingService) CountConfirmedSeats(ctx context.Context, screeningID int64) (int, error) {
	n, err := s.repo.CountConfirmedSeats(ctx, screeningID)
	if err != nil {
		return 0, domain.Transient("booking store unavailable", err)
	}
	return n, nil
}

func (s *BookingService) StatusMessage(booking *models.Booking) string {
	return s.rules.StatusMessage(booking)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func outcomeFor(err error) string {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindUnavailable, domain.KindNotFound:
		return "rejected"
	case domain.KindLockUnavailable:
		return "lock_unavailable"
	default:
		return "failed"
	}
}

var _ domain.BookingService = (*BookingService)(nil)
