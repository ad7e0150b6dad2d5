package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cinemabooking/internal/catalog"
	"cinemabooking/internal/config"
	"cinemabooking/internal/domain"
	"cinemabooking/internal/events"
	"cinemabooking/internal/lock"
	"cinemabooking/internal/models"
	"cinemabooking/internal/repository"
	"cinemabooking/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC)

// flakyInventory fails the first getFailures snapshot reads and every AdjustSeats while adjustErr is set.
type flakyInventory struct {
	*catalog.MemoryInventory
	getFailures atomic.Int32
	getCalls    atomic.Int32
	adjustErr   error
	panicAdjust bool
}

func (f *flakyInventory) GetSnapshot(ctx context.Context, id int64) (*models.ScreeningSnapshot, error) {
	f.getCalls.Add(1)
	if f.getFailures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.MemoryInventory.GetSnapshot(ctx, id)
}

func (f *flakyInventory) AdjustSeats(ctx context.Context, id int64, delta int) error {
	if f.panicAdjust {
		panic("inventory exploded")
	}
	if f.adjustErr != nil {
		return f.adjustErr
	}
	return f.MemoryInventory.AdjustSeats(ctx, id, delta)
}

type mockSyncQueue struct {
	mock.Mock
}

func (m *mockSyncQueue) EnqueueSeatAdjustment(ctx context.Context, bookingID, screeningID int64, delta int) error {
	return m.Called(ctx, bookingID, screeningID, delta).Error(0)
}

// failingRepo wraps the memory repository and fails selected Save calls.
type failingRepo struct {
	*repository.MemoryBookingRepository
	mu        sync.Mutex
	saves     int
	failSaves map[int]bool
}

func (r *failingRepo) Save(ctx context.Context, b *models.Booking) error {
	r.mu.Lock()
	r.saves++
	fail := r.failSaves[r.saves]
	r.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return r.MemoryBookingRepository.Save(ctx, b)
}

type erroringCoordinator struct{}

func (erroringCoordinator) TryAcquire(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}
func (erroringCoordinator) Release(context.Context, string, string) error {
	return errors.New("redis: connection refused")
}
func (erroringCoordinator) Ping(context.Context) error { return errors.New("redis: connection refused") }

type fixture struct {
	svc       *BookingService
	inventory *flakyInventory
	repo      *failingRepo
	bus       *events.EventBus
}

func screening(id int64, seats int, start time.Time) models.Screening {
	return models.Screening{ID: id, MovieTitle: "Dune", StartTime: start, PriceCents: 950, TotalSeats: seats}
}

func newFixture(t *testing.T, coord lock.Coordinator, screenings ...models.Screening) *fixture {
	t.Helper()
	inv := &flakyInventory{MemoryInventory: catalog.NewMemoryInventory(screenings)}
	repo := &failingRepo{MemoryBookingRepository: repository.NewMemoryBookingRepository(), failSaves: map[int]bool{}}
	bus := events.NewEventBus(nil)

	if coord == nil {
		coord = lock.NewMemoryCoordinator()
	}
	mgr := lock.NewManager(coord, config.LockConfig{
		TTL:         5 * time.Second,
		MaxAttempts: 2000,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Jitter:      time.Millisecond,
		Strict:      true,
	}, nil)

	svc := NewBookingService(Deps{
		Repo:      repo,
		Inventory: inv,
		Locker:    mgr,
		Events:    bus,
		Now:       func() time.Time { return testNow },
	}, config.BookingConfig{RetryStep: time.Millisecond}, nil)

	return &fixture{svc: svc, inventory: inv, repo: repo, bus: bus}
}

func request(id int64, seats int) models.BookingRequest {
	return models.BookingRequest{ScreeningID: id, UserEmail: "  Alice@Example.com ", Seats: seats}
}

func TestCreateBooking_Success(t *testing.T) {
	f := newFixture(t, nil, screening(1, 10, testNow.Add(3*time.Hour)))

	var published []*events.Event
	f.bus.Subscribe(models.EventBookingCreated, func(e *events.Event) error {
		published = append(published, e)
		return nil
	})

	b, err := f.svc.CreateBooking(context.Background(), request(1, 3))
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, "alice@example.com", b.UserEmail)
	assert.Equal(t, int64(2850), b.TotalPriceCents)
	assert.Equal(t, "Dune", b.MovieTitle)
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, testNow, *b.ConfirmedAt)

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 7, left)
	assert.Len(t, published, 1)

	stored, err := f.svc.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, stored.Status)
}

func TestCreateBooking_PreValidation(t *testing.T) {
	f := newFixture(t, nil, screening(1, 10, testNow.Add(3*time.Hour)))

	tests := []struct {
		name string
		req  models.BookingRequest
	}{
		{"zero screening", models.BookingRequest{ScreeningID: 0, UserEmail: "a@b.c", Seats: 1}},
		{"blank email", models.BookingRequest{ScreeningID: 1, UserEmail: "   ", Seats: 1}},
		{"malformed email", models.BookingRequest{ScreeningID: 1, UserEmail: "alice", Seats: 1}},
		{"zero seats", models.BookingRequest{ScreeningID: 1, UserEmail: "a@b.c", Seats: 0}},
		{"too many seats", models.BookingRequest{ScreeningID: 1, UserEmail: "a@b.c", Seats: 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(context.Background(), tt.req)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Zero(t, f.inventory.getCalls.Load(), "validation must not touch the catalog")
}

func TestCreateBooking_Unavailable(t *testing.T) {
	zero := 0
	soldOut := screening(1, 10, testNow.Add(3*time.Hour))
	soldOut.Available = &zero
	started := screening(2, 10, testNow.Add(-time.Minute))
	closing := screening(3, 10, testNow.Add(20*time.Minute))

	f := newFixture(t, nil, soldOut, started, closing, screening(4, 2, testNow.Add(3*time.Hour)))

	tests := []struct {
		name   string
		req    models.BookingRequest
		reason string
	}{
		{"sold out", request(1, 1), "sold out"},
		{"started", request(2, 1), "screening already started"},
		{"window closed", request(3, 1), "booking window closed"},
		{"not enough", request(4, 3), "only 2 seats available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
			assert.Equal(t, tt.reason, domain.PublicMessage(err))
		})
	}

	bookings, err := f.svc.ListBookings(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestCreateBooking_Boundary(t *testing.T) {
	zero := 0
	empty := screening(2, 1, testNow.Add(3*time.Hour))
	empty.Available = &zero
	f := newFixture(t, nil, screening(1, 1, testNow.Add(3*time.Hour)), empty)

	b, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	_, err = f.svc.CreateBooking(context.Background(), request(2, 1))
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestCreateBooking_NoOversell(t *testing.T) {
	const capacity = 10
	f := newFixture(t, nil, screening(1, capacity, testNow.Add(3*time.Hour)))

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateBooking(context.Background(), request(1, 1))
			switch {
			case err == nil:
				ok.Add(1)
			case domain.KindOf(err) == domain.KindUnavailable:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), ok.Load())
	assert.Equal(t, int32(50-capacity), rejected.Load())

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 0, left)

	seats, err := f.svc.CountConfirmedSeats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, capacity, seats)
}

func TestCreateBooking_TwoCallersLastSeats(t *testing.T) {
	last := screening(42, 10, testNow.Add(3*time.Hour))
	last.Available = ptr(1)
	f := newFixture(t, nil, last)

	results := make(chan error, 2)
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		go func() {
			_, err := f.svc.CreateBooking(context.Background(), models.BookingRequest{ScreeningID: 42, UserEmail: email, Seats: 1})
			results <- err
		}()
	}

	var confirmed, unavailable int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			confirmed++
			continue
		}
		if domain.KindOf(err) == domain.KindUnavailable {
			unavailable++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, unavailable)

	left, _ := f.inventory.Available(42)
	assert.Equal(t, 0, left)

	seats, err := f.svc.CountConfirmedSeats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, seats)
}

func TestCreateBooking_LockStoreDownStillValidates(t *testing.T) {
	zero := 0
	soldOut := screening(2, 5, testNow.Add(3*time.Hour))
	soldOut.Available = &zero
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)), soldOut)
	f.svc.locker = lock.NewManager(erroringCoordinator{}, config.LockConfig{
		TTL:         time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Jitter:      time.Millisecond,
		Strict:      true,
	}, nil)

	b, err := f.svc.CreateBooking(context.Background(), request(1, 2))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	_, err = f.svc.CreateBooking(context.Background(), request(2, 1))
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestCreateBooking_FetchRetry(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.inventory.getFailures.Store(2)

	b, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.Equal(t, int32(3), f.inventory.getCalls.Load())
}

func TestCreateBooking_FetchExhausted(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.inventory.getFailures.Store(5)

	_, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.Equal(t, domain.GenericUnavailableMessage, domain.PublicMessage(err))
	assert.Equal(t, int32(3), f.inventory.getCalls.Load())
}

func TestCreateBooking_ScreeningNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CreateBooking(context.Background(), request(99, 1))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrScreeningNotFound)
	assert.Equal(t, int32(1), f.inventory.getCalls.Load())
}

func TestCreateBooking_DefaultPrice(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.inventory = staticInventory{snapshot: models.ScreeningSnapshot{
		ID:             5,
		MovieTitle:     "Heat",
		StartTime:      ptr(testNow.Add(5 * time.Hour)),
		AvailableSeats: ptr(4),
	}}

	b, err := f.svc.CreateBooking(context.Background(), request(5, 2))
	require.NoError(t, err)
	assert.Equal(t, 2*models.DefaultPriceCents, b.TotalPriceCents)
}

func TestCreateBooking_NegativePriceUsesDefault(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.inventory = staticInventory{snapshot: models.ScreeningSnapshot{
		ID:             5,
		MovieTitle:     "Heat",
		StartTime:      ptr(testNow.Add(5 * time.Hour)),
		AvailableSeats: ptr(4),
		PriceCents:     ptr(int64(-500)),
	}}

	b, err := f.svc.CreateBooking(context.Background(), request(5, 2))
	require.NoError(t, err)
	assert.Equal(t, 2*models.DefaultPriceCents, b.TotalPriceCents)
}

func TestCreateBooking_MissingSeatsAndStart(t *testing.T) {
	f := newFixture(t, nil)

	f.svc.inventory = staticInventory{snapshot: models.ScreeningSnapshot{ID: 5, StartTime: ptr(testNow.Add(5 * time.Hour))}}
	_, err := f.svc.CreateBooking(context.Background(), request(5, 1))
	assert.Equal(t, "sold out", domain.PublicMessage(err))

	f.svc.inventory = staticInventory{snapshot: models.ScreeningSnapshot{ID: 5, AvailableSeats: ptr(3)}}
	_, err = f.svc.CreateBooking(context.Background(), request(5, 1))
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestCreateBooking_PersistRetryAndExhaustion(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.repo.failSaves = map[int]bool{1: true, 2: true}

	b, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	f.repo.failSaves = map[int]bool{5: true, 6: true, 7: true}
	_, err = f.svc.CreateBooking(context.Background(), request(1, 1))
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 4, left, "failed persistence must not touch inventory")
}

func TestCreateBooking_ConfirmSaveFailsReturnsPending(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.repo.failSaves = map[int]bool{2: true, 3: true, 4: true}

	b, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NotZero(t, b.ID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Nil(t, b.ConfirmedAt)
}

func TestCreateBooking_InventoryFailureQueuesSync(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.inventory.adjustErr = errors.New("movie service down")

	queue := &mockSyncQueue{}
	queue.On("EnqueueSeatAdjustment", mock.Anything, mock.AnythingOfType("int64"), int64(1), -2).Return(nil).Once()
	f.svc.syncQueue = queue

	b, err := f.svc.CreateBooking(context.Background(), request(1, 2))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	queue.AssertExpectations(t)
}

func TestCreateBooking_PanicAfterPersistReturnsBooking(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.inventory.panicAdjust = true

	b, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NotZero(t, b.ID)
}

func TestCreateBooking_PublishFailureIgnored(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	f.svc.eventBus = failingPublisher{}

	_, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	assert.NoError(t, err)
}

func TestCreateBookingAsync(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	pool := worker.NewPool(2, 4, nil)
	defer pool.Close(context.Background())
	f.svc.pool = pool

	ch, err := f.svc.CreateBookingAsync(context.Background(), request(1, 2))
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, models.StatusConfirmed, res.Booking.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("async booking did not complete")
	}
}

func TestCreateBookingAsync_DetachedFromRequestContext(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	pool := worker.NewPool(1, 1, nil)
	defer pool.Close(context.Background())
	f.svc.pool = pool

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.svc.CreateBookingAsync(ctx, request(1, 1))
	require.NoError(t, err)
	cancel()

	res := <-ch
	assert.NoError(t, res.Err)
}

func TestCreateBookingAsync_PanicIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.inventory = panickingInventory{}
	pool := worker.NewPool(1, 1, nil)
	defer pool.Close(context.Background())
	f.svc.pool = pool

	ch, err := f.svc.CreateBookingAsync(context.Background(), request(1, 1))
	require.NoError(t, err)

	select {
	case res := <-ch:
		assert.Error(t, res.Err)
		assert.Nil(t, res.Booking)
	case <-time.After(2 * time.Second):
		t.Fatal("async booking panic was not reported")
	}
}

func TestCreateBookingAsync_PoolFull(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.pool = rejectingPool{}

	_, err := f.svc.CreateBookingAsync(context.Background(), request(1, 1))
	assert.ErrorIs(t, err, worker.ErrPoolFull)

	f.svc.pool = nil
	_, err = f.svc.CreateBookingAsync(context.Background(), request(1, 1))
	assert.Error(t, err)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))

	var cancelled int
	f.bus.Subscribe(models.EventBookingCancelled, func(*events.Event) error { cancelled++; return nil })

	b, err := f.svc.CreateBooking(context.Background(), request(1, 2))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(context.Background(), b.ID, "mallory@example.com")
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	got, err := f.svc.CancelBooking(context.Background(), b.ID, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.NotNil(t, got.ConfirmedAt)
	assert.Equal(t, 1, cancelled)

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 5, left)

	_, err = f.svc.CancelBooking(context.Background(), b.ID, "alice@example.com")
	assert.Equal(t, domain.KindIllegalState, domain.KindOf(err))
	assert.Equal(t, "booking cannot be cancelled", domain.PublicMessage(err))

	_, err = f.svc.CancelBooking(context.Background(), 999, "alice@example.com")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestCancelBooking_Cutoff(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(90*time.Minute)), screening(2, 5, testNow.Add(3*time.Hour)))

	soon, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	later, err := f.svc.CreateBooking(context.Background(), request(2, 1))
	require.NoError(t, err)

	_, err = f.svc.CancelBooking(context.Background(), soon.ID, "alice@example.com")
	assert.Equal(t, domain.KindIllegalState, domain.KindOf(err))

	_, err = f.svc.CancelBooking(context.Background(), later.ID, "alice@example.com")
	assert.NoError(t, err)
}

func TestCancelBooking_InventoryFailureStillCancels(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))
	b, err := f.svc.CreateBooking(context.Background(), request(1, 2))
	require.NoError(t, err)

	f.inventory.adjustErr = errors.New("timeout")
	queue := &mockSyncQueue{}
	queue.On("EnqueueSeatAdjustment", mock.Anything, b.ID, int64(1), 2).Return(errors.New("queue down"))
	f.svc.syncQueue = queue

	got, err := f.svc.CancelBooking(context.Background(), b.ID, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	queue.AssertExpectations(t)
}

func TestCancelBooking_ConcurrentCancelReturnsSeatsOnce(t *testing.T) {
	f := newFixture(t, nil, screening(1, 10, testNow.Add(3*time.Hour)))

	alice, err := f.svc.CreateBooking(context.Background(), request(1, 4))
	require.NoError(t, err)
	_, err = f.svc.CreateBooking(context.Background(), models.BookingRequest{ScreeningID: 1, UserEmail: "bob@example.com", Seats: 6})
	require.NoError(t, err)

	// both cancels read the confirmed booking before either proceeds
	const callers = 2
	gated := &readBarrierRepo{BookingRepository: f.repo, remaining: callers}
	gated.wg.Add(callers)
	f.svc.repo = gated

	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := f.svc.CancelBooking(context.Background(), alice.ID, "alice@example.com")
			errs <- err
		}()
	}

	var ok, rejected int
	for i := 0; i < callers; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case domain.KindOf(err) == domain.KindIllegalState:
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 4, left)

	confirmed, err := f.svc.CountConfirmedSeats(context.Background(), 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, left+confirmed, 10)
}

func TestCancelBooking_PendingKeepsInventory(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))

	pending := &models.Booking{
		ScreeningID:   1,
		UserEmail:     "alice@example.com",
		Seats:         2,
		Status:        models.StatusPending,
		CreatedAt:     testNow,
		ScreeningTime: ptr(testNow.Add(3 * time.Hour)),
	}
	require.NoError(t, f.repo.MemoryBookingRepository.Save(context.Background(), pending))

	got, err := f.svc.CancelBooking(context.Background(), pending.ID, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	left, _ := f.inventory.Available(1)
	assert.Equal(t, 5, left)
}

func TestListBookingsAndExpired(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))

	first, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)
	second, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)

	list, err := f.svc.ListBookings(context.Background(), " ALICE@example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	_, err = f.svc.ListBookings(context.Background(), "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	stale := &models.Booking{ScreeningID: 1, UserEmail: "bob@example.com", Seats: 1, Status: models.StatusPending, CreatedAt: testNow.Add(-time.Hour)}
	require.NoError(t, f.repo.MemoryBookingRepository.Save(context.Background(), stale))

	expired, err := f.svc.ListExpiredPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)

	expired, err = f.svc.ListExpiredPending(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t, nil, screening(1, 5, testNow.Add(3*time.Hour)))

	confirmed, err := f.svc.CreateBooking(context.Background(), request(1, 1))
	require.NoError(t, err)

	stale := &models.Booking{ScreeningID: 1, UserEmail: "bob@example.com", Seats: 1, Status: models.StatusPending, CreatedAt: testNow.Add(-time.Hour)}
	fresh := &models.Booking{ScreeningID: 1, UserEmail: "carol@example.com", Seats: 1, Status: models.StatusPending, CreatedAt: testNow.Add(-time.Minute)}
	require.NoError(t, f.repo.MemoryBookingRepository.Save(context.Background(), stale))
	require.NoError(t, f.repo.MemoryBookingRepository.Save(context.Background(), fresh))

	n, err := f.svc.ExpirePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetBooking(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	got, err = f.svc.GetBooking(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	got, err = f.svc.GetBooking(context.Background(), confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	n, err = f.svc.ExpirePending(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusMessage(t *testing.T) {
	f := newFixture(t, nil)
	msg := f.svc.StatusMessage(&models.Booking{Status: models.StatusConfirmed, Seats: 2, MovieTitle: "Dune"})
	assert.Contains(t, msg, "Dune")
}

type staticInventory struct {
	snapshot models.ScreeningSnapshot
}

func (s staticInventory) GetSnapshot(context.Context, int64) (*models.ScreeningSnapshot, error) {
	snap := s.snapshot
	return &snap, nil
}

func (s staticInventory) AdjustSeats(context.Context, int64, int) error { return nil }

type failingPublisher struct{}

func (failingPublisher) PublishJSON(string, interface{}) error { return errors.New("bus closed") }

type rejectingPool struct{}

func (rejectingPool) Submit(worker.Job) error { return worker.ErrPoolFull }

func ptr[T any](v T) *T { return &v }

// readBarrierRepo holds the first remaining FindByID calls until all of them have read.
type readBarrierRepo struct {
	domain.BookingRepository
	mu        sync.Mutex
	remaining int
	wg        sync.WaitGroup
}

func (r *readBarrierRepo) FindByID(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := r.BookingRepository.FindByID(ctx, id)
	r.mu.Lock()
	gate := r.remaining > 0
	if gate {
		r.remaining--
	}
	r.mu.Unlock()
	if gate {
		r.wg.Done()
		r.wg.Wait()
	}
	return b, err
}

type panickingInventory struct{}

func (panickingInventory) GetSnapshot(context.Context, int64) (*models.ScreeningSnapshot, error) {
	panic("catalog decoder exploded")
}

func (panickingInventory) AdjustSeats(context.Context, int64, int) error { return nil }
