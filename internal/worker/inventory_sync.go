package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskAdjustSeats = "adjust_seats"

const (
	defaultQueueKey      = "inventory:sync:queue"
	defaultDeadLetterKey = "inventory:sync:deadletter"
)

// TaskStore persists sync tasks. *database.DB implements it.
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetSyncTask(ctx context.Context, id int64) (*models.SyncTask, error)
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// seatAdjustmentPayload is persisted in SyncTask.Payload as JSON.
type seatAdjustmentPayload struct {
	ScreeningID int64 `json:"screening_id"`
	Delta       int   `json:"delta"`
}

// InventorySyncWorker replays seat adjustments that failed during booking.
// Tasks are kept in sync_queue and dispatched through a Redis list, an in-memory
// channel when Redis is unavailable, and DB polling for retries.
type InventorySyncWorker struct {
	store         TaskStore
	inventory     domain.InventoryGateway
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

func NewInventorySyncWorker(store TaskStore, inventory domain.InventoryGateway, redisClient *redis.Client, retry RetryPolicy, pollInterval time.Duration, logger *zerolog.Logger) *InventorySyncWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &InventorySyncWorker{
		store:         store,
		inventory:     inventory,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: defaultQueueKey,
		deadLetterKey: defaultDeadLetterKey,
		pollInterval:  pollInterval,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueSeatAdjustment persists the adjustment and schedules it.
func (w *InventorySyncWorker) EnqueueSeatAdjustment(ctx context.Context, bookingID, screeningID int64, delta int) error {
	if screeningID <= 0 {
		return errors.New("screening id is required")
	}
	if delta == 0 {
		return errors.New("seat delta must not be zero")
	}

	payloadBytes, err := json.Marshal(seatAdjustmentPayload{ScreeningID: screeningID, Delta: delta})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  TaskAdjustSeats,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, using memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the dispatch loop until ctx is done.
func (w *InventorySyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("inventory sync worker started")
	defer w.logger.Info().Msg("inventory sync worker stopped")

	for ctx.Err() == nil {
		if !w.runOnce(ctx) {
			if err := Sleep(ctx, w.pollInterval); err != nil {
				return
			}
		}
	}
}

// runOnce processes whatever is available and reports whether anything was found.
func (w *InventorySyncWorker) runOnce(ctx context.Context) bool {
	if t, ok := w.tryLocalQueue(); ok {
		w.processTask(ctx, &t)
		return true
	}

	if t, ok := w.tryRedis(ctx); ok {
		w.processTask(ctx, &t)
		return true
	}

	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending sync tasks")
		return false
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks) > 0
}

func (w *InventorySyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *InventorySyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *InventorySyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	log := w.logger.With().Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Logger()

	// queued copies can be stale when the poller already handled the task
	current, err := w.store.GetSyncTask(ctx, task.ID)
	if err != nil {
		log.Error().Err(err).Msg("load sync task")
		return
	}
	if current.Status == models.SyncStatusCompleted || current.Status == models.SyncStatusFailed {
		return
	}
	task = current

	if task.TaskType != TaskAdjustSeats {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.inventory.AdjustSeats(ctx, payload.ScreeningID, payload.Delta); err != nil {
		if errors.Is(err, domain.ErrScreeningNotFound) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("mark completed")
		return
	}
	log.Info().Int64("screening_id", payload.ScreeningID).Int("delta", payload.Delta).Msg("seat adjustment replayed")
}

func (w *InventorySyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
		return
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("seat adjustment failed, will retry")
}

func (w *InventorySyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Msg("seat adjustment dead-lettered")
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (seatAdjustmentPayload, error) {
	var payload seatAdjustmentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	if payload.ScreeningID <= 0 || payload.Delta == 0 {
		return payload, errors.New("screening id and delta are required")
	}
	return payload, nil
}

func (w *InventorySyncWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *InventorySyncWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
