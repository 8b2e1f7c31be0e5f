package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockNegativeScan counts articles whose stock dropped below zero.
	TaskStockNegativeScan = "stock:negative-scan"
	// TaskLocalizationWarmup fills the localization cache for every active language.
	TaskLocalizationWarmup = "localization:warmup"
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NegativeStockScanPayload tunes how many offenders are logged.
type NegativeStockScanPayload struct {
	Limit int `json:"limit"`
}

// LocalizationWarmupPayload carries the trigger origin for logging.
type LocalizationWarmupPayload struct {
	Reason string `json:"reason"`
}

// IdempotencyCleanupPayload overrides the configured retention when positive.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewNegativeStockScanTask constructs a stock:negative-scan task.
func NewNegativeStockScanTask(limit int) (*asynq.Task, error) {
	return newTask(TaskStockNegativeScan, NegativeStockScanPayload{Limit: limit})
}

// NewLocalizationWarmupTask constructs a localization:warmup task.
func NewLocalizationWarmupTask(reason string) (*asynq.Task, error) {
	return newTask(TaskLocalizationWarmup, LocalizationWarmupPayload{Reason: reason})
}

// NewIdempotencyCleanupTask constructs an idempotency:cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

// NewTask builds a task by name with its default payload.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskStockNegativeScan:
		return NewNegativeStockScanTask(0)
	case TaskLocalizationWarmup:
		return NewLocalizationWarmupTask("manual")
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(0)
	default:
		return nil, ErrUnknownTask
	}
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}
