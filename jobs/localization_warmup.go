package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-invoicing/internal/jobs"
)

// LocalizationWarmer fills the localization cache and reports how many languages it loaded.
type LocalizationWarmer interface {
	Warmup(ctx context.Context) (int, error)
}

// LocalizationWarmupJob keeps the localization cache hot.
type LocalizationWarmupJob struct {
	Warmer  LocalizationWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLocalizationWarmupJob initialises the warmup handler.
func NewLocalizationWarmupJob(warmer LocalizationWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LocalizationWarmupJob {
	return &LocalizationWarmupJob{Warmer: warmer, Logger: logger, Metrics: metrics}
}

// Handle executes the warmup.
func (j *LocalizationWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Warmer == nil {
		return errors.New("localization warmup: handler not configured")
	}
	var payload LocalizationWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskLocalizationWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := jobLogger(j.Logger, TaskLocalizationWarmup).With(slog.String("reason", payload.Reason))

	warmed, err := j.Warmer.Warmup(ctx)
	j.Metrics.AddProcessed(TaskLocalizationWarmup, warmed)
	if err != nil {
		logger.Error("warmup failed", slog.Int("languages", warmed), slog.Any("error", err))
		return err
	}
	logger.Info("completed localization warmup",
		slog.Int("languages", warmed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
