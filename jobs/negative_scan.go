package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-invoicing/internal/jobs"
	"github.com/odyssey-erp/odyssey-invoicing/internal/masterdata"
)

const defaultScanLimit = 20

// NegativeStockSource reports articles below zero stock.
type NegativeStockSource interface {
	NegativeStock(ctx context.Context, limit int) (masterdata.NegativeStockReport, error)
}

// NegativeStockGauge receives the scanned total.
type NegativeStockGauge interface {
	SetNegativeStock(n int)
}

// NegativeStockScanJob publishes the negative stock count and logs the worst offenders.
type NegativeStockScanJob struct {
	Source  NegativeStockSource
	Gauge   NegativeStockGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNegativeStockScanJob initialises the scan handler.
func NewNegativeStockScanJob(source NegativeStockSource, gauge NegativeStockGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *NegativeStockScanJob {
	return &NegativeStockScanJob{Source: source, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *NegativeStockScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("negative stock scan: handler not configured")
	}
	var payload NegativeStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultScanLimit
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskStockNegativeScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := jobLogger(j.Logger, TaskStockNegativeScan)

	report, err := j.Source.NegativeStock(ctx, payload.Limit)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	if j.Gauge != nil {
		j.Gauge.SetNegativeStock(report.Total)
	}
	for _, article := range report.Articles {
		logger.Warn("negative stock",
			slog.Int64("article_id", article.ID),
			slog.String("article_code", article.Code),
			slog.String("stock_quantity", article.StockQuantity.String()),
		)
	}
	j.Metrics.AddProcessed(TaskStockNegativeScan, report.Total)
	logger.Info("completed negative stock scan",
		slog.Int("articles", report.Total),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
