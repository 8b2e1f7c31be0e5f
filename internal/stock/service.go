package stock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

const defaultMovementLimit = 50

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives counts of applied adjustments.
type Recorder interface {
	StockAdjusted(direction string, n int)
}

// Service applies standalone adjustments in their own transaction.
type Service struct {
	repo     Repository
	adjuster *Adjuster
	audit    AuditPort
	recorder Recorder
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, adjuster *Adjuster, audit AuditPort, recorder Recorder, logger *slog.Logger) *Service {
	if adjuster == nil {
		adjuster = NewAdjuster(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, adjuster: adjuster, audit: audit, recorder: recorder, logger: logger}
}

// Adjuster returns the adjuster shared with other transactional callers.
func (s *Service) Adjuster() *Adjuster {
	return s.adjuster
}

// ApplyAdjustments applies the batch atomically. Either every delta is applied or none.
func (s *Service) ApplyAdjustments(ctx context.Context, ref Reference, adjustments []Adjustment) ([]Movement, error) {
	var movements []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		movements, err = s.adjuster.Apply(ctx, store, ref, adjustments)
		return err
	})
	if err != nil {
		return nil, err
	}
	Report(s.recorder, movements)
	if s.audit != nil && len(movements) > 0 {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  ref.ActorID,
			Action:   fmt.Sprintf("stock:%s", ref.Reason),
			Entity:   "article",
			EntityID: fmt.Sprintf("%d", movements[0].ArticleID),
			Meta: map[string]any{
				"adjustments": len(movements),
				"note":        ref.Note,
			},
		}); err != nil {
			s.logger.Warn("audit stock adjustment", slog.Any("error", err))
		}
	}
	return movements, nil
}

// Movements lists the latest journal entries for an article.
func (s *Service) Movements(ctx context.Context, articleID int64, limit int) ([]Movement, error) {
	if articleID <= 0 {
		return nil, fmt.Errorf("%w: article id %d", ErrInvalidAdjustment, articleID)
	}
	if limit <= 0 || limit > 500 {
		limit = defaultMovementLimit
	}
	return s.repo.ListMovements(ctx, articleID, limit)
}

// Report forwards applied movements to the recorder.
func Report(recorder Recorder, movements []Movement) {
	if recorder == nil {
		return
	}
	var in, out int
	for _, m := range movements {
		if m.QtyChange.GreaterThan(decimal.Zero) {
			in++
		} else {
			out++
		}
	}
	if in > 0 {
		recorder.StockAdjusted("in", in)
	}
	if out > 0 {
		recorder.StockAdjusted("out", out)
	}
}
