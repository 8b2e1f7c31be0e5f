package masterdata

import (
	"context"
	"fmt"
)

const (
	defaultReportLimit = 100
	maxReportLimit     = 1000
)

// NegativeStockReport summarises oversold articles.
type NegativeStockReport struct {
	Total    int       `json:"total"`
	Articles []Article `json:"articles"`
}

// Service exposes read access to reference data.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) BusinessUnits(ctx context.Context) ([]BusinessUnit, error) {
	return s.repo.ListBusinessUnits(ctx)
}

func (s *Service) SalesCategories(ctx context.Context) ([]SalesCategory, error) {
	return s.repo.ListSalesCategories(ctx)
}

func (s *Service) Subject(ctx context.Context, id int64) (Subject, error) {
	if id <= 0 {
		return Subject{}, fmt.Errorf("%w: subject", errInvalidID)
	}
	return s.repo.GetSubject(ctx, id)
}

func (s *Service) Article(ctx context.Context, id int64) (Article, error) {
	if id <= 0 {
		return Article{}, fmt.Errorf("%w: article", errInvalidID)
	}
	return s.repo.GetArticle(ctx, id)
}

// NegativeStock lists active articles whose stock went below zero.
func (s *Service) NegativeStock(ctx context.Context, limit int) (NegativeStockReport, error) {
	if limit <= 0 {
		limit = defaultReportLimit
	}
	if limit > maxReportLimit {
		limit = maxReportLimit
	}
	total, err := s.repo.CountNegativeStockArticles(ctx)
	if err != nil {
		return NegativeStockReport{}, fmt.Errorf("masterdata: count negative stock: %w", err)
	}
	articles, err := s.repo.ListNegativeStockArticles(ctx, limit)
	if err != nil {
		return NegativeStockReport{}, fmt.Errorf("masterdata: list negative stock: %w", err)
	}
	if articles == nil {
		articles = []Article{}
	}
	return NegativeStockReport{Total: total, Articles: articles}, nil
}
