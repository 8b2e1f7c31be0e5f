package localization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
)

// Service resolves strings for a language, falling back to the key itself.
type Service struct {
	repo        Repository
	cache       *Cache
	group       singleflight.Group
	defaultCode string
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.RWMutex
	languages []Language
}

// NewService constructs a Service. defaultCode is used when no language is flagged default.
func NewService(repo Repository, cache *Cache, defaultCode string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		cache:       cache,
		defaultCode: strings.ToLower(strings.TrimSpace(defaultCode)),
		logger:      logger,
		now:         time.Now,
	}
}

// Languages lists active languages, default first. The list is memoised until the next bump.
func (s *Service) Languages(ctx context.Context) ([]Language, error) {
	s.mu.RLock()
	cached := s.languages
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	list, err := s.repo.ListLanguages(ctx)
	if err != nil {
		return nil, fmt.Errorf("localization: list languages: %w", err)
	}
	if list == nil {
		list = []Language{}
	}
	s.mu.Lock()
	s.languages = list
	s.mu.Unlock()
	return list, nil
}

// DefaultLanguage is the language flagged default, else the configured code.
func (s *Service) DefaultLanguage(ctx context.Context) (Language, error) {
	list, err := s.Languages(ctx)
	if err != nil {
		return Language{}, err
	}
	for _, l := range list {
		if l.IsDefault {
			return l, nil
		}
	}
	for _, l := range list {
		if strings.EqualFold(l.Code, s.defaultCode) {
			return l, nil
		}
	}
	return Language{}, ErrLanguageNotFound
}

func (s *Service) resolve(ctx context.Context, code string) (Language, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return s.DefaultLanguage(ctx)
	}
	list, err := s.Languages(ctx)
	if err != nil {
		return Language{}, err
	}
	for _, l := range list {
		if strings.EqualFold(l.Code, code) {
			return l, nil
		}
	}
	return Language{}, ErrLanguageNotFound
}

// GetAll returns every string of the language. An unknown language yields an empty map.
func (s *Service) GetAll(ctx context.Context, code string) (map[string]string, error) {
	lang, err := s.resolve(ctx, code)
	if errors.Is(err, ErrLanguageNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	key, err := s.cache.Key(ctx, "strings", strings.ToLower(lang.Code))
	if err != nil {
		return nil, fmt.Errorf("localization: cache key: %w", err)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		var out map[string]string
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.repo.Strings(ctx, lang.ID)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("localization: load strings: %w", res.Err)
		}
		out, _ := res.Val.(map[string]string)
		if out == nil {
			out = map[string]string{}
		}
		return out, nil
	}
}

// GetString returns the translation of key, or key when it is missing or the lookup fails.
func (s *Service) GetString(ctx context.Context, key, code string) string {
	all, err := s.GetAll(ctx, code)
	if err != nil {
		s.logger.Warn("localization lookup", slog.String("key", key), slog.Any("error", err))
		return key
	}
	if text, ok := all[key]; ok {
		return text
	}
	return key
}

// SetString stores a translation and invalidates every cached language.
func (s *Service) SetString(ctx context.Context, code, key, text, category string) error {
	key = strings.TrimSpace(key)
	if key == "" || text == "" {
		return ErrInvalidString
	}
	lang, err := s.resolve(ctx, code)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertString(ctx, Entry{Key: key, LanguageID: lang.ID, Text: text, Category: category}, s.now().UTC()); err != nil {
		return fmt.Errorf("localization: save string: %w", err)
	}
	return s.Invalidate(ctx)
}

// Invalidate bumps the cache version and drops the memoised languages.
func (s *Service) Invalidate(ctx context.Context) error {
	s.reset()
	if _, err := s.cache.Bump(ctx); err != nil {
		return fmt.Errorf("localization: bump cache: %w", err)
	}
	return nil
}

func (s *Service) reset() {
	s.mu.Lock()
	s.languages = nil
	s.mu.Unlock()
}

// Listen drops local memos whenever another process bumps the version.
func (s *Service) Listen(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(version int64) {
		s.logger.Debug("localization cache bumped", slog.Int64("version", version))
		s.reset()
	})
}

// Warmup fills the cache for every active language and reports how many were loaded.
func (s *Service) Warmup(ctx context.Context) (int, error) {
	list, err := s.Languages(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range list {
		if _, err := s.GetAll(ctx, l.Code); err != nil {
			return 0, err
		}
	}
	return len(list), nil
}

// Negotiate picks the active language best matching an Accept-Language header,
// falling back to the default language.
func (s *Service) Negotiate(ctx context.Context, acceptLanguage string) (Language, error) {
	def, err := s.DefaultLanguage(ctx)
	if err != nil && !errors.Is(err, ErrLanguageNotFound) {
		return Language{}, err
	}
	list, err := s.Languages(ctx)
	if err != nil {
		return Language{}, err
	}
	candidates := make([]Language, 0, len(list))
	tags := make([]language.Tag, 0, len(list))
	if def.ID != 0 {
		if tag, err := language.Parse(def.Code); err == nil {
			candidates = append(candidates, def)
			tags = append(tags, tag)
		}
	}
	for _, l := range list {
		if l.ID == def.ID {
			continue
		}
		tag, err := language.Parse(l.Code)
		if err != nil {
			continue
		}
		candidates = append(candidates, l)
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return Language{}, ErrLanguageNotFound
	}
	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return candidates[0], nil
	}
	_, idx, conf := language.NewMatcher(tags).Match(desired...)
	if conf == language.No {
		return candidates[0], nil
	}
	return candidates[idx], nil
}
