package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	terminalKeyPrefix = "baseline:"
	populationKey     = "baseline:population"
)

// Store serves baselines from the cache, falling back to the repository.
// It is read-mostly: only Job writes baselines.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a cached baseline accessor. cache may be nil.
func NewStore(repo domain.Repository, c domain.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Baseline returns the baseline of a terminal, or nil when the terminal has none.
func (s *Store) Baseline(ctx context.Context, terminalCode string) (*domain.Baseline, error) {
	key := terminalKeyPrefix + terminalCode
	if s.cache != nil {
		var b domain.Baseline
		ok, err := cache.GetJSON(ctx, s.cache, key, &b)
		if err != nil {
			s.logger.Warn("baseline cache read failed", "terminal", terminalCode, "error", err)
		}
		if ok {
			return &b, nil
		}
	}

	b, err := s.repo.GetBaseline(ctx, terminalCode)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline for %s: %w", terminalCode, err)
	}

	s.put(ctx, key, b)
	return b, nil
}

// Population returns the population baseline, or nil when none was computed.
func (s *Store) Population(ctx context.Context) (*domain.PopulationBaseline, error) {
	if s.cache != nil {
		var p domain.PopulationBaseline
		ok, err := cache.GetJSON(ctx, s.cache, populationKey, &p)
		if err != nil {
			s.logger.Warn("population cache read failed", "error", err)
		}
		if ok {
			return &p, nil
		}
	}

	p, err := s.repo.GetPopulationBaseline(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get population baseline: %w", err)
	}

	s.put(ctx, populationKey, p)
	return p, nil
}

// Invalidate drops the cached entries of the given terminals and the population.
func (s *Store) Invalidate(ctx context.Context, terminalCodes ...string) {
	if s.cache == nil {
		return
	}
	for _, code := range terminalCodes {
		if err := s.cache.Delete(ctx, terminalKeyPrefix+code); err != nil {
			s.logger.Warn("baseline cache delete failed", "terminal", code, "error", err)
		}
	}
	if err := s.cache.Delete(ctx, populationKey); err != nil {
		s.logger.Warn("population cache delete failed", "error", err)
	}
}

func (s *Store) put(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, s.ttl); err != nil {
		s.logger.Warn("baseline cache write failed", "key", key, "error", err)
	}
}
