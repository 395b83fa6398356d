package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreadwing5/Restore/internal/cache"
	"github.com/dreadwing5/Restore/internal/catalog"
	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/events"
	"github.com/dreadwing5/Restore/internal/logger"
	"github.com/dreadwing5/Restore/internal/merge"
	"github.com/dreadwing5/Restore/internal/repository"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("basket-store")

const (
	defaultMaxRetries        = 5
	defaultSideEffectTimeout = 2 * time.Second
	defaultLoadTimeout       = 5 * time.Second
)

// Store is the authoritative basket store. Mutations of one basket are
// linearized: in process by a per-id lock, across processes by the
// repository's version check.
type Store struct {
	repo      repository.BasketRepository
	cache     cache.BasketCache
	catalog   catalog.ProductLookup
	publisher events.Publisher
	logger    zerolog.Logger
	metrics   *storeMetrics

	locks *keyedMutex
	sfg   singleflight.Group // Prevents cache stampede

	maxRetries        int
	sideEffectTimeout time.Duration
	loadTimeout       time.Duration
}

type Option func(*Store)

func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

func WithSideEffectTimeout(d time.Duration) Option {
	return func(s *Store) { s.sideEffectTimeout = d }
}

// WithLoadTimeout bounds a shared read of one basket.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Store) { s.loadTimeout = d }
}

func New(
	repo repository.BasketRepository,
	basketCache cache.BasketCache,
	products catalog.ProductLookup,
	publisher events.Publisher,
	log zerolog.Logger,
	opts ...Option,
) (*Store, error) {
	metrics, err := newStoreMetrics()
	if err != nil {
		return nil, fmt.Errorf("create store metrics: %w", err)
	}
	if basketCache == nil {
		basketCache = cache.NoopCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	s := &Store{
		repo:              repo,
		cache:             basketCache,
		catalog:           products,
		publisher:         publisher,
		logger:            log,
		metrics:           metrics,
		locks:             newKeyedMutex(),
		maxRetries:        defaultMaxRetries,
		sideEffectTimeout: defaultSideEffectTimeout,
		loadTimeout:       defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the basket for basketID, or domain.ErrBasketNotFound.
// Concurrent reads of one id share a single load, which runs detached from
// any one caller so a caller giving up does not fail the others.
func (s *Store) Get(ctx context.Context, basketID string) (domain.Basket, error) {
	ch := s.sfg.DoChan(basketID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.load(ctx, basketID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Basket{}, res.Err
		}
		return res.Val.(*domain.Basket).Clone(), nil
	case <-ctx.Done():
		return domain.Basket{}, ctx.Err()
	}
}

func (s *Store) load(ctx context.Context, basketID string) (*domain.Basket, error) {
	basket, err := s.cache.Get(ctx, basketID)
	if err == nil {
		s.metrics.cacheLookup(ctx, true)
		return basket, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log(ctx).Warn().Err(err).Str("basket_id", basketID).Msg("cache get failed")
	}
	s.metrics.cacheLookup(ctx, false)

	basket, err = s.repo.GetBasket(ctx, basketID)
	if errors.Is(err, domain.ErrBasketNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load basket: %w", err)
	}

	fill := basket.Clone()
	go s.fillCache(ctx, &fill)

	return basket, nil
}

// Create stores an empty basket under basketID.
// repository.ErrBasketExists is returned unchanged when the id is taken.
func (s *Store) Create(ctx context.Context, basketID string) (domain.Basket, error) {
	basket := domain.NewBasket(basketID)
	err := s.repo.CreateBasket(ctx, &basket)
	if errors.Is(err, repository.ErrBasketExists) {
		return domain.Basket{}, err
	}
	if err != nil {
		return domain.Basket{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	s.metrics.created.Add(ctx, 1)
	s.writeThrough(ctx, basket)
	return basket, nil
}

// Apply runs op against the stored basket and returns the committed result.
// Validation errors and persistence failures leave the stored basket as it was.
func (s *Store) Apply(ctx context.Context, basketID string, op domain.Operation) (domain.Basket, error) {
	ctx, span := tracer.Start(ctx, "Store.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("basket.id", basketID),
		attribute.String("basket.operation", string(op.Kind)),
		attribute.Int64("product.id", op.ProductID),
		attribute.Int("basket.quantity", op.Quantity),
	)

	basket, err := s.apply(ctx, basketID, op)
	if err != nil {
		outcome := "error"
		if domain.IsValidationError(err) {
			outcome = "rejected"
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.mutation(ctx, string(op.Kind), outcome)
		return domain.Basket{}, err
	}

	s.metrics.mutation(ctx, string(op.Kind), "committed")
	return basket, nil
}

func (s *Store) apply(ctx context.Context, basketID string, op domain.Operation) (domain.Basket, error) {
	op, err := s.prepare(ctx, op)
	if err != nil {
		return domain.Basket{}, err
	}

	unlock, err := s.locks.Lock(ctx, basketID)
	if err != nil {
		return domain.Basket{}, err
	}
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		current, err := s.repo.GetBasket(ctx, basketID)
		if errors.Is(err, domain.ErrBasketNotFound) {
			return domain.Basket{}, err
		}
		if err != nil {
			return domain.Basket{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}

		next, err := merge.Apply(*current, op)
		if err != nil {
			return domain.Basket{}, err
		}

		err = s.repo.SaveBasket(ctx, &next)
		if err == nil {
			s.afterCommit(ctx, next, op)
			return next.Clone(), nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.conflicts.Add(ctx, 1)
			s.log(ctx).Debug().Str("basket_id", basketID).Int("attempt", attempt).Msg("version conflict, reloading basket")
			continue
		}
		if errors.Is(err, domain.ErrBasketNotFound) {
			return domain.Basket{}, err
		}
		return domain.Basket{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	return domain.Basket{}, fmt.Errorf("%w: gave up after %d version conflicts", domain.ErrPersistenceFailure, s.maxRetries+1)
}

// prepare validates op and, for adds, replaces any caller-supplied product
// data with the catalog's.
func (s *Store) prepare(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	if op.Quantity < 1 {
		return op, domain.ErrInvalidQuantity
	}

	switch op.Kind {
	case domain.OpAddItem:
		product, err := s.catalog.FindByID(ctx, op.ProductID)
		if err != nil {
			return op, err
		}
		return domain.AddItem(product, op.Quantity), nil
	case domain.OpRemoveItem:
		return op, nil
	default:
		return op, fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op.Kind)
	}
}

// afterCommit runs the side effects of a committed write. They never fail
// the mutation.
func (s *Store) afterCommit(ctx context.Context, basket domain.Basket, op domain.Operation) {
	s.writeThrough(ctx, basket)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	if err := s.publisher.BasketChanged(pubCtx, basket, op); err != nil {
		s.log(ctx).Error().Err(err).Str("basket_id", basket.ID).Msg("publish basket event failed")
	}
}

func (s *Store) writeThrough(ctx context.Context, basket domain.Basket) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	cached := basket.Clone()
	if err := s.cache.Set(ctx, &cached); err != nil {
		s.log(ctx).Warn().Err(err).Str("basket_id", basket.ID).Msg("cache set failed, invalidating")
		if err := s.cache.Delete(ctx, basket.ID); err != nil {
			s.log(ctx).Error().Err(err).Str("basket_id", basket.ID).Msg("cache invalidate failed")
		}
	}
}

func (s *Store) fillCache(ctx context.Context, basket *domain.Basket) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()
	if _, err := s.cache.Fill(ctx, basket); err != nil {
		s.log(ctx).Warn().Err(err).Str("basket_id", basket.ID).Msg("cache fill failed")
	}
}

func (s *Store) log(ctx context.Context) *zerolog.Logger {
	l := logger.FromContext(ctx, s.logger)
	return &l
}
