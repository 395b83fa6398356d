package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type storeMetrics struct {
	mutations metric.Int64Counter
	conflicts metric.Int64Counter
	cacheHits metric.Int64Counter
	created   metric.Int64Counter
}

func newStoreMetrics() (*storeMetrics, error) {
	meter := otel.Meter("basket-store")

	mutations, err := meter.Int64Counter("basket_mutations",
		metric.WithDescription("Basket mutations by operation and outcome"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("basket_version_conflicts",
		metric.WithDescription("Saves retried after a concurrent write"))
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("basket_cache_lookups",
		metric.WithDescription("Basket reads by cache result"))
	if err != nil {
		return nil, err
	}
	created, err := meter.Int64Counter("baskets_created",
		metric.WithDescription("Baskets created for new tokens"))
	if err != nil {
		return nil, err
	}

	return &storeMetrics{
		mutations: mutations,
		conflicts: conflicts,
		cacheHits: cacheHits,
		created:   created,
	}, nil
}

func (m *storeMetrics) mutation(ctx context.Context, op, outcome string) {
	m.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func (m *storeMetrics) cacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
