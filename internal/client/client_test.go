package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	api "github.com/dreadwing5/Restore/internal/http"
	"github.com/dreadwing5/Restore/internal/identity"
	"github.com/dreadwing5/Restore/internal/repository"
	"github.com/dreadwing5/Restore/internal/store"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog map[int64]domain.ProductSnapshot

func (c stubCatalog) FindByID(_ context.Context, id int64) (domain.ProductSnapshot, error) {
	p, ok := c[id]
	if !ok {
		return domain.ProductSnapshot{}, domain.ErrProductNotFound
	}
	return p, nil
}

func newBasketServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.New(repository.NewMemoryRepository(0), nil, stubCatalog{
		6: {ProductID: 6, Name: "Blue Hat", UnitPrice: 1000, PictureURL: "/images/products/hat-core1.png"},
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	handler := api.NewBasketHandler(st, identity.NewResolver(st, zerolog.Nop()), api.NewCookieChannel(false), 5*time.Second, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Basket:         handler,
		Logger:         zerolog.Nop(),
		RequestTimeout: 5 * time.Second,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newBasketServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, c.Token())

	basket, err := c.AddItem(ctx, 6, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, basket.Quantity(6))
	assert.Equal(t, basket.ID, c.Token(), "minted token is kept in the jar")

	basket, err = c.Apply(ctx, domain.RemoveItem(6, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, basket.Quantity(6))

	fetched, found, err := c.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, basket, fetched)
}

func TestClient_ValidationErrorsMapToSentinels(t *testing.T) {
	srv := newBasketServer(t)
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.RemoveItem(ctx, 6, 1)
	assert.ErrorIs(t, err, domain.ErrBasketNotFound)

	_, err = c.AddItem(ctx, 999, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = c.AddItem(ctx, 6, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = c.RemoveItem(ctx, 6, 1)
	assert.ErrorIs(t, err, domain.ErrLineNotFound)
}

func TestClient_ServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "persistence failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"problem saving basket","code":"persistence_failure"}`))
			},
			want: domain.ErrPersistenceFailure,
		},
		{
			name: "bare 502",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: domain.ErrNetworkFailure,
		},
		{
			name: "garbled body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"basketId":`))
			},
			want: domain.ErrNetworkFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c, err := New(srv.URL)
			require.NoError(t, err)

			_, err = c.AddItem(context.Background(), 6, 1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.AddItem(context.Background(), 6, 1)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.AddItem(context.Background(), 6, 1)
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestClient_BreakerOpensOnServerFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithBreakerSettings(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}))
	require.NoError(t, err)

	for range 4 {
		_, err = c.AddItem(context.Background(), 6, 1)
		assert.ErrorIs(t, err, domain.ErrNetworkFailure)
	}
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits further calls")
}

func TestClient_ValidationErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"item not in basket","code":"line_not_found"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithBreakerSettings(gobreaker.Settings{
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	}))
	require.NoError(t, err)

	for range 3 {
		_, err = c.RemoveItem(context.Background(), 6, 1)
		assert.ErrorIs(t, err, domain.ErrLineNotFound)
	}
}

func TestClient_ApplyUnknownOperation(t *testing.T) {
	c, err := New("http://localhost:1")
	require.NoError(t, err)

	_, err = c.Apply(context.Background(), domain.Operation{Kind: "clear"})
	assert.ErrorIs(t, err, domain.ErrUnknownOperation)
}
