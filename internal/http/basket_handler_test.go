package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/identity"
	"github.com/dreadwing5/Restore/internal/repository"
	"github.com/dreadwing5/Restore/internal/store"
	"github.com/rs/zerolog"
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

var testCatalog = stubCatalog{
	2: {ProductID: 2, Name: "Green Angular Board 3000", UnitPrice: 15000, PictureURL: "/images/products/sb-ang2.png"},
	6: {ProductID: 6, Name: "Blue Hat", UnitPrice: 1000, PictureURL: "/images/products/hat-core1.png"},
}

type testServer struct {
	handler http.Handler
	repo    *repository.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := repository.NewMemoryRepository(0)
	st, err := store.New(repo, nil, testCatalog, nil, zerolog.Nop())
	require.NoError(t, err)
	return &testServer{
		handler: newRouterFor(st, identity.NewResolver(st, zerolog.Nop())),
		repo:    repo,
	}
}

func newRouterFor(st BasketStore, resolver IdentityResolver) http.Handler {
	h := NewBasketHandler(st, resolver, NewCookieChannel(false), 5*time.Second, zerolog.Nop())
	return NewRouter(RouterConfig{
		Basket:         h,
		Logger:         zerolog.Nop(),
		RequestTimeout: 5 * time.Second,
	})
}

func (s *testServer) do(t *testing.T, method, target string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func basketCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == BasketCookieName {
			return c
		}
	}
	return nil
}

func decodeBasket(t *testing.T, rec *httptest.ResponseRecorder) BasketDTO {
	t.Helper()
	var b BasketDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&b))
	return b
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestGetBasket_NoCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/basket", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, basketCookie(rec))
}

func TestGetBasket_StaleCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/basket", &http.Cookie{Name: BasketCookieName, Value: "expired"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAddItem_MintsBasketAndIssuesCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/basket?productId=2&quantity=3", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/basket", rec.Header().Get("Location"))

	cookie := basketCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, int(BasketCookieTTL/time.Second), cookie.MaxAge)

	body := decodeBasket(t, rec)
	assert.Equal(t, cookie.Value, body.BasketID)
	require.Len(t, body.Items, 1)
	assert.Equal(t, domain.Line{
		ProductID:  2,
		Name:       "Green Angular Board 3000",
		UnitPrice:  15000,
		PictureURL: "/images/products/sb-ang2.png",
		Quantity:   3,
	}, body.Items[0])

	rec = s.do(t, http.MethodGet, "/api/basket", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, decodeBasket(t, rec))
}

func TestAddItem_ReusesTokenAndRenewsCookie(t *testing.T) {
	s := newTestServer(t)

	first := s.do(t, http.MethodPost, "/api/basket?productId=6&quantity=1", nil)
	cookie := basketCookie(first)
	require.NotNil(t, cookie)

	rec := s.do(t, http.MethodPost, "/api/basket?productId=6&quantity=2", cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	renewed := basketCookie(rec)
	require.NotNil(t, renewed)
	assert.Equal(t, cookie.Value, renewed.Value)

	body := decodeBasket(t, rec)
	require.Len(t, body.Items, 1)
	assert.Equal(t, 3, body.Items[0].Quantity)
}

func TestAddItem_UnknownProductStillDeliversMintedToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/basket?productId=999&quantity=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeProductNotFound, decodeError(t, rec).Code)

	cookie := basketCookie(rec)
	require.NotNil(t, cookie)

	rec = s.do(t, http.MethodGet, "/api/basket", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBasket(t, rec).Items)
}

func TestAddItem_InvalidQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   string
	}{
		{"zero quantity", "/api/basket?productId=2&quantity=0", CodeInvalidQuantity},
		{"negative quantity", "/api/basket?productId=2&quantity=-1", CodeInvalidQuantity},
		{"missing quantity", "/api/basket?productId=2", CodeInvalidRequest},
		{"bad product id", "/api/basket?productId=abc&quantity=1", CodeInvalidRequest},
		{"missing product id", "/api/basket?quantity=1", CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, tt.target, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Nil(t, basketCookie(rec), "no basket is minted for a malformed request")
		})
	}
}

func TestRemoveItem(t *testing.T) {
	s := newTestServer(t)
	add := s.do(t, http.MethodPost, "/api/basket?productId=2&quantity=1", nil)
	cookie := basketCookie(add)
	s.do(t, http.MethodPost, "/api/basket?productId=6&quantity=4", cookie)

	rec := s.do(t, http.MethodDelete, "/api/basket?productId=6&quantity=1", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBasket(t, rec)
	require.Len(t, body.Items, 2)
	assert.Equal(t, 3, body.Items[1].Quantity)
	assert.NotNil(t, basketCookie(rec))

	rec = s.do(t, http.MethodDelete, "/api/basket?productId=2&quantity=10", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBasket(t, rec)
	require.Len(t, body.Items, 1)
	assert.Equal(t, int64(6), body.Items[0].ProductID)
}

func TestRemoveItem_LineNotFound(t *testing.T) {
	s := newTestServer(t)
	cookie := basketCookie(s.do(t, http.MethodPost, "/api/basket?productId=2&quantity=1", nil))

	rec := s.do(t, http.MethodDelete, "/api/basket?productId=6&quantity=1", cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeLineNotFound, decodeError(t, rec).Code)
}

func TestRemoveItem_NoBasket(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/api/basket?productId=6&quantity=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBasketNotFound, decodeError(t, rec).Code)
	assert.Nil(t, basketCookie(rec))
}

type failingStore struct {
	err error
}

func (f failingStore) Get(context.Context, string) (domain.Basket, error) {
	return domain.Basket{}, f.err
}

func (f failingStore) Apply(context.Context, string, domain.Operation) (domain.Basket, error) {
	return domain.Basket{}, f.err
}

type fixedResolver struct{}

func (fixedResolver) Resolve(context.Context, string) (identity.Ref, bool, error) {
	return identity.Ref{BasketID: "b1"}, false, nil
}

func (fixedResolver) Lookup(context.Context, string) (identity.Ref, bool, error) {
	return identity.Ref{BasketID: "b1"}, true, nil
}

func TestStoreFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"persistence", domain.ErrPersistenceFailure, http.StatusInternalServerError, CodePersistenceFailure},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouterFor(failingStore{err: tt.err}, fixedResolver{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/basket?productId=2&quantity=1", nil))

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
			assert.Nil(t, basketCookie(rec), "a failed mutation does not renew the cookie")
		})
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
