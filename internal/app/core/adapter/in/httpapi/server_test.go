package httpapi_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/in/httpapi"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/out/memory"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/usecase"
)

func newTestHandler(t *testing.T, cache httpapi.ResponseCache) http.Handler {
	t.Helper()

	store, err := memory.NewStore(map[int64]*domain.Account{
		1: {ID: 1, Balance: decimal.NewFromInt(100)},
		2: {ID: 2, Balance: decimal.NewFromInt(0)},
	}, nil)
	require.NoError(t, err)

	ledger := usecase.NewLedger(store, store, store)
	return httpapi.NewServer(ledger, ledger.Transfer).Routes(cache)
}

func transferBody(key string, from, to, amount int64) string {
	return fmt.Sprintf(`{"transactionKey":%q,"fromAccountId":%d,"toAccountId":%d,"amount":%d}`,
		key, from, to, amount)
}

func doTransfer(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/api/ledger/transfer", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTransferEndpoint(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := doTransfer(handler, transferBody(uuid.NewString(), 1, 2, 30))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"completed"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/accounts/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"balance":"70","version":1}`, rec.Body.String())
}

func TestTransferEndpointBadRequest(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := doTransfer(handler, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doTransfer(handler, transferBody("", 1, 2, 30))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doTransfer(handler, transferBody(uuid.NewString(), 1, 2, -30))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferEndpointAccountNotFound(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := doTransfer(handler, transferBody(uuid.NewString(), 99, 2, 30))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferEndpointInsufficientFunds(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := doTransfer(handler, transferBody(uuid.NewString(), 1, 2, 101))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTransferEndpointRetryLimit(t *testing.T) {
	// A transfer entry point that always reports an exhausted retry budget.
	server := httpapi.NewServer(nil, func(ctx context.Context, req domain.TransferRequest) error {
		return fmt.Errorf("transfer %s: %w", req.Key, domain.ErrRetryLimitExceeded)
	})
	handler := server.Routes(nil)

	rec := doTransfer(handler, transferBody(uuid.NewString(), 1, 2, 30))
	assert.Equal(t, 509, rec.Code)
}

func TestGetAccountEndpoint(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/accounts/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/accounts/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

// mapCache is an in-memory stand-in for the Redis response cache.
type mapCache struct {
	entries map[string]httpapi.CachedResponse
	saves   int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]httpapi.CachedResponse)}
}

func (c *mapCache) Get(ctx context.Context, key string) (*httpapi.CachedResponse, error) {
	cached, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return &cached, nil
}

func (c *mapCache) Save(ctx context.Context, key string, response httpapi.CachedResponse, ttl time.Duration) error {
	c.saves++
	c.entries[key] = response
	return nil
}

func TestIdempotencyMiddlewareReplaysResponse(t *testing.T) {
	cache := newMapCache()
	handler := newTestHandler(t, cache)

	key := uuid.NewString()
	body := transferBody(key, 1, 2, 30)

	req := httptest.NewRequest(http.MethodPut, "/api/ledger/transfer", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, cache.saves)

	req = httptest.NewRequest(http.MethodPut, "/api/ledger/transfer", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", key)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Idempotency-Hit"))
	assert.JSONEq(t, `{"status":"completed"}`, rec.Body.String())
	assert.Equal(t, 1, cache.saves, "replayed response must not be re-saved")
}

func TestIdempotencyMiddlewarePassThroughWithoutKey(t *testing.T) {
	cache := newMapCache()
	handler := newTestHandler(t, cache)

	rec := doTransfer(handler, transferBody(uuid.NewString(), 1, 2, 30))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, cache.entries)
}
