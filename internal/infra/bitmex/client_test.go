package bitmex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"liquidbot/internal/domain"
	"liquidbot/internal/infra"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientConfig(baseURL string) *infra.Config {
	cfg := &infra.Config{}
	cfg.API.BaseURL = baseURL
	cfg.API.Key = "key"
	cfg.API.Secret = "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"
	cfg.API.Timeout = 2 * time.Second
	cfg.API.RequestsPerSecond = 10000
	cfg.API.RequestBurst = 10000
	cfg.Trading.Symbol = "XBTUSD"
	cfg.Trading.OrderIDPrefix = "mm_liqbot_"
	return cfg
}

func newTestTrader(t *testing.T, serverURL string) *Trader {
	t.Helper()
	c, err := NewClient(clientConfig(serverURL))
	require.NoError(t, err)
	trader, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	return trader
}

func TestClient_SignsRequests(t *testing.T) {
	secret := "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("api-key"))

		expires, err := strconv.ParseInt(r.Header.Get("api-expires"), 10, 64)
		require.NoError(t, err)
		assert.Greater(t, expires, time.Now().Unix(), "expires must be in the future")

		path := r.URL.Path + "?" + r.URL.RawQuery
		assert.Equal(t, Sign(secret, r.Method, path, expires, ""), r.Header.Get("api-signature"))

		w.Write([]byte(`[{"symbol":"XBTUSD","state":"Open","tickSize":0.5}]`))
	}))
	defer srv.Close()

	c, err := NewClient(clientConfig(srv.URL))
	require.NoError(t, err)

	inst, err := c.Instrument(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", inst.Symbol)
	assert.Equal(t, int32(1), inst.TickLog)
}

func TestClient_VersionedBasePath(t *testing.T) {
	secret := "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)

		// The version segment is part of the signed path.
		expires, err := strconv.ParseInt(r.Header.Get("api-expires"), 10, 64)
		require.NoError(t, err)
		path := r.URL.Path + "?" + r.URL.RawQuery
		assert.Equal(t, Sign(secret, r.Method, path, expires, ""), r.Header.Get("api-signature"))

		w.Write([]byte(`[{"symbol":"XBTUSD","state":"Open","tickSize":0.5}]`))
	}))
	defer srv.Close()

	c, err := NewClient(clientConfig(srv.URL + "/api/v1"))
	require.NoError(t, err)

	_, err = c.Instrument(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/instrument", gotPath.Load())
}

func TestClient_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"symbol":"XBTUSD","state":"Open","tickSize":0.5}]`))
	}))
	defer srv.Close()

	c, err := NewClient(clientConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Instrument(context.Background(), "XBTUSD")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryBackoffIsCapped(t *testing.T) {
	bo := newRetryBackoff()
	limit := time.Duration(float64(retryMaxInterval) * (1 + bo.RandomizationFactor))
	for i := 0; i < 64; i++ {
		assert.LessOrEqual(t, bo.NextBackOff(), limit)
	}
}

func TestClient_CancelMissingOrderIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"Not Found","name":"HTTPError"}}`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	_, err := trader.CancelOrders(context.Background(), []string{"gone"})
	assert.NoError(t, err, "an order that no longer exists needs no cancel")
}

func TestClient_KeyAuthRejectionIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(clientConfig(srv.URL))
	require.NoError(t, err)

	_, err = c.Instrument(context.Background(), "XBTUSD")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
	assert.Equal(t, int32(1), calls.Load(), "a bad key never retries")
}

func TestClient_SessionRefreshedOncePerRequest(t *testing.T) {
	var logins atomic.Int32
	var instrumentCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/user/login") {
			n := logins.Add(1)
			w.Write([]byte(`{"id":"token-` + strconv.Itoa(int(n)) + `"}`))
			return
		}
		if instrumentCalls.Add(1) == 1 {
			// First try with the stale token.
			require.Equal(t, "token-1", r.Header.Get("access-token"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "token-2", r.Header.Get("access-token"))
		w.Write([]byte(`[{"symbol":"XBTUSD","state":"Open","tickSize":0.5}]`))
	}))
	defer srv.Close()

	cfg := clientConfig(srv.URL)
	cfg.API.Key = ""
	cfg.API.Secret = ""
	cfg.API.Email = "bot@example.com"
	cfg.API.Password = "hunter2"

	c, err := NewClient(cfg)
	require.NoError(t, err)
	trader, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	var out []domain.Instrument
	err = trader.request(context.Background(), http.MethodGet, "instrument", nil, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(2), logins.Load())
}

func TestTrader_DuplicateClOrdIDRecovered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Duplicate clOrdID","name":"HTTPError"}}`))
			return
		}
		// The re-fetch by clOrdID finds the earlier submission.
		w.Write([]byte(`[{"orderID":"abc","symbol":"XBTUSD","orderQty":100,"price":395.01,"ordStatus":"New"}]`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	order, err := trader.PlaceOrder(context.Background(), 100, decimal.RequireFromString("395.01"))
	require.NoError(t, err)
	assert.Equal(t, "abc", order.OrderID)
}

func TestTrader_DuplicateClOrdIDMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Duplicate clOrdID","name":"HTTPError"}}`))
			return
		}
		// Same ID, different quantity: not our submission.
		w.Write([]byte(`[{"orderID":"abc","symbol":"XBTUSD","orderQty":50,"price":395.01,"ordStatus":"New"}]`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	_, err := trader.PlaceOrder(context.Background(), 100, decimal.RequireFromString("395.01"))
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestTrader_CreateBulkDuplicateRecovered(t *testing.T) {
	// A transport retry can resend a bulk create the exchange already
	// accepted. The whole batch then collides, and each submission must be
	// matched against the order resting under its clOrdID.
	submitted := make(map[string]OrderSubmission)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var req struct {
				Orders []OrderSubmission `json:"orders"`
			}
			require.NoError(t, json.Unmarshal(body, &req))
			for _, sub := range req.Orders {
				submitted[sub.ClOrdID] = sub
			}
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Duplicate clOrdID","name":"HTTPError"}}`))
			return
		}

		var filter struct {
			ClOrdID string `json:"clOrdID"`
		}
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("filter")), &filter))
		sub, ok := submitted[filter.ClOrdID]
		require.True(t, ok, "re-fetch must filter by a submitted clOrdID")
		fmt.Fprintf(w, `[{"orderID":"resting-%s","clOrdID":"%s","symbol":"%s","side":"%s","orderQty":%d,"price":%g,"ordStatus":"New"}]`,
			sub.ClOrdID, sub.ClOrdID, sub.Symbol, sub.Side, sub.OrderQty, sub.Price)
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	orders, err := trader.CreateBulk(context.Background(), []OrderSubmission{
		{Side: domain.SideBuy, OrderQty: 100, Price: 4350.5},
		{Side: domain.SideSell, OrderQty: 200, Price: 4360.0},
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(100), orders[0].OrderQty)
	assert.True(t, orders[0].Price.Equal(decimal.RequireFromString("4350.5")))
	assert.Equal(t, domain.SideSell, orders[1].Side)
}

func TestTrader_CreateBulkDuplicateMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Duplicate clOrdID","name":"HTTPError"}}`))
			return
		}
		// The resting order carries a different quantity.
		w.Write([]byte(`[{"orderID":"resting","symbol":"XBTUSD","side":"Buy","orderQty":50,"price":4350.5,"ordStatus":"New"}]`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	_, err := trader.CreateBulk(context.Background(), []OrderSubmission{
		{Side: domain.SideBuy, OrderQty: 100, Price: 4350.5},
	})
	var integrity *domain.DataIntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestTrader_AmendRaceSurfacesStatusChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid ordStatus","name":"HTTPError"}}`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	_, err := trader.AmendBulk(context.Background(), []OrderAmendment{
		{OrderID: "abc", LeavesQty: 100, Price: 395.5},
	})
	assert.ErrorIs(t, err, domain.ErrOrderStatusChanged)
}

func TestTrader_OpenOrdersFiltersForeign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"orderID":"a","clOrdID":"mm_liqbot_xyz","leavesQty":100,"ordStatus":"New"},
			{"orderID":"b","clOrdID":"manual-order","leavesQty":100,"ordStatus":"New"}
		]`))
	}))
	defer srv.Close()

	trader := newTestTrader(t, srv.URL)

	orders, err := trader.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].OrderID)
}

func TestClient_NewClOrdID(t *testing.T) {
	c, err := NewClient(clientConfig("https://example.com"))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := c.NewClOrdID()
		assert.True(t, strings.HasPrefix(id, "mm_liqbot_"))
		assert.False(t, seen[id], "IDs must be unique")
		seen[id] = true
	}
}

func TestClient_AuthenticateWithoutCredentials(t *testing.T) {
	cfg := clientConfig("https://example.com")
	cfg.API.Key = ""
	cfg.API.Secret = ""

	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Authenticate(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}
