package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netclient "github.com/coinpulse/coinpulse/internal/net/client"
)

const marketsPageBody = `[
	{
		"id": "bitcoin", "symbol": "btc", "name": "Bitcoin",
		"image": "https://assets.example/btc.png",
		"current_price": 50000.12, "market_cap": 980000000000,
		"market_cap_rank": 1, "fully_diluted_valuation": null,
		"total_volume": 32000000000, "high_24h": 51000, "low_24h": 49000,
		"price_change_24h": -120.5, "price_change_percentage_24h": -0.24,
		"price_change_percentage_7d_in_currency": 2.5,
		"price_change_percentage_30d_in_currency": null,
		"market_cap_change_24h": -100000, "market_cap_change_percentage_24h": -0.01,
		"circulating_supply": 19600000, "total_supply": 21000000, "max_supply": 21000000,
		"ath": 69045, "ath_change_percentage": -27.5, "ath_date": "2021-11-10T14:24:11.849Z",
		"atl": 67.81, "atl_change_percentage": 73600.1, "atl_date": "2013-07-06T00:00:00.000Z",
		"last_updated": "2023-11-14T06:03:00.123Z",
		"roi": {"times": 1.2, "currency": "usd"}
	},
	{
		"id": "ethereum", "symbol": "eth", "name": "Ethereum",
		"current_price": 3000, "market_cap": null, "market_cap_rank": null,
		"total_volume": null, "last_updated": null
	}
]`

func testProvider(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	httpClient := &http.Client{
		Timeout:   5 * time.Second,
		Transport: netclient.NewWrapper(Name, nil, nil, nil),
	}
	c := New(httpClient, Config{
		BaseURL:  srv.URL,
		APIKey:   "cg-test-key",
		Quote:    "usd",
		PageSize: 250,
	}, zerolog.Nop())
	return c, srv
}

func TestMarketsPageRequestShape(t *testing.T) {
	var gotPath, gotKey atomic.Value
	var gotQuery atomic.Value
	c, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotQuery.Store(r.URL.Query())
		gotKey.Store(r.Header.Get(apiKeyHeader))
		w.Write([]byte(`[]`))
	}))

	_, err := c.MarketsPage(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, "/coins/markets", gotPath.Load())
	assert.Equal(t, "cg-test-key", gotKey.Load())

	q := gotQuery.Load().(url.Values)
	assert.Equal(t, []string{"usd"}, q["vs_currency"])
	assert.Equal(t, []string{"market_cap_desc"}, q["order"])
	assert.Equal(t, []string{"250"}, q["per_page"])
	assert.Equal(t, []string{"3"}, q["page"])
	assert.Equal(t, []string{"false"}, q["sparkline"])
	assert.Equal(t, []string{"24h,7d,30d"}, q["price_change_percentage"])
}

func TestMarketsPageDecodesFieldsAndNulls(t *testing.T) {
	c, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(marketsPageBody))
	}))

	assets, err := c.MarketsPage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	btc := assets[0]
	assert.Equal(t, "bitcoin", btc.ID)
	assert.Equal(t, "btc", btc.Symbol)
	assert.Equal(t, "Bitcoin", btc.Name)
	require.True(t, btc.CurrentPrice.Valid)
	assert.True(t, btc.CurrentPrice.Decimal.Equal(decimal.RequireFromString("50000.12")))
	require.NotNil(t, btc.MarketCapRank)
	assert.EqualValues(t, 1, *btc.MarketCapRank)
	assert.False(t, btc.FullyDilutedValuation.Valid, "JSON null stays null")
	require.True(t, btc.PriceChangePct7d.Valid)
	assert.True(t, btc.PriceChangePct7d.Decimal.Equal(decimal.RequireFromString("2.5")))
	assert.False(t, btc.PriceChangePct30d.Valid)
	assert.Equal(t, "2021-11-10T14:24:11.849Z", btc.ATHDate)

	eth := assets[1]
	assert.Equal(t, "ethereum", eth.ID)
	assert.False(t, eth.MarketCap.Valid)
	assert.Nil(t, eth.MarketCapRank)
	assert.False(t, eth.TotalVolume.Valid)
	assert.Empty(t, eth.LastUpdated)
}

func TestMarketsPageStatusErrorsAreTyped(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	c, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(int(status.Load()))
	}))

	_, err := c.MarketsPage(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, netclient.IsTransient(err))
	assert.Equal(t, 10*time.Second, netclient.RetryAfterHint(err))

	status.Store(http.StatusNotFound)
	_, err = c.MarketsPage(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, netclient.IsTransient(err), "plain 4xx is terminal for the page")
}

func TestMarketsPageDecodeFailureIsPermanent(t *testing.T) {
	c, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"not an array"}`))
	}))

	_, err := c.MarketsPage(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, netclient.IsTransient(err), "same body will fail the same way")
}

func TestPing(t *testing.T) {
	c, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"gecko_says":"(V3) To the Moon!"}`))
	}))
	require.NoError(t, c.Ping(context.Background()))
}

func TestNoAPIKeyHeaderWhenUnset(t *testing.T) {
	var sawHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header[http.CanonicalHeaderKey(apiKeyHeader)]
		sawHeader.Store(present)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.Client(), Config{BaseURL: srv.URL, Quote: "usd", PageSize: 100}, zerolog.Nop())
	_, err := c.MarketsPage(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sawHeader.Load(), "keyless deployments must not send an empty key header")
}
