package gamma

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"PolyPaper/internal/domain/repository"
	"PolyPaper/internal/service/ratelimit"
	phttp "PolyPaper/pkg/http"
	"PolyPaper/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return lgr
}

func newTestClient(t *testing.T, handler http.Handler, retries int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:       srv.URL,
		RetryAttempts: retries,
		Timeframe:     repository.TF1m,
	}
	limiter := ratelimit.New(ratelimit.Rule{RPS: 1000, Burst: 1000}, nil)
	c := NewClient(cfg, phttp.NewClient(phttp.WithTimeout(2*time.Second)), limiter, testLogger(t))
	return c, srv
}

func TestMarketsMapsTokens(t *testing.T) {
	body := `[
		{"id":"mkt-1","question":"Will it rain?","slug":"rain","end_date":"2026-06-01T00:00:00Z",
		 "closed":false,"volume_24h":1200.5,"liquidity":5000,
		 "tokens":[{"token_id":"tok-yes","outcome":"Yes"},{"token_id":"tok-no","outcome":"No"}]},
		{"id":"mkt-2","question":"One sided","slug":"one",
		 "tokens":[{"token_id":"tok-solo","outcome":"Yes"}]},
		{"id":"mkt-3","question":"Broken","slug":"broken","tokens":[]}
	]`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("path = %s, want /markets", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %s, want 10", got)
		}
		w.Write([]byte(body))
	}), 1)

	markets, err := c.Markets(context.Background(), 10)
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2 (tokenless market dropped)", len(markets))
	}

	m := markets[0]
	if m.ID != "mkt-1" || m.YesTokenID != "tok-yes" || m.NoTokenID != "tok-no" {
		t.Errorf("mkt-1 tokens = %q/%q, want tok-yes/tok-no", m.YesTokenID, m.NoTokenID)
	}
	if m.Volume24h != 1200.5 {
		t.Errorf("volume = %v, want 1200.5", m.Volume24h)
	}
	if markets[1].HasNoToken() {
		t.Errorf("mkt-2 should have no NO token")
	}
}

func TestBarsAggregatesHistory(t *testing.T) {
	// Three points in minute one (delivered out of order), one in minute two.
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).Unix()
	body := `{"history":[
		{"t":` + itoa(base+40) + `,"p":0.54},
		{"t":` + itoa(base+10) + `,"p":0.50},
		{"t":` + itoa(base+20) + `,"p":0.47},
		{"t":` + itoa(base+70) + `,"p":0.60},
		{"t":` + itoa(base+30) + `,"p":0}
	]}`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prices-history" {
			t.Errorf("path = %s, want /prices-history", r.URL.Path)
		}
		if got := r.URL.Query().Get("fidelity"); got != "1" {
			t.Errorf("fidelity = %s, want 1", got)
		}
		w.Write([]byte(body))
	}), 1)

	from := time.Unix(base, 0)
	bars, err := c.Bars(context.Background(), "tok-yes", from, from.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}

	b := bars[0]
	if b.Open != 0.50 || b.High != 0.54 || b.Low != 0.47 || b.Close != 0.54 {
		t.Errorf("bar ohlc = %v/%v/%v/%v, want 0.50/0.54/0.47/0.54", b.Open, b.High, b.Low, b.Close)
	}
	if b.TokenID != "tok-yes" {
		t.Errorf("token = %s, want tok-yes", b.TokenID)
	}
	if !bars[1].Bucket.After(bars[0].Bucket) {
		t.Error("buckets not monotonic")
	}
	if bars[1].Open != 0.60 {
		t.Errorf("second bar open = %v, want 0.60", bars[1].Open)
	}
}

func TestRecentTradesSkipsMalformed(t *testing.T) {
	body := `[
		{"price":"0.52","size":"10","side":"BUY","market":"mkt-1","timestamp":1770000060},
		{"price":"oops","size":"5","side":"SELL","market":"mkt-1","timestamp":1770000070},
		{"price":"0.51","size":"3","side":"SELL","market":"mkt-1","timestamp":1770000050}
	]`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}), 1)

	trades, err := c.RecentTrades(context.Background(), "tok-yes", 10)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2 (malformed skipped)", len(trades))
	}
	if !trades[0].Timestamp.Before(trades[1].Timestamp) {
		t.Error("trades not sorted oldest first")
	}
	if trades[0].Price != 0.51 || trades[0].Side != "sell" {
		t.Errorf("first trade = %v %s, want 0.51 sell", trades[0].Price, trades[0].Side)
	}
	if trades[1].TokenID != "tok-yes" || trades[1].MarketID != "mkt-1" {
		t.Errorf("ids = %s/%s, want tok-yes/mkt-1", trades[1].TokenID, trades[1].MarketID)
	}
}

func TestOrderBookSortsBestFirst(t *testing.T) {
	body := `{"timestamp":1770000000000,
		"bids":[{"price":"0.48","size":"100"},{"price":"0.50","size":"40"}],
		"asks":[{"price":"0.55","size":"60"},{"price":"0.52","size":"20"},{"price":"bad","size":"1"}]}`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token_id"); got != "tok-yes" {
			t.Errorf("token_id = %s, want tok-yes", got)
		}
		w.Write([]byte(body))
	}), 1)

	book, err := c.OrderBook(context.Background(), "tok-yes")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	bid, ok := book.BestBid()
	if !ok || bid.Price != 0.50 {
		t.Errorf("best bid = %v, want 0.50", bid.Price)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 0.52 {
		t.Errorf("best ask = %v, want 0.52", ask.Price)
	}
	if len(book.Asks) != 2 {
		t.Errorf("asks = %d, want 2 (malformed level dropped)", len(book.Asks))
	}
	if got := book.Timestamp; got != time.UnixMilli(1770000000000).UTC() {
		t.Errorf("timestamp = %v", got)
	}
}

func TestWalletActivitySkipsJunk(t *testing.T) {
	body := `[
		{"proxy_wallet":"0xabc","market":"mkt-1","asset":"tok-yes","side":"BUY","size":500,"price":0.62,"timestamp":1770000100},
		{"proxy_wallet":"0xdef","market":"mkt-1","asset":"tok-yes","side":"SELL","size":0,"price":0.62,"timestamp":1770000200}
	]`
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}), 1)

	acts, err := c.WalletActivity(context.Background(), "mkt-1", time.Unix(1770000000, 0))
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("activity = %d, want 1 (zero-size row dropped)", len(acts))
	}
	if acts[0].Wallet != "0xabc" || acts[0].Side != "buy" {
		t.Errorf("activity = %+v", acts[0])
	}
}

func TestGetRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}), 3)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestGetExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}), 1)

	if err := c.Health(context.Background()); err == nil {
		t.Fatal("health = nil, want error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
