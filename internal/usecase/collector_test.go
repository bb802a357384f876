package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"PolyPaper/internal/domain/models"
	domrepo "PolyPaper/internal/domain/repository"
	"PolyPaper/internal/repository"
	"PolyPaper/internal/service/gamma"
)

func testMarket(id, yesTok, noTok string) *models.Market {
	return &models.Market{
		ID:         id,
		Question:   "Will it settle yes?",
		Slug:       id,
		YesTokenID: yesTok,
		NoTokenID:  noTok,
		EndDate:    time.Now().UTC().Add(48 * time.Hour),
		Volume24h:  5000,
		Liquidity:  12000,
	}
}

func newTestCollector(t *testing.T, cfg CollectorConfig, src *fakeSource) (*MarketCollector, *repository.MemoryBarStore, *cycleMetrics) {
	t.Helper()
	store := repository.NewMemoryBarStore(domrepo.TF1m)
	metrics := newCycleMetrics()
	col := NewMarketCollector(cfg, src, store, nil, metrics, testLogger(t))
	return col, store, metrics
}

func TestRefreshMarketsStatic(t *testing.T) {
	src := &fakeSource{markets: []*models.Market{testMarket("mkt-1", "tok-yes", "tok-no")}}
	col, _, _ := newTestCollector(t, CollectorConfig{MarketIDs: []string{"mkt-1"}}, src)

	if err := col.RefreshMarkets(context.Background()); err != nil {
		t.Fatalf("RefreshMarkets: %v", err)
	}

	tracked := col.Tracked()
	if len(tracked) != 1 || tracked[0].ID != "mkt-1" {
		t.Fatalf("Tracked = %+v, want one market mkt-1", tracked)
	}
	if got := col.TokenIDs(); len(got) != 2 || got[0] != "tok-no" || got[1] != "tok-yes" {
		t.Errorf("TokenIDs = %v, want sorted [tok-no tok-yes]", got)
	}
	if mk := col.Market("mkt-1"); mk == nil || mk.YesTokenID != "tok-yes" {
		t.Errorf("Market(mkt-1) = %+v, want tracked descriptor", mk)
	}
	if mk := col.Market("unknown"); mk != nil {
		t.Errorf("Market(unknown) = %+v, want nil", mk)
	}
}

func TestRefreshMarketsKeepsPreviousOnError(t *testing.T) {
	src := &fakeSource{markets: []*models.Market{testMarket("mkt-1", "tok-yes", "")}}
	col, _, metrics := newTestCollector(t, CollectorConfig{MarketIDs: []string{"mkt-1"}}, src)

	if err := col.RefreshMarkets(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	src.setMarketErr(errors.New("gamma 503"))
	if err := col.RefreshMarkets(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	if tracked := col.Tracked(); len(tracked) != 1 {
		t.Fatalf("Tracked after failed refresh = %d markets, want previous descriptor kept", len(tracked))
	}
	if got := metrics.errCount("market_refresh"); got != 1 {
		t.Errorf("market_refresh errors = %d, want 1", got)
	}
	if got := metrics.staleCount(gamma.EndpointMarkets); got != 1 {
		t.Errorf("stale markets endpoint = %d, want 1", got)
	}
}

func TestRefreshMarketsDiscoverSkipsResolved(t *testing.T) {
	resolved := testMarket("mkt-2", "tok-2y", "")
	resolved.Resolved = true
	src := &fakeSource{markets: []*models.Market{
		testMarket("mkt-1", "tok-1y", "tok-1n"),
		resolved,
	}}
	col, _, _ := newTestCollector(t, CollectorConfig{Discover: true, DiscoverLimit: 10}, src)

	if err := col.RefreshMarkets(context.Background()); err != nil {
		t.Fatalf("RefreshMarkets: %v", err)
	}
	tracked := col.Tracked()
	if len(tracked) != 1 || tracked[0].ID != "mkt-1" {
		t.Fatalf("Tracked = %+v, want only the unresolved market", tracked)
	}
}

func TestRefreshMarketsDiscoverError(t *testing.T) {
	src := &fakeSource{marketsErr: errors.New("gamma down")}
	col, _, metrics := newTestCollector(t, CollectorConfig{Discover: true}, src)

	if err := col.RefreshMarkets(context.Background()); err == nil {
		t.Fatal("RefreshMarkets = nil, want discovery error")
	}
	if got := metrics.staleCount(gamma.EndpointMarkets); got != 1 {
		t.Errorf("stale markets endpoint = %d, want 1", got)
	}
}

func TestCollectStoresBarsAndMergesVolume(t *testing.T) {
	newest := time.Now().UTC().Truncate(time.Minute)
	buckets := []time.Time{newest.Add(-2 * time.Minute), newest.Add(-time.Minute), newest}

	bars := make([]models.PriceBar, 0, len(buckets))
	for i, b := range buckets {
		px := 0.50 + float64(i)*0.01
		bars = append(bars, models.PriceBar{
			Bucket: b, TokenID: "tok-yes",
			Open: px, High: px + 0.005, Low: px - 0.005, Close: px,
		})
	}
	src := &fakeSource{
		markets: []*models.Market{testMarket("mkt-1", "tok-yes", "")},
		bars:    map[string][]models.PriceBar{"tok-yes": bars},
		trades: map[string][]models.Trade{"tok-yes": {
			{TokenID: "tok-yes", Timestamp: buckets[1].Add(5 * time.Second), Price: 0.51, Size: 5, Side: "buy"},
			{TokenID: "tok-yes", Timestamp: buckets[1].Add(40 * time.Second), Price: 0.512, Size: 7, Side: "sell"},
		}},
	}
	col, store, metrics := newTestCollector(t, CollectorConfig{MarketIDs: []string{"mkt-1"}, Timeframe: domrepo.TF1m, Lookback: 10}, src)

	ctx := context.Background()
	if err := col.RefreshMarkets(ctx); err != nil {
		t.Fatalf("RefreshMarkets: %v", err)
	}
	if err := col.Collect(ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	stored, err := store.Latest(ctx, "tok-yes", 10, domrepo.TF1m)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored %d bars, want 3", len(stored))
	}
	if stored[1].Volume != 12 {
		t.Errorf("middle bar volume = %v, want 12 from merged trades", stored[1].Volume)
	}
	if stored[0].Volume != 0 || stored[2].Volume != 0 {
		t.Errorf("untouched bar volumes = %v, %v, want 0", stored[0].Volume, stored[2].Volume)
	}
	if got := metrics.errCount("collect"); got != 0 {
		t.Errorf("collect errors = %d, want 0", got)
	}

	// second pass re-requests from the newest stored bucket so the open bar
	// is refreshed in place
	if err := col.Collect(ctx); err != nil {
		t.Fatalf("second Collect: %v", err)
	}
	call, ok := src.lastBarsCall()
	if !ok {
		t.Fatal("no bars call recorded")
	}
	if !call.from.Equal(newest) {
		t.Errorf("second collect from = %v, want newest bucket %v", call.from, newest)
	}
}

func TestCollectSkipsResolvedMarkets(t *testing.T) {
	mk := testMarket("mkt-1", "tok-yes", "")
	mk.Resolved = true
	src := &fakeSource{markets: []*models.Market{mk}}
	col, _, _ := newTestCollector(t, CollectorConfig{MarketIDs: []string{"mkt-1"}}, src)

	ctx := context.Background()
	if err := col.RefreshMarkets(ctx); err != nil {
		t.Fatalf("RefreshMarkets: %v", err)
	}
	if err := col.Collect(ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, ok := src.lastBarsCall(); ok {
		t.Error("Collect fetched bars for a resolved market")
	}
}

func TestCollectToleratesSourceError(t *testing.T) {
	src := &fakeSource{markets: []*models.Market{testMarket("mkt-1", "tok-yes", "")}}
	col, store, metrics := newTestCollector(t, CollectorConfig{MarketIDs: []string{"mkt-1"}}, src)

	ctx := context.Background()
	if err := col.RefreshMarkets(ctx); err != nil {
		t.Fatalf("RefreshMarkets: %v", err)
	}

	src.setBarsErr(errors.New("history 500"))
	if err := col.Collect(ctx); err != nil {
		t.Fatalf("Collect = %v, want nil on per-token failure", err)
	}
	if got := metrics.errCount("collect"); got != 1 {
		t.Errorf("collect errors = %d, want 1", got)
	}
	if got := metrics.staleCount(gamma.EndpointHistory); got != 1 {
		t.Errorf("stale history endpoint = %d, want 1", got)
	}
	if stored, _ := store.Latest(ctx, "tok-yes", 10, domrepo.TF1m); len(stored) != 0 {
		t.Errorf("stored %d bars after source failure, want 0", len(stored))
	}
}
