package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"stocklive/config"
	"stocklive/internal/model"
	"stocklive/internal/store"
	"stocklive/internal/universe"
	"stocklive/logger"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	force bool
}

func (f *fakeRefresher) RunAll(ctx context.Context, force bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.force = force
}

func testServer(t *testing.T, st *store.Store, refresher Refresher) *Server {
	t.Helper()
	if st == nil {
		st = store.New(config.CacheConfig{}, logger.GetLogger())
	}

	dir := t.TempDir()
	stocks := filepath.Join(dir, "stocks.json")
	if err := os.WriteFile(stocks, []byte(`[{"code":"005930","name":"Samsung"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	uni, err := universe.Load(config.UniverseConfig{StocksPath: stocks})
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(
		config.ServerConfig{Enabled: true, Address: ":0"},
		config.RefreshConfig{TopN: 50},
		st, uni, refresher, nil, logger.GetLogger(),
	)
	if s == nil {
		t.Fatal("enabled server came back nil")
	}
	return s
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestGetRankingServesSnapshot(t *testing.T) {
	st := store.New(config.CacheConfig{}, logger.GetLogger())
	st.Set(context.Background(), store.RankingKey(model.RankingGainer), model.RankingSnapshot{
		Type:       model.RankingGainer,
		Entries:    []model.PriceRecord{{Code: "005930", ChangeRate: 3.1}},
		ComputedAt: time.Now(),
	}, store.TTLRankings)

	s := testServer(t, st, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/ranking/gainer")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var snap model.RankingSnapshot
	decodeBody(t, rec, &snap)
	if len(snap.Entries) != 1 || snap.Entries[0].Code != "005930" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestGetRankingRebuildsFromAllStocks(t *testing.T) {
	st := store.New(config.CacheConfig{}, logger.GetLogger())
	st.Set(context.Background(), store.KeyAllStocks, []model.PriceRecord{
		{Code: "A", ChangeRate: -2.0},
		{Code: "B", ChangeRate: 5.0},
	}, store.TTLRankings)

	s := testServer(t, st, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/ranking/gainer")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap model.RankingSnapshot
	decodeBody(t, rec, &snap)
	if len(snap.Entries) != 2 || snap.Entries[0].Code != "B" {
		t.Errorf("rebuilt ranking wrong: %+v", snap.Entries)
	}
}

func TestGetRankingRejectsUnknownType(t *testing.T) {
	s := testServer(t, nil, nil)
	if rec := doRequest(t, s, http.MethodGet, "/api/ranking/sideways"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRankingUnavailable(t *testing.T) {
	s := testServer(t, nil, nil)
	if rec := doRequest(t, s, http.MethodGet, "/api/ranking/gainer"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestThemeEndpoints(t *testing.T) {
	st := store.New(config.CacheConfig{}, logger.GetLogger())
	st.Set(context.Background(), store.KeyThemeRankings, model.ThemeRankingSnapshot{
		Themes: []model.ThemeRanking{
			{Name: "Semis", AvgChangeRate: 2.5, Stocks: []model.PriceRecord{{Code: "005930"}}},
		},
		ComputedAt: time.Now(),
	}, store.TTLThemeRankings)
	s := testServer(t, st, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/themes/top-performing")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/themes/Semis/stocks")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var theme model.ThemeRanking
	decodeBody(t, rec, &theme)
	if len(theme.Stocks) != 1 || theme.Stocks[0].Code != "005930" {
		t.Errorf("unexpected theme: %+v", theme)
	}

	if rec = doRequest(t, s, http.MethodGet, "/api/themes/Nope/stocks"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetPrices(t *testing.T) {
	st := store.New(config.CacheConfig{}, logger.GetLogger())
	st.Set(context.Background(), store.PriceKey("005930"), model.PriceRecord{Code: "005930", Price: 70000}, store.TTLPrice)
	s := testServer(t, st, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/stocks/prices?codes=005930,000660")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Prices []model.PriceRecord `json:"prices"`
	}
	decodeBody(t, rec, &body)
	// Only the cached code comes back; the miss is silently dropped.
	if len(body.Prices) != 1 || body.Prices[0].Code != "005930" {
		t.Errorf("unexpected prices: %+v", body.Prices)
	}

	if rec = doRequest(t, s, http.MethodGet, "/api/stocks/prices"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostRefresh(t *testing.T) {
	refresher := &fakeRefresher{}
	s := testServer(t, nil, refresher)

	rec := doRequest(t, s, http.MethodPost, "/api/refresh?force=true")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for {
		refresher.mu.Lock()
		calls, force := refresher.calls, refresher.force
		refresher.mu.Unlock()
		if calls == 1 {
			if !force {
				t.Error("force flag not propagated")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresh never triggered")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServerDisabled(t *testing.T) {
	s := NewServer(config.ServerConfig{Enabled: false}, config.RefreshConfig{}, nil, nil, nil, nil, logger.GetLogger())
	if s != nil {
		t.Fatal("disabled server should be nil")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("nil server Run should be a no-op: %v", err)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               "0.0.0.0:4000",
		":4000":          "0.0.0.0:4000",
		"localhost":      "localhost:4000",
		"127.0.0.1:9000": "127.0.0.1:9000",
	}
	for in, want := range cases {
		if got := normalizeAddress(in); got != want {
			t.Errorf("normalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
