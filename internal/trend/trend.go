package trend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"stocklive/config"
	"stocklive/internal/model"
	"stocklive/logger"
)

// Source supplies investor flow data. The production collector is an external
// process scraping a brokerage site; this interface is the boundary the
// refresh job sees, so the completeness gate applies no matter where the data
// comes from.
type Source interface {
	Collect(ctx context.Context) (*model.InvestorTrendSnapshot, error)
}

// HTTPSource fetches an already-collected investor trend document from an
// HTTP endpoint (the collector publishes its JSON output).
type HTTPSource struct {
	url        string
	httpClient *http.Client
	log        *logger.Log
}

func NewHTTPSource(cfg config.TrendConfig, log *logger.Log) *HTTPSource {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Collect fetches and decodes the latest investor trend document. Unlike the
// per-code quote path this returns errors: the refresh job decides whether to
// keep the previous snapshot.
func (s *HTTPSource) Collect(ctx context.Context) (*model.InvestorTrendSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("trend source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var snap model.InvestorTrendSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode trend document: %w", err)
	}
	snap.UpdatedAt = time.Now()
	return &snap, nil
}
