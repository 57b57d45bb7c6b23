package naver

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"stocklive/config"
	"stocklive/internal/model"
	"stocklive/logger"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Client polls Naver Finance's realtime JSON endpoint for index and item
// quotes. This is the indicator source that does not need brokerage
// credentials; like the quote fetcher it swallows failures and returns nil.
type Client struct {
	pollingURL string
	httpClient *http.Client
	log        *logger.Log
}

type pollingResponse struct {
	Result struct {
		Areas []struct {
			Datas []pollingData `json:"datas"`
		} `json:"areas"`
	} `json:"result"`
}

type pollingData struct {
	Value      float64 `json:"nv"`
	Change     float64 `json:"cv"`
	ChangeRate float64 `json:"cr"`
}

func NewClient(cfg config.NaverConfig, log *logger.Log) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		pollingURL: cfg.PollingURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// FetchIndex returns a domestic index quote (service code e.g. "KOSPI"). The
// endpoint reports index levels scaled by 100.
func (c *Client) FetchIndex(ctx context.Context, code string) *model.IndexQuote {
	data := c.poll(ctx, "SERVICE_INDEX:"+code)
	if data == nil {
		return nil
	}
	return &model.IndexQuote{
		Price:      data.Value / 100,
		Change:     data.Change / 100,
		ChangeRate: data.ChangeRate,
	}
}

// FetchItem returns an item quote (a listed security, used as an ETF proxy
// for overseas indicators).
func (c *Client) FetchItem(ctx context.Context, code string) *model.IndexQuote {
	data := c.poll(ctx, "SERVICE_ITEM:"+code)
	if data == nil {
		return nil
	}
	return &model.IndexQuote{
		Price:      data.Value,
		Change:     data.Change,
		ChangeRate: data.ChangeRate,
	}
}

func (c *Client) poll(ctx context.Context, query string) *pollingData {
	u := c.pollingURL + "?query=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://finance.naver.com/sise/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithComponent("naver").WithError(err).WithFields(logger.Fields{"query": query}).Debug("polling request failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithComponent("naver").WithFields(logger.Fields{"query": query, "status": resp.StatusCode}).Debug("polling request rejected")
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var pr pollingResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		c.log.WithComponent("naver").WithError(err).WithFields(logger.Fields{"query": query}).Debug("failed to decode polling response")
		return nil
	}
	if len(pr.Result.Areas) == 0 || len(pr.Result.Areas[0].Datas) == 0 {
		return nil
	}
	return &pr.Result.Areas[0].Datas[0]
}
