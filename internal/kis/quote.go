package kis

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"stocklive/internal/model"
	"stocklive/internal/store"
	"stocklive/logger"
)

type quoteResponse struct {
	Output quoteOutput `json:"output"`
}

type quoteOutput struct {
	Price      string `json:"stck_prpr"`
	ChangeRate string `json:"prdy_ctrt"`
	Volume     string `json:"acml_vol"`
	TradeValue string `json:"acml_tr_pbmn"`
	Name       string `json:"hts_korp_isnm"`
}

type indexResponse struct {
	Output indexOutput `json:"output"`
}

type indexOutput struct {
	Price      string `json:"bstp_nmix_prpr"`
	Change     string `json:"bstp_nmix_prdy_vrss"`
	ChangeRate string `json:"bstp_nmix_prdy_ctrt"`
}

type overseasResponse struct {
	Output overseasOutput `json:"output"`
}

type overseasOutput struct {
	Price      string `json:"ovrs_nmix_prpr"`
	Change     string `json:"prdy_vrss"`
	ChangeRate string `json:"prdy_ctrt"`
}

type dailyPriceResponse struct {
	Output []struct {
		Price      string `json:"stck_prpr"`
		Change     string `json:"prdy_vrss"`
		ChangeRate string `json:"prdy_ctrt"`
	} `json:"output"`
}

// FetchPrice returns the normalized quote for one security, or nil on any
// failure. The nil-on-failure contract is deliberate: batch callers drop the
// gap instead of aborting, so one bad code degrades completeness only.
// Successful results are cached for a short window keyed by code.
func (c *Client) FetchPrice(ctx context.Context, token, code string) *model.PriceRecord {
	key := store.PriceKey(code)
	var cached model.PriceRecord
	if c.store.Get(ctx, key, &cached) {
		return &cached
	}

	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "J")
	q.Set("FID_INPUT_ISCD", code)

	var qr quoteResponse
	if !c.getQuote(ctx, token, "/uapi/domestic-stock/v1/quotations/inquire-price", "FHKST01010100", q, &qr) {
		logger.IncrementQuoteFetch(true)
		return nil
	}
	o := qr.Output
	if o.Price == "" {
		logger.IncrementQuoteFetch(true)
		return nil
	}

	name := c.names(code)
	if name == "" {
		name = strings.TrimSpace(o.Name)
	}
	if name == "" {
		name = code
	}

	rec := &model.PriceRecord{
		Code:       code,
		Name:       name,
		Price:      parseAmount(o.Price),
		ChangeRate: parseRate(o.ChangeRate),
		Volume:     parseAmount(o.Volume),
		TradeValue: parseAmount(o.TradeValue),
	}

	c.store.Set(ctx, key, rec, store.TTLPrice)
	logger.IncrementQuoteFetch(false)
	return rec
}

// FetchDomesticIndex returns a domestic index quote (KOSPI, KOSDAQ), or nil
// on failure.
func (c *Client) FetchDomesticIndex(ctx context.Context, token, code string) *model.IndexQuote {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "U")
	q.Set("FID_INPUT_ISCD", code)

	var ir indexResponse
	if !c.getQuote(ctx, token, "/uapi/domestic-stock/v1/quotations/inquire-index-price", "FHPST01010000", q, &ir) {
		return nil
	}
	if ir.Output.Price == "" {
		return nil
	}
	return &model.IndexQuote{
		Price:      parseRate(ir.Output.Price),
		Change:     parseRate(ir.Output.Change),
		ChangeRate: parseRate(ir.Output.ChangeRate),
	}
}

// FetchOverseasIndex returns an overseas index quote, or nil on failure. The
// upstream expects symbols dot-prefixed.
func (c *Client) FetchOverseasIndex(ctx context.Context, token, symbol string) *model.IndexQuote {
	if !strings.HasPrefix(symbol, ".") {
		symbol = "." + symbol
	}
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "N")
	q.Set("FID_INPUT_ISCD", symbol)

	var or overseasResponse
	if !c.getQuote(ctx, token, "/uapi/overseas-price/v1/quotations/price", "FHKST03010100", q, &or) {
		return nil
	}
	if or.Output.Price == "" {
		return nil
	}
	return &model.IndexQuote{
		Price:      parseRate(or.Output.Price),
		Change:     parseRate(or.Output.Change),
		ChangeRate: parseRate(or.Output.ChangeRate),
	}
}

// FetchExchangeRate returns the USD/KRW rate, or nil on failure.
func (c *Client) FetchExchangeRate(ctx context.Context, token string) *model.IndexQuote {
	q := url.Values{}
	q.Set("FID_COND_MRKT_DIV_CODE", "F")
	q.Set("FID_INPUT_ISCD", "USDKRW")

	var dr dailyPriceResponse
	if !c.getQuote(ctx, token, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", "FHPST04100000", q, &dr) {
		return nil
	}
	if len(dr.Output) == 0 {
		return nil
	}
	o := dr.Output[0]
	return &model.IndexQuote{
		Price:      parseRate(o.Price),
		Change:     parseRate(o.Change),
		ChangeRate: parseRate(o.ChangeRate),
	}
}

// getQuote performs one authenticated GET against the quote API and decodes
// the body into out. It reports success; every failure mode is reduced to
// false after a debug log.
func (c *Client) getQuote(ctx context.Context, token, path, trID string, query url.Values, out interface{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		c.log.WithComponent("kis_quote").WithError(err).Debug("failed to build quote request")
		return false
	}
	req.Header = c.quoteHeaders(token, trID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithComponent("kis_quote").WithError(err).WithFields(logger.Fields{"path": path}).Debug("quote request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithComponent("kis_quote").WithFields(logger.Fields{"path": path, "status": resp.StatusCode}).Debug("quote request rejected")
		return false
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.WithComponent("kis_quote").WithError(err).Debug("failed to read quote response")
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.log.WithComponent("kis_quote").WithError(err).WithFields(logger.Fields{"path": path}).Debug("failed to decode quote response")
		return false
	}
	return true
}
