package kis

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"stocklive/config"
	"stocklive/internal/store"
	"stocklive/logger"
)

// NameLookup resolves a security code to a locally-known display name. It
// returns "" when the code is unknown.
type NameLookup func(code string) string

// AuthError signals that credential issuance against the KIS API failed.
// Callers abort the current lane run and retry on the next trigger.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("kis auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Client talks to the KIS open API. Token issuance is deduplicated through a
// single-flight group; quote failures are swallowed per code so a bad symbol
// can never abort a batch.
type Client struct {
	cfg        config.KISConfig
	httpClient *http.Client
	store      *store.Store
	names      NameLookup
	log        *logger.Log

	flight singleflight.Group
	now    func() time.Time
}

// NewClient builds a KIS client. names may be nil when no local name source
// is available.
func NewClient(cfg config.KISConfig, st *store.Store, names NameLookup, log *logger.Log) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if names == nil {
		names = func(string) string { return "" }
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		store:      st,
		names:      names,
		log:        log,
		now:        time.Now,
	}
}

// quoteHeaders returns the header set KIS expects on quote lookups. Each
// endpoint carries its own transaction id.
func (c *Client) quoteHeaders(token, trID string) http.Header {
	h := http.Header{}
	h.Set("authorization", "Bearer "+token)
	h.Set("appkey", c.cfg.AppKey)
	h.Set("appsecret", c.cfg.AppSecret)
	h.Set("tr_id", trID)
	h.Set("custtype", "P")
	return h
}

// parseAmount parses KIS numeric strings, which arrive with thousands
// separators on volume and trade value fields.
func parseAmount(v string) int64 {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseRate(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
