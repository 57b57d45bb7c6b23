package kis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"stocklive/internal/model"
	"stocklive/internal/store"
	"stocklive/logger"
)

// tokenExpiryMargin is subtracted from the upstream-declared token lifetime so
// the cached credential is retired before KIS actually rejects it. The same
// margin is applied to the shared and local cache TTLs so both expire
// together.
const tokenExpiryMargin = 60 * time.Second

type tokenRequest struct {
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
	GrantType string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// GetToken returns a usable bearer token, serving from the cache-aside store
// (shared first, then the in-process fallback) and issuing a new credential
// otherwise. Concurrent cold-start callers share one upstream request.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(ctx); ok {
		return tok, nil
	}

	v, err, _ := c.flight.Do("token", func() (interface{}, error) {
		// A caller that queued behind the winning flight may find the token
		// already cached.
		if tok, ok := c.cachedToken(ctx); ok {
			return tok, nil
		}
		return c.issueToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken(ctx context.Context) (string, bool) {
	var tok model.AccessToken
	if c.store.Get(ctx, store.KeyToken, &tok) && tok.Valid(c.now()) {
		return tok.Value, true
	}
	return "", false
}

func (c *Client) issueToken(ctx context.Context) (string, error) {
	if !c.cfg.HasKISCredentials() {
		return "", &AuthError{Op: "issue", Err: fmt.Errorf("missing app key or secret")}
	}

	body, err := json.Marshal(tokenRequest{
		AppKey:    c.cfg.AppKey,
		AppSecret: c.cfg.AppSecret,
		GrantType: "client_credentials",
	})
	if err != nil {
		return "", &AuthError{Op: "issue", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return "", &AuthError{Op: "issue", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Op: "issue", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{Op: "issue", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Op: "issue", Err: err}
	}
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", &AuthError{Op: "issue", Err: err}
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", &AuthError{Op: "issue", Err: fmt.Errorf("malformed token response")}
	}

	lifetime := time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin
	if lifetime <= 0 {
		return "", &AuthError{Op: "issue", Err: fmt.Errorf("declared lifetime %ds shorter than safety margin", tr.ExpiresIn)}
	}

	tok := model.AccessToken{
		Value:     tr.AccessToken,
		ExpiresAt: c.now().Add(lifetime),
	}
	c.store.Set(ctx, store.KeyToken, tok, lifetime)

	logger.IncrementTokenIssue()
	c.log.WithComponent("kis_token").WithFields(logger.Fields{
		"expires_in": tr.ExpiresIn,
	}).Info("issued new access token")

	return tok.Value, nil
}
