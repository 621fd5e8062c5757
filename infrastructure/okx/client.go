// Package okx converts escrowed native funds to the payout token through the
// OKX DEX aggregator.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wagerbot/domain"

	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://web3.okx.com"

	// codeRegionRestricted is returned when the caller's region may not use the service
	codeRegionRestricted = "50125"
)

// Credentials authenticate requests against the OKX API
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	ProjectID  string
}

// Client performs signed GET requests against the OKX web3 API
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	now     func() time.Time
}

// NewClient creates a client; an empty baseURL uses DefaultBaseURL
func NewClient(baseURL string, creds Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
}

// Get calls path with query and returns the data field of a successful response.
// Region blocks are reported as domain.ErrProviderRestricted.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("okx: create request: %w", err)
	}
	for k, v := range c.authHeaders(http.MethodGet, requestPath, "") {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("okx: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("okx: read response: %w", err)
	}

	code := gjson.GetBytes(body, "code").String()
	msg := gjson.GetBytes(body, "msg").String()
	if code == codeRegionRestricted {
		return gjson.Result{}, fmt.Errorf("okx: %s: %w", msg, domain.ErrProviderRestricted)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("okx: unexpected status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	if code != "0" {
		return gjson.Result{}, fmt.Errorf("okx: error code %s: %s", code, msg)
	}

	return gjson.GetBytes(body, "data"), nil
}

// authHeaders signs timestamp+method+path+body with HMAC-SHA256
func (c *Client) authHeaders(method, requestPath, body string) map[string]string {
	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")

	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(ts + method + requestPath + body))

	return map[string]string{
		"OK-ACCESS-KEY":        c.creds.APIKey,
		"OK-ACCESS-SIGN":       base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": c.creds.Passphrase,
		"OK-ACCESS-PROJECT":    c.creds.ProjectID,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
