// Package dhan is a small REST client for the broker APIs the relay needs:
// symbol quote lookup, historical candles and TOTP access-token generation.
//
// Usage example:
//
//	c := dhan.New(dhan.Config{AccessToken: os.Getenv("DHAN_API_KEY"), ClientID: "1000000001"})
//	info, err := c.LookupSymbol(ctx, "RELIANCE")
//	if err != nil { log.Fatal(err) }
//	fmt.Println(info.InstrumentToken)
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultRoot = "https://api.dhan.co"
	defaultAuth = "https://auth.dhan.co"

	// SegmentNSEEquity is the exchange segment used for every lookup.
	SegmentNSEEquity = "NSE_EQ"
)

var routes = map[string]string{
	"api.quote":      "/v2/market/quote",
	"api.historical": "/v2/historical",
	"auth.token":     "/app/generateAccessToken",
}

// ErrNotFound is returned when the API answers successfully but has no data.
var ErrNotFound = errors.New("dhan: no data")

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dhan: http %d: %s", e.Status, e.Body)
}

// Config configures the client. Zero values take defaults.
type Config struct {
	AccessToken string
	ClientID    string

	RootURL    string        // default: https://api.dhan.co
	AuthURL    string        // default: https://auth.dhan.co
	Timeout    time.Duration // default: 7s
	Debug      bool
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	mu          sync.RWMutex
	accessToken string
	clientID    string

	rootURL string
	authURL string
	debug   bool

	httpClient *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	root := strings.TrimRight(firstNonEmpty(cfg.RootURL, defaultRoot), "/")
	auth := strings.TrimRight(firstNonEmpty(cfg.AuthURL, defaultAuth), "/")
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 7 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		accessToken: cfg.AccessToken,
		clientID:    cfg.ClientID,
		rootURL:     root,
		authURL:     auth,
		debug:       cfg.Debug,
		httpClient:  hc,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) SetAccessToken(t string) {
	c.mu.Lock()
	c.accessToken = t
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) ClientID() string { return c.clientID }

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if t := c.AccessToken(); t != "" {
		h.Set("access-token", t)
	}
	if c.clientID != "" {
		h.Set("client-id", c.clientID)
	}
	return h
}

func (c *Client) buildURL(base, route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return base + uri, nil
}

// doRequest performs one call and decodes a 2xx JSON body into out.
func (c *Client) doRequest(ctx context.Context, method, base, route string, query url.Values, body, out any) error {
	reqURL, err := c.buildURL(base, route)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dhan: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[dhan] request: %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dhan: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("dhan: read body: %w", err)
	}

	if c.debug {
		log.Printf("[dhan] response: code=%d bytes=%d", resp.StatusCode, len(raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: truncate(string(raw), 256)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("dhan: couldn't parse JSON response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
