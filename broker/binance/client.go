// Package binance implements broker.Broker against the Binance USDⓈ-M
// futures REST API. Signed endpoints carry timestamp, recvWindow and an
// HMAC-SHA256 signature over the query string.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/perps/broker"
	"github.com/rustyeddy/perps/market"
)

const (
	// FuturesURL is the production USDⓈ-M futures endpoint.
	FuturesURL = "https://fapi.binance.com"
	// TestnetURL is the futures testnet.
	TestnetURL = "https://testnet.binancefuture.com"

	DefaultRecvWindow = 10000
)

// Client represents a Binance futures API client
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	httpClient *http.Client
	now        func() time.Time

	mu      sync.RWMutex
	symbols map[string]market.SymbolInfo
}

var _ broker.Broker = (*Client)(nil)

type Option func(*Client)

// WithTimeout sets the per-request transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRecvWindow sets the recvWindow in milliseconds.
func WithRecvWindow(ms int64) Option {
	return func(c *Client) { c.recvWindow = ms }
}

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new futures client. An empty baseURL selects the
// testnet.
func NewClient(baseURL, apiKey, apiSecret string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = TestnetURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: DefaultRecvWindow,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:     time.Now,
		symbols: map[string]market.SymbolInfo{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = io.WriteString(mac, query)
	return hex.EncodeToString(mac.Sum(nil))
}

// signedQuery adds timestamp and recvWindow and returns the encoded query
// with the signature appended last, which is the order Binance verifies.
func (c *Client) signedQuery(q url.Values) string {
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	encoded := q.Encode()
	return encoded + "&signature=" + c.sign(encoded)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, signed bool) ([]byte, error) {
	if q == nil {
		q = url.Values{}
	}

	var query string
	if signed {
		if c.apiSecret == "" {
			return nil, fmt.Errorf("%s %s: api secret is required", method, path)
		}
		query = c.signedQuery(q)
	} else {
		query = q.Encode()
	}

	apiURL := c.baseURL + path
	if query != "" {
		apiURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, apiError(resp.StatusCode, body)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%s %s: empty body: %w", method, path, broker.ErrNoData)
	}
	return body, nil
}

func apiError(status int, body []byte) error {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Msg == "" {
		return &broker.APIError{Status: status, Msg: strings.TrimSpace(string(body))}
	}
	return &broker.APIError{Status: status, Code: e.Code, Msg: e.Msg}
}

// parseFloat treats an empty field as zero; anything else must parse.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
