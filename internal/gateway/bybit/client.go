// Package bybit implements the execution gateway against the Bybit v5 REST
// API for USDT-margined linear perpetuals.
//
// All private requests are signed with HMAC-SHA256 per the v5 scheme:
// sign(timestamp + apiKey + recvWindow + payload) where payload is the query
// string for GETs and the raw JSON body for POSTs.
package bybit

import (
	"bytes"
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
	"time"
)

const (
	// MainnetURL is the production REST host.
	MainnetURL = "https://api.bybit.com"
	// TestnetURL is the Bybit testnet REST host.
	TestnetURL = "https://api-testnet.bybit.com"

	defaultRecvWindow = "5000"
	defaultTimeout    = 10 * time.Second

	category = "linear"
)

var routes = map[string]string{
	"order.create":   "/v5/order/create",
	"order.cancel":   "/v5/order/cancel",
	"order.realtime": "/v5/order/realtime",
	"position.list":  "/v5/position/list",
	"wallet.balance": "/v5/account/wallet-balance",
	"market.kline":   "/v5/market/kline",
}

// Config holds Bybit API credentials and connection parameters.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Symbol    string // e.g. "BTCUSDT"

	BaseURL string        // overrides the host selection, used in tests
	Timeout time.Duration // default 10s
}

// Client is a Bybit v5 REST client scoped to a single linear symbol.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Client. Credentials may be empty when only public
// endpoints (kline history) are used.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = MainnetURL
		if cfg.Testnet {
			base = TestnetURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// envelope is the v5 response wrapper common to every endpoint.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// apiError is a non-zero retCode from the exchange.
type apiError struct {
	Code int
	Msg  string
	Path string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bybit %s: retCode=%d %s", e.Path, e.Code, e.Msg)
}

// sign produces the v5 HMAC-SHA256 signature over
// timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(timestamp + c.cfg.APIKey + defaultRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) authHeaders(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", defaultRecvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(ts, payload))
}

// getPrivate performs a signed GET and decodes the result into out.
func (c *Client) getPrivate(ctx context.Context, path string, params url.Values, out any) error {
	return c.get(ctx, path, params, out, true)
}

// getPublic performs an unsigned GET and decodes the result into out.
func (c *Client) getPublic(ctx context.Context, path string, params url.Values, out any) error {
	return c.get(ctx, path, params, out, false)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any, signed bool) error {
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if signed {
		c.authHeaders(req, query)
	}
	return c.do(req, path, out)
}

// postPrivate performs a signed JSON POST and decodes the result into out.
func (c *Client) postPrivate(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeaders(req, string(raw))
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: http %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return &apiError{Code: env.RetCode, Msg: env.RetMsg, Path: path}
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result %s: %w", path, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// parseFloat parses Bybit's string-encoded numbers; empty strings mean zero.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
