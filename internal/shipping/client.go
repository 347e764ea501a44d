// Package shipping is a Shiprocket client. The bearer token is owned by the client:
// fetched on first use, reused until it ages out, and refreshed once when the provider answers 401.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Shiprocket tokens are valid for 10 days.
const tokenTTL = 9 * 24 * time.Hour

var ErrNotConfigured = errors.New("shipping: credentials are not configured")

type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shiprocket %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Logger func(ctx context.Context, event string, fields map[string]any)

type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	PickupPincode  string
	ChannelID      string
	Timeout        time.Duration

	DefaultLength  float64
	DefaultBreadth float64
	DefaultHeight  float64
	DefaultWeight  float64

	HTTP   *http.Client
	Logger Logger
	Clock  func() time.Time
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger Logger
	clock  func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

func New(cfg Config) *Client {
	hc := cfg.HTTP
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc, logger: logger, clock: clock}
}

// Token returns a cached token, logging in when none is held or it has aged out.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock().Sub(c.issuedAt) < tokenTTL {
		return c.token, nil
	}
	return c.loginLocked(ctx)
}

func (c *Client) invalidate(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

func (c *Client) loginLocked(ctx context.Context) (string, error) {
	if c.cfg.Email == "" || c.cfg.Password == "" {
		return "", ErrNotConfigured
	}
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return "", fmt.Errorf("shiprocket login: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("shiprocket login: empty token")
	}
	c.token, c.issuedAt = out.Token, c.clock()
	c.logger(ctx, "shipping.shiprocket.token.refreshed", map[string]any{"issuedAt": c.issuedAt})
	return c.token, nil
}

// do performs an authenticated call. A 401 drops the token, logs in again and retries once.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, method, path, token, in, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.invalidate(token)
		if token, err = c.Token(ctx); err != nil {
			return err
		}
		return c.send(ctx, method, path, token, in, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &APIError{Method: method, Path: path, Status: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// flexID accepts ids Shiprocket sends either as numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}
