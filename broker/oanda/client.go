// Package oanda implements broker.Gateway against the OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/fxhook/broker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"

	maxBody = 1 << 20
)

func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo":
		return PracticeURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

type Config struct {
	Env       string
	Token     string
	AccountID string
	Timeout   time.Duration

	// RateLimit caps outgoing requests per second; 0 disables the limiter.
	RateLimit float64

	// MaxRetries bounds the extra attempts made for reads.
	MaxRetries int
}

// Client talks to one OANDA account. Reads (summary, pricing, position)
// are retried with exponential backoff on transport errors, 429 and 5xx.
// Closes and orders are sent exactly once.
type Client struct {
	BaseURL    string
	Token      string
	AccountID  string
	HTTP       *http.Client
	Limiter    *rate.Limiter
	MaxRetries int
	Backoff    time.Duration
	Log        *zap.Logger
}

var _ broker.Gateway = (*Client)(nil)

func New(cfg Config, log *zap.Logger) (*Client, error) {
	base, err := BaseURL(cfg.Env)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("oanda: missing token")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("oanda: missing account id")
	}
	if log == nil {
		log = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		BaseURL:    base,
		Token:      cfg.Token,
		AccountID:  cfg.AccountID,
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: cfg.MaxRetries,
		Backoff:    250 * time.Millisecond,
		Log:        log.Named("oanda"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

func (c *Client) accountPath(format string, args ...any) string {
	return "/v3/accounts/" + url.PathEscape(c.AccountID) + fmt.Sprintf(format, args...)
}

// do performs one request and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &broker.Error{Op: op, Err: err}
		}
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("oanda: parse base url: %w", err)
	}
	u.Path = path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("oanda: encode %s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("oanda: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &broker.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &broker.Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.log().Debug("oanda request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &broker.Error{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	return b, nil
}

// get is do for idempotent reads, with bounded retries.
func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	backoff := c.Backoff
	for attempt := 0; ; attempt++ {
		b, err := c.do(ctx, op, http.MethodGet, path, query, nil)
		if err == nil {
			return b, nil
		}

		var be *broker.Error
		if !errors.As(err, &be) || !be.Temporary() || attempt >= c.MaxRetries || ctx.Err() != nil {
			return nil, err
		}

		c.log().Warn("retrying oanda read",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, &broker.Error{Op: op, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Client) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
