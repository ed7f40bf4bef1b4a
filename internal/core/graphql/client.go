// Package graphql is the hosted backend: Hasura-style queries and mutations
// over HTTP, and transcript subscriptions over graphql-transport-ws.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// TokenSource supplies a bearer token for each request
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client runs operations against one GraphQL endpoint
type Client struct {
	httpURL string
	wsURL   string
	tokens  TokenSource
	http    *http.Client
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	retry   time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialer replaces the websocket dialer used for subscriptions
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithRateLimit caps outgoing HTTP operations at rps per second.
// Zero or negative disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithReconnectDelay sets the first delay before a dropped subscription
// reconnects. Later attempts back off up to maxReconnectDelay.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.retry = d }
}

// New returns a client for the given HTTP and websocket endpoints
func New(httpURL, wsURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpURL: httpURL,
		wsURL:   wsURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  websocket.DefaultDialer,
		retry:   time.Second,
	}
	WithRateLimit(5)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors Errors          `json:"errors"`
}

// ErrorItem is one entry of a GraphQL errors payload
type ErrorItem struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Errors is a non-empty GraphQL errors payload
type Errors []ErrorItem

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, item := range e {
		msgs = append(msgs, item.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Code returns the extensions.code of the first error, if any
func (e Errors) Code() string {
	if len(e) == 0 {
		return ""
	}
	code, _ := e[0].Extensions["code"].(string)
	return code
}

// Do runs one query or mutation and decodes data into out
func (c *Client) Do(ctx context.Context, operation, query string, vars map[string]interface{}, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(request{Query: query, OperationName: operation, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode %s: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req.Header); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", operation, err)
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%s: unexpected status %d", operation, resp.StatusCode)
		}
		return fmt.Errorf("%s: invalid response: %w", operation, err)
	}
	if len(r.Errors) > 0 {
		return fmt.Errorf("%s: %w", operation, r.Errors)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", operation, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("%s: response carried no data", operation)
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", operation, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, h http.Header) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Close releases idle HTTP connections. Subscriptions end with their contexts.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// timestamp accepts Hasura timestamptz and timestamp renderings
type timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*t = timestamp{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t timestamp) Time() time.Time { return time.Time(t) }
