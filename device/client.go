// Package device talks to the remote lighting API that drives the physical
// strip. A push replaces the whole strip state; a shutoff turns it dark.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	changePath = "/change"
	offPath    = "/off"
)

// Options configures a Client. Zero durations and counts fall back to the
// defaults below.
type Options struct {
	BaseURL    string
	APIKey     string
	DeviceName string

	// Timeout bounds each individual request.
	Timeout time.Duration
	// MaxRetries counts attempts after the first. Negative disables retries.
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultMaxBackoff  = 2 * time.Second
)

// Client pushes strip states to the lighting API.
type Client struct {
	changeURL string
	offURL    string

	http        *http.Client
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         zerolog.Logger

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

type changeRequest struct {
	Values string `json:"values"`
}

// New builds a Client for the device named in opts.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	if opts.APIKey == "" || opts.DeviceName == "" {
		return nil, errors.New("api key and device name are required")
	}
	query := url.Values{}
	query.Set("key", opts.APIKey)
	query.Set("device", opts.DeviceName)

	endpoint := func(path string) string {
		u := *base
		u.Path += path
		u.RawQuery = query.Encode()
		return u.String()
	}

	c := &Client{
		changeURL:   endpoint(changePath),
		offURL:      endpoint(offPath),
		http:        opts.HTTPClient,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		log:         zerolog.Nop(),
		wait:        sleepContext,
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "device").Str("device", opts.DeviceName).Logger()
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = DefaultBaseBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = DefaultMaxBackoff
	}
	return c, nil
}

// Encode renders channel values the way the API expects them: decimal
// integers separated by ", ".
func Encode(values []int) string {
	var sb strings.Builder
	sb.Grow(len(values) * 5)
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(v))
	}
	return sb.String()
}

// Push sends a full strip state.
func (c *Client) Push(ctx context.Context, values []int) error {
	body, err := json.Marshal(changeRequest{Values: Encode(values)})
	if err != nil {
		return &DeviceError{Op: "push", Attempts: 0, Err: err}
	}
	return c.send(ctx, "push", c.changeURL, body)
}

// Shutoff turns the strip off. Transient failures are retried like a push;
// the final failure is always returned.
func (c *Client) Shutoff(ctx context.Context) error {
	return c.send(ctx, "shutoff", c.offURL, nil)
}

func (c *Client) send(ctx context.Context, op, target string, body []byte) error {
	var last *DeviceError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.log.Debug().Str("op", op).Int("attempt", attempt+1).Dur("backoff", delay).Msg("retrying")
			if err := c.wait(ctx, delay); err != nil {
				last.Err = errors.Join(last.Err, err)
				return last
			}
		}
		derr := c.attempt(ctx, op, target, body)
		if derr == nil {
			if attempt > 0 {
				c.log.Info().Str("op", op).Int("attempts", attempt+1).Msg("device recovered")
			}
			return nil
		}
		derr.Attempts = attempt + 1
		last = derr
		if !derr.Transient || ctx.Err() != nil {
			return derr
		}
		c.log.Warn().Err(derr.Err).Str("op", op).Int("status", derr.StatusCode).Int("attempt", attempt+1).Msg("transient device error")
	}
	c.log.Error().Str("op", op).Int("attempts", last.Attempts).Msg("giving up on device")
	return last
}

func (c *Client) attempt(ctx context.Context, op, target string, body []byte) *DeviceError {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		return &DeviceError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &DeviceError{Op: op, Transient: true, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Warn().Err(closeErr).Msg("error closing response body")
		}
	}()
	if resp.StatusCode > 299 || resp.StatusCode < 200 {
		return &DeviceError{Op: op, StatusCode: resp.StatusCode, Transient: retryableStatus(resp.StatusCode)}
	}
	return nil
}

// backoff doubles from baseBackoff per retry, capped at maxBackoff, plus up to
// half again as additive jitter, so each wait lies in [d, 1.5d].
func (c *Client) backoff(retry int) time.Duration {
	exp := c.maxBackoff
	if retry < 30 {
		if d := c.baseBackoff << retry; d > 0 && d < c.maxBackoff {
			exp = d
		}
	}
	return exp + rand.N(exp/2+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
