// Package apiclient talks to the exam REST API. Responses use the
// {data, error, metadata} envelope; failures are mapped to the error kinds in
// errors.go so callers never see raw transport errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/response"
)

const maxBodyBytes = 4 << 20

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// OnUnauthorized runs after any 401 response, before the error is returned.
	OnUnauthorized func()

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Client struct {
	baseURL        string
	token          string
	onUnauthorized func()
	httpClient     *http.Client
	log            zerolog.Logger
	now            func() time.Time
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base URL required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:        baseURL,
		token:          strings.TrimSpace(opts.Token),
		onUnauthorized: opts.OnUnauthorized,
		httpClient:     hc,
		log:            opts.Logger.With().Str("component", "apiclient").Logger(),
		now:            time.Now,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// WithToken returns a copy of c that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// do sends body (if non-nil) as JSON and decodes the envelope's data into out
// (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	reqID := uuid.NewString()
	req.Header.Set(response.HeaderRequestID, reqID)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return &Error{Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	var bodyRdr io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		bodyRdr = brotli.NewReader(resp.Body)
	}
	raw, err := io.ReadAll(io.LimitReader(bodyRdr, maxBodyBytes))
	if err != nil {
		return &Error{Kind: ErrNetwork, Status: resp.StatusCode, Err: err}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", reqID).
		Dur("latency", time.Since(started)).
		Msg("api call")

	var env response.Envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		apiErr := &Error{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = string(env.Error.Code)
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return &Error{Kind: ErrProtocol, Status: resp.StatusCode, Err: decodeErr}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &Error{Kind: ErrProtocol, Status: resp.StatusCode, Message: "response has no data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Kind: ErrProtocol, Status: resp.StatusCode, Err: err}
	}
	return nil
}
