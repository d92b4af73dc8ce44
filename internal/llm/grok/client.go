package grok

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
	"github.com/kitbuilder587/grok-search-mcp/internal/llm/sse"
	"github.com/kitbuilder587/grok-search-mcp/internal/metrics"
)

const (
	defaultModel          = "grok-4-fast"
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultRequestTimeout = 120 * time.Second
	readChunkSize         = 32 * 1024
)

var errReadTimeout = errors.New("stream read timed out")

type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	RetryMaxAttempts int
	RetryMultiplier  float64
	RetryMaxWait     time.Duration

	SearchPrompt string
	FetchPrompt  string
	UserAgent    string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // per chunk
	RequestTimeout time.Duration // per attempt
}

// Client talks to an OpenAI-compatible chat completions API with streaming
// responses. It keeps no per-call state, so one Client serves concurrent calls.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	searchPrompt string
	fetchPrompt  string
	userAgent    string

	maxAttempts int
	multiplier  float64
	maxWait     time.Duration

	readTimeout    time.Duration
	requestTimeout time.Duration

	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	// swapped out in tests
	now    func() time.Time
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = 1.0
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = 10 * time.Second
	}
	if cfg.SearchPrompt == "" {
		cfg.SearchPrompt = SearchPrompt
	}
	if cfg.FetchPrompt == "" {
		cfg.FetchPrompt = FetchPrompt
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "grok-search-mcp"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		baseURL:        cfg.BaseURL,
		searchPrompt:   cfg.SearchPrompt,
		fetchPrompt:    cfg.FetchPrompt,
		userAgent:      cfg.UserAgent,
		maxAttempts:    cfg.RetryMaxAttempts,
		multiplier:     cfg.RetryMultiplier,
		maxWait:        cfg.RetryMaxWait,
		readTimeout:    cfg.ReadTimeout,
		requestTimeout: cfg.RequestTimeout,
		client:         &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger:         logger,
		metrics:        m,
		now:            time.Now,
		jitter:         func() float64 { return 0.9 + rand.Float64()*0.2 },
		sleep:          sleepContext,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Search asks the model to search the web. query and platform are expected
// to be validated and trimmed by the caller.
func (c *Client) Search(ctx context.Context, query, platform string, minResults, maxResults int) (string, error) {
	msg := buildSearchMessage(query, platform, minResults, maxResults, c.now())
	return c.chatStream(ctx, "search", c.searchPrompt, msg)
}

// Fetch asks the model to fetch url and render it as Markdown.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	return c.chatStream(ctx, "fetch", c.fetchPrompt, buildFetchMessage(url))
}

func (c *Client) chatStream(ctx context.Context, op, system, prompt string) (string, error) {
	logger := c.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("operation", op),
	)

	body, err := llm.MarshalChatRequest(llm.NewChatRequest(c.model, system, prompt))
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	start := time.Now()
	state := retryState{}

	for {
		text, err := c.tryStream(ctx, logger, endpoint, body)
		if err == nil {
			c.metrics.RecordLLMRequest(op, "ok", time.Since(start))
			logger.Debug("chat completion finished",
				zap.Int("attempts", state.attempt+1),
				zap.Int("bytes", len(text)),
				zap.Duration("elapsed", time.Since(start)),
			)
			return text, nil
		}

		step := c.decide(state, err)
		if step.fail != nil {
			c.metrics.RecordLLMRequest(op, "error", time.Since(start))
			logger.Error("chat completion failed",
				zap.Int("attempts", state.attempt+1),
				zap.Error(step.fail),
			)
			return "", step.fail
		}

		logger.Warn("grok API error, retrying",
			zap.Int("attempt", state.attempt+1),
			zap.Int("max_attempts", c.maxAttempts+1),
			zap.Duration("delay", step.delay),
			zap.Error(err),
		)
		c.metrics.RecordRetry(op)
		state = state.next(err)

		if err := c.sleep(ctx, step.delay); err != nil {
			c.metrics.RecordLLMRequest(op, "canceled", time.Since(start))
			return "", fmt.Errorf("retry wait interrupted (last error: %v): %w", state.lastErr, err)
		}
	}
}

// tryStream runs one attempt: send, check status, read the event stream.
func (c *Client) tryStream(ctx context.Context, logger *zap.Logger, endpoint string, body []byte) (string, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", c.mapError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", llm.HandleHTTPError(resp.StatusCode, respBody, logger, "grok")
	}

	watchdog := time.AfterFunc(c.readTimeout, func() { cancel(errReadTimeout) })
	defer watchdog.Stop()

	acc := sse.NewAccumulator()
	chunk := make([]byte, readChunkSize)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			watchdog.Reset(c.readTimeout)
			if acc.Feed(chunk[:n]) {
				break
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", c.mapError(ctx, attemptCtx, err)
		}
	}

	switch {
	case acc.Truncated():
		logger.Warn("content exceeded size cap, truncating", zap.Int("limit_bytes", sse.MaxContentBytes))
		c.metrics.RecordTruncatedStream()
	case !acc.Done():
		logger.Warn("stream ended without [DONE]", zap.Int("bytes", len(acc.Text())))
		c.metrics.RecordIncompleteStream()
	}

	return acc.Text(), nil
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
}

// mapError sorts a failed Do or Read into the llm error taxonomy.
// Cancellation by the caller is returned as is and never retried.
func (c *Client) mapError(parent, attemptCtx context.Context, err error) error {
	if errors.Is(context.Cause(attemptCtx), errReadTimeout) {
		return &llm.TimeoutError{Seconds: seconds(c.readTimeout)}
	}
	if parent.Err() != nil {
		return parent.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return llm.NewTransportError(err)
		}
		return &llm.TimeoutError{Seconds: seconds(c.requestTimeout)}
	}

	return llm.NewTransportError(err)
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
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

var _ llm.Client = (*Client)(nil)
