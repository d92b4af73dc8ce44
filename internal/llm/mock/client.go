package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
)

type Client struct {
	mu sync.Mutex

	Response   string
	Error      error
	Delay      time.Duration
	ModelName  string
	Connection llm.ConnectionTestResult

	CallCount int
	AllCalls  []Call
}

type Call struct {
	Op         string
	Query      string
	Platform   string
	MinResults int
	MaxResults int
	URL        string
}

func New() *Client {
	return &Client{
		Response:   "This is a mock response.",
		ModelName:  "grok-4-fast",
		Connection: llm.ConnectionTestResult{Status: llm.ProbeSuccess, Message: "OK (HTTP 200)"},
	}
}

func (c *Client) WithResponse(response string) *Client {
	c.Response = response
	return c
}

func (c *Client) WithError(err error) *Client {
	c.Error = err
	return c
}

func (c *Client) WithDelay(delay time.Duration) *Client {
	c.Delay = delay
	return c
}

func (c *Client) WithModel(model string) *Client {
	c.ModelName = model
	return c
}

func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ModelName
}

func (c *Client) Search(ctx context.Context, query, platform string, minResults, maxResults int) (string, error) {
	return c.record(ctx, Call{Op: "search", Query: query, Platform: platform, MinResults: minResults, MaxResults: maxResults})
}

func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	return c.record(ctx, Call{Op: "fetch", URL: url})
}

func (c *Client) TestConnection(ctx context.Context) llm.ConnectionTestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Connection
}

func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.AllCalls...)
}

func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCount = 0
	c.AllCalls = nil
}

func (c *Client) record(ctx context.Context, call Call) (string, error) {
	c.mu.Lock()
	c.CallCount++
	c.AllCalls = append(c.AllCalls, call)
	delay, resp, err := c.Delay, c.Response, c.Error
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return "", err
	}

	return resp, nil
}

var _ llm.Client = (*Client)(nil)
