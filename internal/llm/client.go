package llm

import (
	"context"
	"errors"
)

var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrRequestFailed = errors.New("request failed")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrParse         = errors.New("parse error")
)

// Searcher is what the tool layer needs from a chat backend.
type Searcher interface {
	Search(ctx context.Context, query, platform string, minResults, maxResults int) (string, error)
	Fetch(ctx context.Context, url string) (string, error)
	Model() string
}

const (
	ProbeSuccess = "success"
	ProbeError   = "error"
)

// ConnectionTestResult is the diagnostic returned by a connectivity probe.
type ConnectionTestResult struct {
	Status         string `json:"status"`
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
	ModelCount     *int   `json:"model_count,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Client is a Searcher that can also report whether its backend is reachable.
type Client interface {
	Searcher
	TestConnection(ctx context.Context) ConnectionTestResult
}
