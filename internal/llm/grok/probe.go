package grok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
)

// TestConnection lists models once, without retries. Every outcome,
// including transport failures, is encoded in the result.
func (c *Client) TestConnection(ctx context.Context) llm.ConnectionTestResult {
	res := c.probe(ctx)

	code := res.ErrorCode
	if res.Status == llm.ProbeSuccess {
		code = "OK"
	}
	c.metrics.RecordProbe(code)
	c.logger.Debug("connection test finished",
		zap.String("status", res.Status),
		zap.String("code", code),
	)

	return res
}

func (c *Client) probe(ctx context.Context) llm.ConnectionTestResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return llm.ConnectionTestResult{Status: llm.ProbeError, ErrorCode: "NETWORK_ERROR", Message: err.Error()}
	}
	c.setHeaders(req, "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return llm.ConnectionTestResult{
			Status:    llm.ProbeError,
			ErrorCode: classifyTransportError(err),
			Message:   err.Error(),
		}
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return llm.ConnectionTestResult{
			Status:         llm.ProbeError,
			ResponseTimeMs: &elapsed,
			ErrorCode:      classifyStatus(resp.StatusCode),
			Message:        fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	var payload any
	body, err := io.ReadAll(resp.Body)
	if err == nil {
		// Unmarshal rejects trailing data after the first value.
		err = json.Unmarshal(body, &payload)
	}
	if err != nil {
		return llm.ConnectionTestResult{
			Status:         llm.ProbeError,
			ResponseTimeMs: &elapsed,
			ErrorCode:      "PARSE_ERROR",
			Message:        fmt.Errorf("%w: %v", llm.ErrParse, err).Error(),
		}
	}

	return llm.ConnectionTestResult{
		Status:         llm.ProbeSuccess,
		ResponseTimeMs: &elapsed,
		ModelCount:     modelCount(payload),
		Message:        fmt.Sprintf("OK (HTTP %d)", resp.StatusCode),
	}
}

func modelCount(payload any) *int {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	data, ok := obj["data"].([]any)
	if !ok {
		return nil
	}
	n := len(data)
	return &n
}

func classifyStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "AUTH_ERROR"
	case code == http.StatusNotFound:
		return "NOT_FOUND"
	case code == http.StatusTooManyRequests:
		return "RATE_LIMIT"
	case code >= 500 && code <= 599:
		return "SERVER_ERROR"
	default:
		return "HTTP_ERROR"
	}
}

func classifyTransportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "TIMEOUT"
	}
	te := llm.NewTransportError(err)
	switch {
	case te.Timeout:
		return "TIMEOUT"
	case te.Connect:
		return "CONNECTION_FAILURE"
	default:
		return "NETWORK_ERROR"
	}
}
