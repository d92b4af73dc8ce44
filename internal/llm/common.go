package llm

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChoice is one element of choices[] in a streamed `data:` frame.
type StreamChoice struct {
	Delta Delta `json:"delta"`
}

type Delta struct {
	Content *string `json:"content"`
}

func NewChatRequest(model, system, prompt string) ChatRequest {
	return ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream: true,
	}
}

func MarshalChatRequest(req ChatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

// HandleHTTPError logs a non-2xx answer and returns it as *APIError.
// Retryable statuses are logged at warn; the caller decides whether to retry.
func HandleHTTPError(statusCode int, body []byte, logger *zap.Logger, provider string) error {
	retryable := IsRetryableStatus(statusCode)
	level := zapcore.ErrorLevel
	if retryable {
		level = zapcore.WarnLevel
	}
	logger.Log(level, provider+" request failed",
		zap.Int("status", statusCode),
		zap.String("body", string(body)),
		zap.Bool("retryable", retryable),
	)
	return &APIError{Status: statusCode, Body: string(body)}
}
