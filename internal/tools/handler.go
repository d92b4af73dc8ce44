package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kitbuilder587/grok-search-mcp/internal/config"
	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
)

var (
	ErrInvalidParams = errors.New("invalid params")
	ErrUnknownTool   = errors.New("unknown tool")
)

var builtinDenyList = []string{"WebFetch", "WebSearch"}

// ClientFactory builds a client bound to model.
type ClientFactory func(model string) llm.Client

// Handler runs tool calls. It is safe for concurrent use; switch_model
// replaces the client atomically and in-flight calls keep the old one.
type Handler struct {
	cfg       *config.Config
	store     *config.Store
	newClient ClientFactory
	logger    *zap.Logger

	mu              sync.RWMutex
	client          llm.Client
	builtinDisabled bool
}

func NewHandler(cfg *config.Config, client llm.Client, newClient ClientFactory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:             cfg,
		store:           cfg.Store(),
		newClient:       newClient,
		logger:          logger,
		client:          client,
		builtinDisabled: cfg.BuiltinToolsDisabled,
	}
}

// Client returns the client currently serving calls.
func (h *Handler) Client() llm.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client
}

// Call dispatches a tool by name. raw may be empty or null for tools whose
// parameters all have defaults.
func (h *Handler) Call(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	switch name {
	case WebSearch:
		return h.webSearch(ctx, raw)
	case WebFetch:
		return h.webFetch(ctx, raw)
	case GetConfigInfo:
		return h.getConfigInfo(ctx, raw)
	case SwitchModel:
		return h.switchModel(raw)
	case ToggleBuiltinTools:
		return h.toggleBuiltinTools(raw)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

func (h *Handler) webSearch(ctx context.Context, raw json.RawMessage) (string, error) {
	p := WebSearchParams{MinResults: defaultMinResults, MaxResults: defaultMaxResults}
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	return h.Client().Search(ctx, strings.TrimSpace(p.Query), strings.TrimSpace(p.Platform), p.MinResults, p.MaxResults)
}

func (h *Handler) webFetch(ctx context.Context, raw json.RawMessage) (string, error) {
	var p WebFetchParams
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	return h.Client().Fetch(ctx, strings.TrimSpace(p.URL))
}

func (h *Handler) getConfigInfo(ctx context.Context, raw json.RawMessage) (string, error) {
	var p GetConfigInfoParams
	if err := decode(raw, &p); err != nil {
		return "", err
	}

	client := h.Client()
	conn := client.TestConnection(ctx)

	return marshalPretty(map[string]any{
		"api_url":         h.cfg.Grok.APIURL,
		"api_key":         h.cfg.MaskedAPIKey(),
		"model":           client.Model(),
		"debug_enabled":   h.cfg.Log.Debug,
		"log_level":       h.cfg.Log.Level,
		"log_dir":         h.cfg.Log.Dir,
		"config_file":     h.store.Path(),
		"config_status":   "✅ complete",
		"connection_test": conn,
	})
}

func (h *Handler) switchModel(raw json.RawMessage) (string, error) {
	var p SwitchModelParams
	if err := decode(raw, &p); err != nil {
		return "", err
	}
	next := strings.TrimSpace(p.Model)

	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.client.Model()

	if err := h.store.SaveModel(next); err != nil {
		h.logger.Error("failed to persist model", zap.String("model", next), zap.Error(err))
		return marshalPretty(map[string]any{
			"status":  "❌ failed",
			"message": fmt.Sprintf("failed to switch model: %v", err),
		})
	}

	h.client = h.newClient(next)
	h.logger.Info("model switched",
		zap.String("previous_model", previous),
		zap.String("current_model", next),
	)

	return marshalPretty(map[string]any{
		"status":         "✅ success",
		"previous_model": previous,
		"current_model":  next,
		"message":        fmt.Sprintf("model switched from %s to %s", previous, next),
		"config_file":    h.store.Path(),
	})
}

func (h *Handler) toggleBuiltinTools(raw json.RawMessage) (string, error) {
	p := ToggleBuiltinToolsParams{Action: "status"}
	if err := decode(raw, &p); err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var message string
	switch p.normalizedAction() {
	case "on":
		h.setBuiltinDisabled(true)
		message = "built-in tools disabled"
	case "off":
		h.setBuiltinDisabled(false)
		message = "built-in tools enabled"
	default:
		if h.builtinDisabled {
			message = "built-in tools are currently disabled"
		} else {
			message = "built-in tools are currently enabled"
		}
	}

	denyList := []string{}
	if h.builtinDisabled {
		denyList = builtinDenyList
	}

	return marshalPretty(map[string]any{
		"blocked":   h.builtinDisabled,
		"deny_list": denyList,
		"file":      h.store.Path(),
		"message":   message,
	})
}

// setBuiltinDisabled updates the in-memory flag even when persisting fails.
// Caller holds mu.
func (h *Handler) setBuiltinDisabled(disabled bool) {
	h.builtinDisabled = disabled
	if err := h.store.SaveBuiltinToolsDisabled(disabled); err != nil {
		h.logger.Warn("failed to persist builtin tools setting", zap.Bool("disabled", disabled), zap.Error(err))
	}
}

type validator interface {
	Validate() error
}

func decode(raw json.RawMessage, p validator) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func marshalPretty(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
