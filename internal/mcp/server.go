package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/grok-search-mcp/internal/metrics"
	"github.com/kitbuilder587/grok-search-mcp/internal/ratelimit"
	"github.com/kitbuilder587/grok-search-mcp/internal/tools"
)

const ServerName = "grok-search"

// ToolHandler executes a named tool with raw JSON arguments.
type ToolHandler interface {
	Call(ctx context.Context, name string, args json.RawMessage) (string, error)
}

type Config struct {
	Version string
	Tools   []tools.Definition
	// Limiter is optional; nil disables per-tool rate limiting.
	Limiter *ratelimit.Limiter
}

// Server speaks newline-delimited JSON-RPC 2.0. Requests run concurrently,
// responses are written one line at a time in completion order.
type Server struct {
	handler ToolHandler
	tools   []tools.Definition
	version string
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	wmu sync.Mutex
	out io.Writer
}

func New(cfg Config, handler ToolHandler, logger *zap.Logger, m *metrics.Metrics) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Tools == nil {
		cfg.Tools = []tools.Definition{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		handler: handler,
		tools:   cfg.Tools,
		version: cfg.Version,
		limiter: cfg.Limiter,
		logger:  logger,
		metrics: m,
	}
}

// Serve reads requests from in until EOF or ctx is done, then waits for
// in-flight handlers. EOF is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	// Blocks on in; on ctx cancel it exits once the pending read returns.
	go func() {
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup

	s.logger.Info("mcp server started", zap.String("version", s.version))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("mcp server stopping, waiting for handlers to finish")
			wg.Wait()
			return ctx.Err()

		case err := <-readErr:
			wg.Wait()
			if errors.Is(err, io.EOF) {
				s.logger.Info("input closed, mcp server stopped")
				return nil
			}
			return fmt.Errorf("read input: %w", err)

		case line := <-lines:
			req, ok := s.parse(line)
			if !ok {
				continue
			}
			if req.isNotification() {
				s.logger.Debug("notification received", zap.String("method", req.Method))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleRequest(ctx, req)
			}()
		}
	}
}

// parse decodes one line. Malformed input gets an error reply with a null id.
func (s *Server) parse(line []byte) (*request, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	if !json.Valid(line) {
		s.logger.Warn("malformed json-rpc message", zap.Int("bytes", len(line)))
		s.write(response{ID: json.RawMessage("null"), Error: &rpcError{Code: CodeParseError, Message: "parse error"}})
		return nil, false
	}

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(response{ID: json.RawMessage("null"), Error: &rpcError{Code: CodeInvalidRequest, Message: "invalid request"}})
		return nil, false
	}

	if req.Method == "" {
		// replies to requests we never send
		if !req.isNotification() {
			s.logger.Debug("ignoring message without method", zap.ByteString("id", req.ID))
		}
		return nil, false
	}

	if req.JSONRPC != jsonrpcVersion {
		if !req.isNotification() {
			s.write(response{ID: req.ID, Error: &rpcError{Code: CodeInvalidRequest, Message: "jsonrpc must be \"2.0\""}})
		}
		return nil, false
	}

	return &req, true
}

func (s *Server) handleRequest(ctx context.Context, req *request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in request handler",
				zap.Any("panic", r),
				zap.String("method", req.Method),
			)
			s.write(response{ID: req.ID, Error: &rpcError{Code: CodeInternalError, Message: "internal error"}})
		}
	}()

	result, rerr := s.dispatch(ctx, req)
	if rerr != nil {
		s.write(response{ID: req.ID, Error: rerr})
		return
	}
	s.write(response{ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req *request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.initialize(req.Params), nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": s.tools}, nil
	case "tools/call":
		return s.callTool(ctx, req.Params)
	default:
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) initialize(raw json.RawMessage) initializeResult {
	var p initializeParams
	if len(raw) > 0 {
		json.Unmarshal(raw, &p)
	}

	version := negotiateVersion(p.ProtocolVersion)
	s.logger.Info("client initialized",
		zap.String("requested_protocol", p.ProtocolVersion),
		zap.String("protocol", version),
	)

	return initializeResult{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      serverInfo{Name: ServerName, Version: s.version},
	}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var p callToolParams
	if err := json.Unmarshal(raw, &p); err != nil || p.Name == "" {
		return nil, &rpcError{Code: CodeInvalidParams, Message: "tools/call requires a tool name"}
	}

	if s.limiter != nil && !s.limiter.Allow(p.Name) {
		s.metrics.RecordRateLimitHit(p.Name)
		wait := time.Until(s.limiter.ResetTime(p.Name)).Round(time.Second)
		s.logger.Warn("tool rate limited", zap.String("tool", p.Name), zap.Duration("retry_in", wait))
		return nil, &rpcError{
			Code:    CodeRateLimited,
			Message: fmt.Sprintf("rate limit exceeded for %s, retry in %s", p.Name, wait),
		}
	}

	s.metrics.IncToolCallsInFlight()
	defer s.metrics.DecToolCallsInFlight()

	start := time.Now()
	text, err := s.handler.Call(ctx, p.Name, p.Arguments)
	elapsed := time.Since(start)

	if err != nil {
		code, status := CodeInternalError, "error"
		if errors.Is(err, tools.ErrInvalidParams) || errors.Is(err, tools.ErrUnknownTool) {
			code, status = CodeInvalidParams, "invalid_params"
		}
		s.metrics.RecordToolCall(p.Name, status, elapsed)
		s.logger.Warn("tool call failed",
			zap.String("tool", p.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, &rpcError{Code: code, Message: err.Error()}
	}

	s.metrics.RecordToolCall(p.Name, "ok", elapsed)
	s.logger.Info("tool call finished",
		zap.String("tool", p.Name),
		zap.Duration("elapsed", elapsed),
		zap.Int("bytes", len(text)),
	)

	return callToolResult{Content: []content{{Type: "text", Text: text}}}, nil
}

func (s *Server) write(resp response) {
	resp.JSONRPC = jsonrpcVersion

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		return
	}
	data = append(data, '\n')

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}
