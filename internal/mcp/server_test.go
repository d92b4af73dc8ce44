package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kitbuilder587/grok-search-mcp/internal/metrics"
	"github.com/kitbuilder587/grok-search-mcp/internal/ratelimit"
	"github.com/kitbuilder587/grok-search-mcp/internal/tools"
)

type handlerFunc func(ctx context.Context, name string, args json.RawMessage) (string, error)

func (f handlerFunc) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return f(ctx, name, args)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func replies(t *testing.T, out string) []rpcReply {
	t.Helper()
	var res []rpcReply
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var r rpcReply
		require.NoError(t, json.Unmarshal([]byte(line), &r), "line: %s", line)
		assert.Equal(t, "2.0", r.JSONRPC)
		res = append(res, r)
	}
	return res
}

func byID(t *testing.T, rs []rpcReply) map[string]rpcReply {
	t.Helper()
	m := make(map[string]rpcReply, len(rs))
	for _, r := range rs {
		m[string(r.ID)] = r
	}
	return m
}

func echoHandler() handlerFunc {
	return func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		return fmt.Sprintf("%s:%s", name, args), nil
	}
}

func serve(t *testing.T, s *Server, input string) []rpcReply {
	t.Helper()
	out := &syncBuffer{}
	err := s.Serve(context.Background(), strings.NewReader(input), out)
	require.NoError(t, err)
	return replies(t, out.String())
}

func TestServer_Initialize(t *testing.T) {
	s := New(Config{Version: "1.2.3"}, echoHandler(), zap.NewNop(), nil)

	rs := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`+"\n")
	require.Len(t, rs, 1)
	require.Nil(t, rs[0].Error)
	assert.JSONEq(t, `1`, string(rs[0].ID))
	assert.JSONEq(t, `{
		"protocolVersion": "2024-11-05",
		"capabilities": {"tools": {}},
		"serverInfo": {"name": "grok-search", "version": "1.2.3"}
	}`, string(rs[0].Result))
}

func TestServer_InitializeUnknownVersion(t *testing.T) {
	s := New(Config{}, echoHandler(), zap.NewNop(), nil)

	rs := serve(t, s, `{"jsonrpc":"2.0","id":"a","method":"initialize","params":{"protocolVersion":"1999-01-01"}}`+"\n")
	require.Len(t, rs, 1)

	var res initializeResult
	require.NoError(t, json.Unmarshal(rs[0].Result, &res))
	assert.Equal(t, supportedProtocolVersions[len(supportedProtocolVersions)-1], res.ProtocolVersion)
	assert.Equal(t, "dev", res.ServerInfo.Version)
}

func TestServer_PingAndToolsList(t *testing.T) {
	s := New(Config{Tools: tools.Definitions()}, echoHandler(), zap.NewNop(), nil)

	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}
{"jsonrpc":"2.0","id":2,"method":"tools/list"}
`
	m := byID(t, serve(t, s, input))
	require.Len(t, m, 2)

	assert.JSONEq(t, `{}`, string(m["1"].Result))

	var list struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(m["2"].Result, &list))
	require.Len(t, list.Tools, 5)
	assert.Equal(t, "web_search", list.Tools[0].Name)
	assert.NotEmpty(t, list.Tools[0].InputSchema)
}

func TestServer_ToolsCall(t *testing.T) {
	s := New(Config{}, echoHandler(), zap.NewNop(), nil)

	rs := serve(t, s, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"web_search","arguments":{"query":"q"}}}`+"\n")
	require.Len(t, rs, 1)
	require.Nil(t, rs[0].Error)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"web_search:{\"query\":\"q\"}"}]}`, string(rs[0].Result))
}

func TestServer_ToolErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid params", fmt.Errorf("%w: query cannot be empty", tools.ErrInvalidParams), CodeInvalidParams},
		{"unknown tool", fmt.Errorf("%w: nope", tools.ErrUnknownTool), CodeInvalidParams},
		{"backend failure", errors.New("max retries exceeded (4 attempts): boom"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			h := handlerFunc(func(ctx context.Context, name string, args json.RawMessage) (string, error) {
				return "", tt.err
			})
			s := New(Config{}, h, zap.NewNop(), m)

			rs := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search"}}`+"\n")
			require.Len(t, rs, 1)
			require.NotNil(t, rs[0].Error)
			assert.Equal(t, tt.wantCode, rs[0].Error.Code)
			assert.Equal(t, tt.err.Error(), rs[0].Error.Message)
			assert.Nil(t, rs[0].Result)
			assert.Equal(t, 0.0, testutil.ToFloat64(m.ToolCallsInFlight))
		})
	}
}

func TestServer_ToolsCallWithoutName(t *testing.T) {
	called := false
	h := handlerFunc(func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		called = true
		return "", nil
	})
	s := New(Config{}, h, zap.NewNop(), nil)

	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}
{"jsonrpc":"2.0","id":2,"method":"tools/call"}
`
	m := byID(t, serve(t, s, input))
	require.Len(t, m, 2)
	assert.Equal(t, CodeInvalidParams, m["1"].Error.Code)
	assert.Equal(t, CodeInvalidParams, m["2"].Error.Code)
	assert.False(t, called)
}

func TestServer_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantID   string
		wantCode int
	}{
		{"malformed json", `{"jsonrpc":"2.0","id":1,`, "null", CodeParseError},
		{"batch", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, "null", CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":3,"method":"ping"}`, "3", CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":"x","method":"resources/list"}`, `"x"`, CodeMethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{}, echoHandler(), zap.NewNop(), nil)

			rs := serve(t, s, tt.line+"\n")
			require.Len(t, rs, 1)
			require.NotNil(t, rs[0].Error)
			assert.Equal(t, tt.wantCode, rs[0].Error.Code)
			assert.JSONEq(t, tt.wantID, string(rs[0].ID))
		})
	}
}

func TestServer_SilentMessages(t *testing.T) {
	s := New(Config{}, echoHandler(), zap.NewNop(), nil)

	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}


{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}
{"jsonrpc":"2.0","id":5,"result":{}}
{"jsonrpc":"2.0","method":"tools/call","params":{"name":"web_search"}}
{"jsonrpc":"2.0","id":9,"method":"ping"}`

	rs := serve(t, s, input)
	require.Len(t, rs, 1)
	assert.JSONEq(t, `9`, string(rs[0].ID))
}

func TestServer_RateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 1})
	defer limiter.Stop()

	s := New(Config{Limiter: limiter}, echoHandler(), zap.NewNop(), m)

	out := &syncBuffer{}
	in := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_fetch"}}
{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"web_search"}}
`
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(in), out))
	first := byID(t, replies(t, out.String()))
	assert.Nil(t, first["1"].Error)
	assert.Nil(t, first["2"].Error)

	out = &syncBuffer{}
	in = `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"web_fetch"}}` + "\n"
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(in), out))
	rs := replies(t, out.String())
	require.Len(t, rs, 1)
	require.NotNil(t, rs[0].Error)
	assert.Equal(t, CodeRateLimited, rs[0].Error.Code)
	assert.Contains(t, rs[0].Error.Message, "web_fetch")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("web_fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("web_fetch", "ok")))
}

func TestServer_ConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	h := handlerFunc(func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		if name == "slow" {
			<-release
		}
		return name, nil
	})
	s := New(Config{}, h, zap.NewNop(), nil)

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), pr, out) }()

	fmt.Fprintln(pw, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow"}}`)
	fmt.Fprintln(pw, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fast"}}`)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"id":2`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotContains(t, out.String(), `"id":1`)

	// EOF with a request still in flight: Serve waits for it
	pw.Close()
	select {
	case <-done:
		t.Fatal("Serve returned before the in-flight request finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)

	m := byID(t, replies(t, out.String()))
	require.Len(t, m, 2)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"slow"}]}`, string(m["1"].Result))
}

func TestServer_ContextCancel(t *testing.T) {
	started := make(chan struct{})
	h := handlerFunc(func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	s := New(Config{}, h, zap.NewNop(), nil)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pr, out) }()

	fmt.Fprintln(pw, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search"}}`)
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	rs := replies(t, out.String())
	require.Len(t, rs, 1)
	assert.Equal(t, CodeInternalError, rs[0].Error.Code)
}

func TestServer_PanicInHandler(t *testing.T) {
	h := handlerFunc(func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		panic("boom")
	})
	s := New(Config{}, h, zap.NewNop(), nil)

	rs := serve(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x"}}`+"\n")
	require.Len(t, rs, 1)
	assert.Equal(t, CodeInternalError, rs[0].Error.Code)
}

func TestServer_ReadError(t *testing.T) {
	s := New(Config{}, echoHandler(), zap.NewNop(), nil)

	pr, pw := io.Pipe()
	pw.CloseWithError(errors.New("stdin broken"))

	err := s.Serve(context.Background(), pr, &syncBuffer{})
	assert.ErrorContains(t, err, "stdin broken")
}

func TestNegotiateVersion(t *testing.T) {
	for _, v := range supportedProtocolVersions {
		assert.Equal(t, v, negotiateVersion(v))
	}
	assert.Equal(t, "2025-06-18", negotiateVersion(""))
}
