package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/grok-search-mcp/internal/config"
	"github.com/kitbuilder587/grok-search-mcp/internal/llm"
	"github.com/kitbuilder587/grok-search-mcp/internal/llm/grok"
	"github.com/kitbuilder587/grok-search-mcp/internal/mcp"
	"github.com/kitbuilder587/grok-search-mcp/internal/metrics"
	"github.com/kitbuilder587/grok-search-mcp/internal/ratelimit"
	"github.com/kitbuilder587/grok-search-mcp/internal/tools"
)

const shutdownTimeout = 5 * time.Second

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	handler *tools.Handler
	server  *mcp.Server
}

// newApp wires the tool handler and MCP server. reg receives every collector.
func newApp(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) *app {
	m := metrics.New(reg)

	newClient := func(model string) llm.Client {
		return grok.New(cfg.GrokClient(model), logger, m)
	}
	handler := tools.NewHandler(cfg, newClient(""), newClient, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute})
	}

	server := mcp.New(mcp.Config{
		Version: version,
		Tools:   tools.Definitions(),
		Limiter: limiter,
	}, handler, logger, m)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		limiter: limiter,
		handler: handler,
		server:  server,
	}
}

func (a *app) close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}

func runServe(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting grok search mcp server",
		zap.String("version", version),
		zap.String("api_url", cfg.Grok.APIURL),
		zap.String("model", cfg.Grok.Model),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := newApp(cfg, logger, reg)
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	err = a.run(ctx, in, out)
	logger.Info("grok search mcp server stopped")
	return err
}

// run serves MCP until input closes or ctx is done, plus /metrics when an
// address is configured. Either side stopping stops the other.
func (a *app) run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		err := a.server.Serve(gCtx, in, out)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			a.logger.Info("metrics server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func runProbe(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	client := grok.New(cfg.GrokClient(""), logger, nil)
	res := client.TestConnection(ctx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if res.Status != llm.ProbeSuccess {
		return fmt.Errorf("connection test failed: %s", res.ErrorCode)
	}
	return nil
}
