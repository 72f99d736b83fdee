// connhub accepts multiplexed WebSocket connections and broadcasts
// published payloads to all of them.
// Usage: go run ./cmd/connhub --config configs/connmux.example.yaml
//
// Publish with:
//
//	curl -X POST 'localhost:8080/publish?channel=hot_reload' -d '{"template":"app"}'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/connmux/internal/auth"
	"github.com/rickgao/connmux/internal/config"
	"github.com/rickgao/connmux/internal/hub"
	"github.com/rickgao/connmux/internal/logging"
	"github.com/rickgao/connmux/internal/metrics"
	"github.com/rickgao/connmux/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	baseLogger, logCloser, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger := baseLogger.With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting connhub", append(version.Attrs(), "config", *configPath)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var verifier *auth.Verifier
	if len(cfg.Server.Auth.Keys) > 0 {
		verifier, err = auth.LoadVerifier(cfg.Server.Auth.Keys, cfg.Server.Auth.MaxSkew)
		if err != nil {
			logger.Error("failed to load auth keys", "error", err)
			os.Exit(1)
		}
		logger.Info("handshake authentication enabled", "keys", len(cfg.Server.Auth.Keys))
	}

	h := hub.New(hub.Config{SendConcurrency: cfg.Server.SendConcurrency}, logger)
	srv := newServer(cfg, h, m, verifier, logger)

	servers := []*http.Server{{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.handler(),
	}}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		s := s
		g.Go(func() error {
			logger.Info("listening", "addr", s.Addr)
			if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", s.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		// Hijacked WebSocket connections are not tracked by Shutdown
		h.Close()
		for _, s := range servers {
			s.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("connhub failed", "error", err)
		os.Exit(1)
	}

	logger.Info("connhub stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}
