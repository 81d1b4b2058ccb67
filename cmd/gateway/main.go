// Package main is the entry point for the API gateway. It loads
// configuration, connects to the backends, the broker and the cache, starts
// the HTTP server and shuts down gracefully on SIGINT/SIGTERM.
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

	"github.com/dskow/api-gateway/internal/broker"
	"github.com/dskow/api-gateway/internal/cache"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/logging"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/dskow/api-gateway/internal/server"
	"github.com/dskow/api-gateway/internal/tlsutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out, err := logging.Open(cfg.Logging)
	if err != nil {
		return fmt.Errorf("open log output: %w", err)
	}
	defer out.Close()

	level := new(slog.LevelVar)
	level.Set(cfg.Logging.SlogLevel())
	logger := logging.New(out, level)
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"port", cfg.Server.Port,
		"menu_addr", cfg.Backends.Menu.Addr,
		"user_addr", cfg.Backends.User.Addr,
		"media_addr", cfg.Backends.Media.Addr,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"trusted_proxies", len(cfg.Server.TrustedProxies),
		"tls", cfg.Server.TLS.Enabled(),
	)

	reloader := config.NewReloader(configPath, cfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	clients, err := rpc.Dial(cfg, m, logger)
	if err != nil {
		return err
	}
	defer clients.Close()

	nc, err := broker.Connect(cfg.Broker.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	store := openCache(cfg.Cache, logger)
	defer store.Close()

	srv := server.New(cfg, server.Deps{
		Clients:  clients,
		Broker:   nc,
		Cache:    store,
		Metrics:  m,
		Gatherer: reg,
		Config:   reloader,
	}, logger)
	defer srv.Close()

	reloader.OnReload(func(next *config.Config) {
		level.Set(next.Logging.SlogLevel())
		srv.Reload(next)
	})
	if err := reloader.Start(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	defer reloader.Stop()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serve := httpSrv.ListenAndServe
	if cfg.Server.TLS.Enabled() {
		kp, err := tlsutil.Load(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
		if err != nil {
			return err
		}
		defer kp.Close()
		httpSrv.TLSConfig = kp.ServerConfig()
		httpSrv.TLSConfig.MinVersion = cfg.Server.TLS.MinTLSVersion()
		serve = func() error { return httpSrv.ListenAndServeTLS("", "") }
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gateway", "addr", httpSrv.Addr, "tls", httpSrv.TLSConfig != nil)
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("gateway stopped gracefully")
	return nil
}

// openCache connects to Redis when an address is configured. Without an
// address, or when Redis cannot be reached, the in-process cache is used.
func openCache(cfg config.CacheConfig, logger *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		return cache.NewMemory()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("response cache unreachable, using in-process cache", "addr", cfg.RedisAddr, "error", err)
		return cache.NewMemory()
	}
	logger.Info("response cache connected", "addr", cfg.RedisAddr)
	return c
}
