package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"strapt/config"
	"strapt/core/events"
	"strapt/core/state"
	"strapt/gateway"
	"strapt/native/drop"
	"strapt/native/registry"
	"strapt/native/stream"
	"strapt/native/transfer"
	"strapt/observability/logging"
	"strapt/storage"
)

func main() {
	configPath := flag.String("config", "straptd.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("straptd", cfg.Env)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	reg := registry.NewRegistry(manager)

	owner, err := parseAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	collector, err := parseAddress(cfg.FeeCollector)
	if err != nil {
		return fmt.Errorf("fee collector: %w", err)
	}
	if err := reg.Bootstrap(&registry.Params{
		Owner:        owner,
		FeeBps:       cfg.FeeBps,
		FeeCollector: collector,
		Tokens:       cfg.Tokens,
	}); err != nil {
		return fmt.Errorf("bootstrap params: %w", err)
	}

	emitter := events.FuncEmitter(func(evt events.Event) {
		logger.Info("event", slog.String("type", evt.EventType()))
	})

	transfers := transfer.NewEngine()
	transfers.SetState(manager)
	transfers.SetRegistry(reg)
	transfers.SetEmitter(emitter)

	streams := stream.NewEngine()
	streams.SetState(manager)
	streams.SetRegistry(reg)
	streams.SetEmitter(emitter)

	drops := drop.NewEngine()
	drops.SetState(manager)
	drops.SetRegistry(reg)
	drops.SetEmitter(emitter)

	promRegistry := prometheus.NewRegistry()
	server := gateway.NewServer(gateway.Options{
		Transfers:  transfers,
		Streams:    streams,
		Drops:      drops,
		Registry:   reg,
		Logger:     logger,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		Registerer: promRegistry,
		Gatherer:   promRegistry,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
