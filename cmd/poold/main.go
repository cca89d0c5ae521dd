package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-amm-go/cmd/poold/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prometheusRegistry := prometheus.NewRegistry()
	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d, err := newDaemon(cfg, rootLogger, prometheusRegistry)
	if err != nil {
		rootLogger.Error("Failed to initialize daemon", "error", err)
		os.Exit(1)
	}
	if err := d.listen(); err != nil {
		rootLogger.Error("Failed to bind listeners", "error", err)
		os.Exit(1)
	}
	rootLogger.Info("poold started",
		"rpc", d.rpcURL(),
		"pools", d.registry.Len(),
		"fee_bps", cfg.FeeBps,
		"busy_policy", cfg.BusyPolicy,
	)

	if err := d.serve(ctx); err != nil {
		rootLogger.Error("poold stopped with error", "error", err)
		os.Exit(1)
	}
	rootLogger.Info("poold stopped")
}

func loadConfig() (*config.ServerConfig, error) {
	configPath := flag.String("config", "", "Path to the configuration file. Defaults apply when empty.")
	flag.Parse()
	if *configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
