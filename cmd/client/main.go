package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-amm-go/cmd/client/config"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/indexer"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/client"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// create the log handler
	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	close := func() {
		os.Exit(1)
	}

	rootLogger := slog.New(rootLogHandler)
	prometheusRegistry := prometheus.DefaultRegisterer
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ops, err := stateops.NewStateOps(rootLogger.With("component", "stateops"), prometheusRegistry)
	if err != nil {
		rootLogger.Error("Failed to initialize State Ops", "error", err)
		close()
	}

	client, err := client.NewClient(
		ctx,
		client.Config{
			URL:              cfg.StateStreamURL,
			Logger:           rootLogger.With("component", "jsonrpc-client"),
			BufferSize:       cfg.BufferSize,
			StatePatcher:     ops.Patch,
			StateDecoder:     ops.DecodeStateJSON,
			StateDiffDecoder: ops.DecodeStateDiffJSON,
		},
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "url", cfg.StateStreamURL, "error", err)
		close()
	}

	watched := make([]common.Address, len(cfg.WatchProviders))
	for i, addr := range cfg.WatchProviders {
		watched[i] = common.HexToAddress(addr)
	}

	var received uint64
	for {
		select {
		case state := <-client.State():
			received++
			if cfg.LogEvery == 0 || received%cfg.LogEvery == 0 {
				logState(rootLogger, state, watched)
			}
		case err, ok := <-client.Err():
			if ok {
				rootLogger.Error("Fatal client error", "error", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// logState prints one line per pool of the mirrored state and one per
// position of each watched provider.
func logState(logger *slog.Logger, state *engine.State, watched []common.Address) {
	logger.Info("State mirrored", "sequence", state.Sequence, "pools", len(state.Pools))
	index := indexer.New().Index(state.Pools)
	for _, p := range index.All() {
		if !p.Initialized() {
			logger.Info("Pool", "id", p.ID, "status", "uninitialized")
			continue
		}
		logger.Info("Pool",
			"id", p.ID,
			"reserve_a", p.ReserveA.Dec(),
			"reserve_b", p.ReserveB.Dec(),
			"total_shares", p.TotalShares.Dec(),
			"providers", len(p.Positions),
		)
	}
	for _, provider := range watched {
		for _, pos := range index.PositionsOf(provider) {
			p, _ := index.GetByID(pos.PoolID)
			logger.Info("Position",
				"provider", provider.Hex(),
				"pool", pos.PoolID,
				"shares", pos.Shares.Dec(),
				"of_total", p.TotalShares.Dec(),
			)
		}
	}
}

func loadConfig() (*config.ClientConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
