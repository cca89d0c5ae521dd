package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/defistate/defistate-amm-go/cmd/poold/config"
	"github.com/defistate/defistate-amm-go/journal"
	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/defistate/defistate-amm-go/protocols/poolregistry"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/server"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// daemon owns every long-lived component of poold.
type daemon struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	journal   *journal.Journal
	registry  *poolregistry.Registry
	server    *server.Server
	rpcServer *rpc.Server

	rpcListener     net.Listener
	metricsListener net.Listener
	gatherer        prometheus.Gatherer
}

func newDaemon(cfg *config.ServerConfig, logger *slog.Logger, reg *prometheus.Registry) (*daemon, error) {
	seed, err := calculator.SeedByName(cfg.ShareSeed)
	if err != nil {
		return nil, err
	}
	busy, err := pool.ParseBusyPolicy(cfg.BusyPolicy)
	if err != nil {
		return nil, err
	}
	metrics, err := pool.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("pool metrics: %w", err)
	}
	ops, err := stateops.NewStateOps(logger.With("component", "stateops"), reg)
	if err != nil {
		return nil, err
	}

	d := &daemon{cfg: cfg, logger: logger, gatherer: reg}
	d.journal, err = journal.Open(&journal.Config{
		Path:   cfg.JournalDir,
		Sync:   cfg.JournalSync,
		Logger: logger.With("component", "journal"),
	})
	if err != nil {
		return nil, err
	}

	// the server is built after the registry, so the publisher resolves it lazily
	publisher := pool.PublisherFunc(func(ctx context.Context, ev pool.Event) error {
		return d.server.Publish(ctx, ev)
	})
	d.registry, err = poolregistry.New(&poolregistry.Config{
		FeeBps:     cfg.FeeBps,
		Seed:       seed,
		BusyPolicy: busy,
		Publisher:  withTimeout(publisher, cfg.PublishTimeout),
		Journal:    d.journal,
		Metrics:    metrics,
		Logger:     logger.With("component", "pool"),
	})
	if err != nil {
		d.journal.Close()
		return nil, err
	}
	if err := d.restore(); err != nil {
		d.journal.Close()
		return nil, err
	}

	d.server, err = server.New(&server.Config{
		Registry:     d.registry,
		Differ:       ops,
		Events:       d.journal,
		Registerer:   reg,
		Logger:       logger.With("component", "jsonrpc-server"),
		BufferSize:   cfg.StreamBufferSize,
		RateDecimals: cfg.RateDecimals,
	})
	if err != nil {
		d.journal.Close()
		return nil, err
	}
	d.rpcServer = rpc.NewServer()
	if err := d.server.Register(d.rpcServer); err != nil {
		d.journal.Close()
		return nil, err
	}
	return d, nil
}

// restore registers every configured or journaled pool and replays the
// journaled ones back to their last committed state.
func (d *daemon) restore() error {
	journaled, err := d.journal.PoolIDs()
	if err != nil {
		return err
	}
	ids := slices.Concat(journaled, d.cfg.Pools)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	for _, id := range ids {
		p, err := d.registry.Create(id)
		if err != nil {
			return err
		}
		if !slices.Contains(journaled, id) {
			continue
		}
		snap, sequence, err := d.journal.Replay(id, d.cfg.FeeBps)
		var gap *journal.GapError
		if errors.As(err, &gap) {
			// keep the contiguous prefix and set the rest aside for reconciliation
			moved, qerr := d.journal.Quarantine(id, gap.Next)
			if qerr != nil {
				return fmt.Errorf("quarantine pool %d: %w", id, qerr)
			}
			d.logger.Error("journal gap, restored up to the gap", "pool", id,
				"sequence", gap.After, "next", gap.Next, "quarantined", moved)
			err = nil
		}
		if err != nil {
			return fmt.Errorf("replay pool %d: %w", id, err)
		}
		if err := p.Restore(snap, sequence); err != nil {
			return fmt.Errorf("restore pool %d: %w", id, err)
		}
	}
	d.logger.Info("pools restored", "pools", len(ids), "journaled", len(journaled))
	return nil
}

// listen binds the rpc and metrics sockets. An empty metrics address
// disables the metrics endpoint.
func (d *daemon) listen() error {
	var err error
	d.rpcListener, err = net.Listen("tcp", d.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen rpc: %w", err)
	}
	if d.cfg.MetricsAddr == "" {
		return nil
	}
	d.metricsListener, err = net.Listen("tcp", d.cfg.MetricsAddr)
	if err != nil {
		d.rpcListener.Close()
		return fmt.Errorf("listen metrics: %w", err)
	}
	return nil
}

// rpcHandler serves JSON-RPC over HTTP POST and websocket upgrades on the
// same address.
func (d *daemon) rpcHandler() http.Handler {
	ws := d.rpcServer.WebsocketHandler(d.cfg.CORSOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			ws.ServeHTTP(w, r)
			return
		}
		d.rpcServer.ServeHTTP(w, r)
	})
}

// serve runs until ctx ends or a server fails, then shuts everything down.
func (d *daemon) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	servers := []*http.Server{{Handler: d.rpcHandler()}}
	listeners := []net.Listener{d.rpcListener}
	if d.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{Handler: mux})
		listeners = append(listeners, d.metricsListener)
	}

	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error {
			d.logger.Info("http server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.rpcServer.Stop()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	for _, p := range d.registry.All() {
		if ferr := p.FlushJournal(context.Background()); ferr != nil {
			d.logger.Error("events lost at shutdown", "pool", p.ID(), "unwritten", p.Unjournaled(), "error", ferr)
			err = errors.Join(err, ferr)
		}
	}
	if cerr := d.journal.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// rpcURL is the http address clients dial.
func (d *daemon) rpcURL() string {
	return "http://" + d.rpcListener.Addr().String()
}

func withTimeout(p pool.Publisher, timeout time.Duration) pool.Publisher {
	return pool.PublisherFunc(func(ctx context.Context, ev pool.Event) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Publish(ctx, ev)
	})
}
