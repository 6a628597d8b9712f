package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/gc"
	"github.com/ioi-network/kernel/internal/nodestore"
	"github.com/ioi-network/kernel/internal/rpcboundary"
	"github.com/ioi-network/kernel/internal/service"
	"github.com/ioi-network/kernel/internal/signing"
	"github.com/ioi-network/kernel/internal/statemachine"
	"github.com/ioi-network/kernel/internal/statetree"
	"github.com/ioi-network/kernel/internal/txpool"
	"github.com/ioi-network/kernel/pkg/log"
	"github.com/ioi-network/kernel/pkg/metrics"
)

var nodeLog = log.Default().Module("workload")

// Node wires every internal package into one running process: the
// durable node store, the authenticated state tree, the parallel-ready
// state machine, the GC collector, the service directory, the pending
// transaction pool, and the RPC boundary that fronts all of it (spec §6,
// §4.6, §4.7). Grounded on the teacher's cmd/eth2030-geth/node.go
// makeFullNode, re-targeted from a go-ethereum stack + Engine API to this
// kernel's own stack + JSON-RPC boundary.
type Node struct {
	cfg Config

	store *nodestore.Store
	tree  *statetree.Tree
	sm    *statemachine.StateMachine
	gc    *gc.Collector
	pins  *gc.PinSet
	pool  *txpool.Pool
	dir   *service.Directory
	ups   *service.Upgrades

	server *rpcboundary.Server
	events *rpcboundary.EventHub

	sampler   *processSampler
	reqSink   *requestMetricsSink
	collector *metrics.MetricsCollector

	rpcSrv     *http.Server
	metricsSrv *http.Server

	gcCancel context.CancelFunc
}

// New constructs every subsystem but starts nothing.
func New(cfg *Config) (*Node, error) {
	store, err := nodestore.Open(nodestore.Config{
		Dir:        cfg.DataDir,
		EpochSize:  cfg.EpochSize,
		QueueDepth: cfg.QueueDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("open node store: %w", err)
	}

	tree, err := statetree.New(statetree.Config{EpochSize: cfg.EpochSize}, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create state tree: %w", err)
	}

	head, _, err := store.Head()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("read node store head: %w", err)
	}
	if root, rerr := store.RootForHeight(head); rerr == nil {
		tree.AdoptKnownRoot(head, root)
	}

	pins := gc.NewPinSet()
	dir := service.NewDirectory()
	ups := service.NewUpgrades(dir)
	pool := txpool.New(cfg.QueueDepth)
	accounts := executor.NewAccountView(nil)

	dispatch := &executor.DefaultDispatcher{}

	sm, err := statemachine.New(tree, store, statemachine.Config{
		EpochSize:         cfg.EpochSize,
		TargetGas:         cfg.TargetGas,
		MinIntervalMillis: cfg.MinIntervalMillis,
		MaxIntervalMillis: cfg.MaxIntervalMillis,
		RecentBlocksCap:   256,
		Pinner:            pins,
		Upgrades:          ups,
		EndOfBlock:        nil,
		WeightBasedConsensus: true,
		SignatureVerifier: executor.Ed25519Verifier{},
		Accounts:          accounts,
		Decorators:        dir.Decorators(),
		Dispatch:          dispatch,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create state machine: %w", err)
	}

	collector := gc.New(tree, store, pins, gc.Config{
		EpochSize:         cfg.EpochSize,
		KeepRecentHeights: cfg.KeepRecentHeights,
		MinFinalityDepth:  cfg.MinFinalityDepth,
		Interval:          time.Duration(cfg.GCIntervalSecs) * time.Second,
		JitterFraction:    0.1,
	})

	var oracle signing.Oracle
	if cfg.LocalSignerKeyPath != "" {
		keyBytes, rerr := os.ReadFile(cfg.LocalSignerKeyPath)
		if rerr != nil {
			store.Close()
			return nil, fmt.Errorf("read local signer key: %w", rerr)
		}
		signer, serr := signing.NewLocalSigner(keyBytes)
		if serr != nil {
			store.Close()
			return nil, fmt.Errorf("init local signer: %w", serr)
		}
		oracle = signer
	}

	events := rpcboundary.NewEventHub()

	chain := rpcboundary.NewChainControl(sm, store, nil, oracle, signing.VerifyLocalSignature, events)
	state := rpcboundary.NewStateQuery(tree, accounts, executor.Ed25519Verifier{})
	contract := rpcboundary.NewContractControl(pool, tree, dispatch.VM, executor.Ed25519Verifier{})
	staking := rpcboundary.NewStakingControl(sm, tree, signing.VerifyLocalSignature)
	system := rpcboundary.NewSystemControl(pins, collector, dir, ups)

	server := rpcboundary.NewServer(chain, state, contract, staking, system, events)

	sampler := newProcessSampler(store)
	metricsCollector := metrics.NewMetricsCollector(metrics.CollectorConfig{EnableHistograms: true})
	reqSink := newRequestMetricsSink(metricsCollector)

	return &Node{
		cfg:       *cfg,
		store:     store,
		tree:      tree,
		sm:        sm,
		gc:        collector,
		pins:      pins,
		pool:      pool,
		dir:       dir,
		ups:       ups,
		server:    server,
		events:    events,
		sampler:   sampler,
		reqSink:   reqSink,
		collector: metricsCollector,
	}, nil
}

// Start brings up the GC background loop, the RPC listener, and the
// metrics listener.
func (n *Node) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.gcCancel = cancel
	go n.gc.Run(ctx)
	n.sampler.Start()

	middlewares := []rpcboundary.Middleware{
		rpcboundary.CORSMiddleware(rpcboundary.DefaultCORSConfig()),
		rpcboundary.LoggingMiddleware(n.reqSink),
		rpcboundary.CompressionMiddleware(),
		rpcboundary.RateLimitMiddleware(n.cfg.RateLimitPerSecond),
	}
	if n.cfg.JWTSecret != "" {
		middlewares = append(middlewares, rpcboundary.AuthMiddleware(rpcboundary.AuthConfig{
			JWTSecret: []byte(n.cfg.JWTSecret),
		}))
	}

	mux := http.NewServeMux()
	mux.Handle("/", rpcboundary.Chain(n.server, middlewares...))
	mux.Handle("/events", n.events)

	n.rpcSrv = &http.Server{Addr: n.cfg.RPCAddr, Handler: mux}
	if n.cfg.TLSCertFile != "" {
		tlsCfg, err := rpcboundary.TLSConfig(n.cfg.TLSCertFile, n.cfg.TLSKeyFile, n.cfg.TLSCAFile)
		if err != nil {
			return fmt.Errorf("build tls config: %w", err)
		}
		n.rpcSrv.TLSConfig = tlsCfg
		go func() {
			if err := n.rpcSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				nodeLog.Error("rpc server exited", "err", err)
			}
		}()
	} else {
		go func() {
			if err := n.rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				nodeLog.Error("rpc server exited", "err", err)
			}
		}()
	}

	textConfig := metrics.DefaultPrometheusConfig()
	textConfig.Path = "/metrics/text"
	textConfig.Namespace = "kernel_workload"

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler(metrics.DefaultRegistry))
	metricsMux.Handle("/metrics/debug", n.debugMetricsHandler())
	metricsMux.Handle(textConfig.Path, metrics.NewPrometheusExporter(metrics.DefaultRegistry, textConfig).Handler())
	n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nodeLog.Error("metrics server exited", "err", err)
		}
	}()

	nodeLog.Info("workload started", "rpc_addr", n.cfg.RPCAddr, "metrics_addr", n.cfg.MetricsAddr)
	return nil
}

// Stop stops GC, closes the pending transaction pool to new submissions,
// and shuts down both HTTP listeners, then closes the node store.
func (n *Node) Stop() error {
	if n.gcCancel != nil {
		n.gcCancel()
	}
	n.sampler.Stop()
	n.pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n.rpcSrv != nil {
		if err := n.rpcSrv.Shutdown(ctx); err != nil {
			nodeLog.Warn("rpc server shutdown error", "err", err)
		}
	}
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			nodeLog.Warn("metrics server shutdown error", "err", err)
		}
	}
	return n.store.Close()
}
