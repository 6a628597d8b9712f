// Command workload runs the sovereign kernel's state-owning process: the
// durable node store, the authenticated state tree, the state machine's
// prepare/commit pipeline, GC, and the RPC boundary an Orchestrator
// process drives over mTLS (spec §2: "Workload owns the state tree, the
// executor, the node store, and the service-effect machine. It is the
// single-writer of authenticated state.").
//
// Usage:
//
//	workload [flags]
//
// Flags:
//
//	--datadir               Data directory path (default: ./data/workload)
//	--rpc.addr              RPC listen address (default: :7545)
//	--metrics.addr          Metrics listen address (default: :7546)
//	--epoch.size            Heights per epoch (default: 10000)
//	--gc.keep-recent        Heights retained regardless of finality (default: 256)
//	--gc.min-finality-depth Heights retained below this depth from head (default: 32)
//	--signer.local-key      Path to a raw BLS secret key scalar
//	--tls.cert/.key/.ca     mTLS listener material
//	--auth.jwt-secret       HS256 JWT secret for bearer auth
//	--verbosity             Log level 0-5 (default: 3)
//	--log.format            Log render format: json, text, or color (default: json)
//	--version               Print version and exit
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ioi-network/kernel/pkg/log"
)

var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	log.SetDefault(log.NewWithFormat(verbosityToLevel(cfg.Verbosity), os.Stderr, cfg.LogFormat))
	nodeLog.Info("workload starting", "version", version, "datadir", cfg.DataDir, "rpc_addr", cfg.RPCAddr)

	if err := cfg.Validate(); err != nil {
		nodeLog.Error("invalid configuration", "err", err)
		return 1
	}
	if err := cfg.InitDataDir(); err != nil {
		nodeLog.Error("failed to initialize datadir", "err", err)
		return 1
	}

	n, err := New(&cfg)
	if err != nil {
		nodeLog.Error("failed to create node", "err", err)
		return 1
	}

	if err := n.Start(); err != nil {
		nodeLog.Error("failed to start node", "err", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	nodeLog.Info("received signal, shutting down", "signal", sig.String())

	if err := n.Stop(); err != nil {
		nodeLog.Error("error during shutdown", "err", err)
		return 1
	}
	nodeLog.Info("shutdown complete")
	return 0
}

func parseFlags(args []string) (Config, bool, int) {
	cfg := DefaultConfig()
	fs := newFlagSet(&cfg)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}
	if *showVersion {
		fmt.Printf("workload %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}
	return cfg, false, 0
}

// verbosityToLevel maps the teacher's 0-5 verbosity scale onto slog's
// level set, same convention as node.VerbosityToLogLevel.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4 // effectively silent
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
