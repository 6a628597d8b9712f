// Command orchestrator runs the thin network-facing process that drives a
// Workload: it accepts transactions into a mempool, paces block proposals,
// and drives them through the Workload's process_block RPC (spec §2:
// "Orchestrator accepts transactions from the network, maintains a mempool
// (external), runs consensus (external), and drives block proposal/commit
// through the Workload."). Networking and consensus themselves are out of
// this kernel's scope; this binary is the minimal client that exercises
// the RPC boundary on a fixed interval.
//
// Usage:
//
//	orchestrator [flags]
//
// Flags:
//
//	--workload.addr         Workload RPC base URL (default: http://127.0.0.1:7545)
//	--metrics.addr          Metrics listen address (default: :7646)
//	--proposal.interval-ms  Fallback pacing between proposals (default: 1000)
//	--proposal.max-txs      Max transactions drained from the mempool per proposal (default: 500)
//	--tls.cert/.key/.ca     mTLS client material trusting the Workload
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
	nodeLog.Info("orchestrator starting", "version", version, "workload_addr", cfg.WorkloadAddr)

	if err := cfg.Validate(); err != nil {
		nodeLog.Error("invalid configuration", "err", err)
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
		fmt.Printf("orchestrator %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}
	return cfg, false, 0
}

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4
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
