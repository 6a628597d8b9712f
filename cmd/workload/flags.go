package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet to add uint64 support, same shim the
// teacher's cmd/eth2030/flags.go uses (Go's flag package has no native
// uint64 binding).
type flagSet struct {
	*flag.FlagSet
}

func newCustomFlagSet(name string) *flagSet {
	return &flagSet{FlagSet: flag.NewFlagSet(name, flag.ContinueOnError)}
}

func (fs *flagSet) Uint64Var(p *uint64, name string, value uint64, usage string) {
	fs.FlagSet.Var(&uint64Value{p: p}, name, usage)
	*p = value
}

type uint64Value struct{ p *uint64 }

func (v *uint64Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(*v.p, 10)
}

func (v *uint64Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 value %q", s)
	}
	*v.p = n
	return nil
}

func newFlagSet(cfg *Config) *flagSet {
	fs := newCustomFlagSet("workload")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.StringVar(&cfg.RPCAddr, "rpc.addr", cfg.RPCAddr, "RPC listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "metrics listen address")
	fs.Uint64Var(&cfg.EpochSize, "epoch.size", cfg.EpochSize, "heights per epoch")
	fs.IntVar(&cfg.QueueDepth, "queue.depth", cfg.QueueDepth, "async node-store write queue depth")
	fs.Uint64Var(&cfg.KeepRecentHeights, "gc.keep-recent", cfg.KeepRecentHeights, "heights retained regardless of finality")
	fs.Uint64Var(&cfg.MinFinalityDepth, "gc.min-finality-depth", cfg.MinFinalityDepth, "heights retained below this depth from head")
	fs.IntVar(&cfg.GCIntervalSecs, "gc.interval-secs", cfg.GCIntervalSecs, "nominal seconds between collection passes")
	fs.Uint64Var(&cfg.TargetGas, "timing.target-gas", cfg.TargetGas, "target gas per block for interval EMA")
	fs.Uint64Var(&cfg.MinIntervalMillis, "timing.min-interval-ms", cfg.MinIntervalMillis, "minimum block interval in milliseconds")
	fs.Uint64Var(&cfg.MaxIntervalMillis, "timing.max-interval-ms", cfg.MaxIntervalMillis, "maximum block interval in milliseconds")
	fs.StringVar(&cfg.LocalSignerKeyPath, "signer.local-key", cfg.LocalSignerKeyPath, "path to a raw BLS secret key scalar; empty disables signing")
	fs.StringVar(&cfg.TLSCertFile, "tls.cert", cfg.TLSCertFile, "mTLS server certificate path")
	fs.StringVar(&cfg.TLSKeyFile, "tls.key", cfg.TLSKeyFile, "mTLS server key path")
	fs.StringVar(&cfg.TLSCAFile, "tls.ca", cfg.TLSCAFile, "mTLS client CA path")
	fs.StringVar(&cfg.JWTSecret, "auth.jwt-secret", cfg.JWTSecret, "HS256 JWT secret for bearer auth; empty disables bearer auth")
	fs.IntVar(&cfg.RateLimitPerSecond, "rpc.rate-limit", cfg.RateLimitPerSecond, "requests per second per client IP")
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=silent, 1=error, 2=warn, 3=info, 4-5=debug)")
	fs.StringVar(&cfg.LogFormat, "log.format", cfg.LogFormat, "log render format: json, text, or color")
	return fs
}
