package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet to add uint64 support, same shim the
// teacher's cmd/eth2030/flags.go uses.
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
	fs := newCustomFlagSet("orchestrator")
	fs.StringVar(&cfg.WorkloadAddr, "workload.addr", cfg.WorkloadAddr, "Workload RPC base URL")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "metrics listen address")
	fs.Uint64Var(&cfg.ProposalIntervalMillis, "proposal.interval-ms", cfg.ProposalIntervalMillis, "fallback pacing between proposals")
	fs.IntVar(&cfg.MaxTxsPerBlock, "proposal.max-txs", cfg.MaxTxsPerBlock, "maximum transactions drained from the mempool per proposal")
	fs.StringVar(&cfg.TLSCertFile, "tls.cert", cfg.TLSCertFile, "mTLS client certificate path")
	fs.StringVar(&cfg.TLSKeyFile, "tls.key", cfg.TLSKeyFile, "mTLS client key path")
	fs.StringVar(&cfg.TLSCAFile, "tls.ca", cfg.TLSCAFile, "mTLS CA bundle path trusting the Workload's server certificate")
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=silent, 1=error, 2=warn, 3=info, 4-5=debug)")
	fs.StringVar(&cfg.LogFormat, "log.format", cfg.LogFormat, "log render format: json, text, or color")
	return fs
}
