package main

import (
	"fmt"

	"github.com/ioi-network/kernel/pkg/log"
)

// Config holds the orchestrator process's resolved configuration:
// where to find the Workload it drives, and how to pace block
// proposals. Adapted from the teacher's cmd/eth2030 node.Config shape.
type Config struct {
	WorkloadAddr string

	MetricsAddr string

	// ProposalIntervalMillis is the orchestrator's own fallback pacing
	// between process_block calls when it has no external consensus
	// round timer driving it (spec §2: consensus is external; this is
	// the minimal stand-in so the binary does something on its own).
	ProposalIntervalMillis uint64
	MaxTxsPerBlock         int

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	Verbosity int
	// LogFormat selects the renderer for stderr logging: "json" (default),
	// "text", or "color". See pkg/log.ParseFormat.
	LogFormat string
}

func DefaultConfig() Config {
	return Config{
		WorkloadAddr:           "http://127.0.0.1:7545",
		MetricsAddr:            ":7646",
		ProposalIntervalMillis: 1000,
		MaxTxsPerBlock:         500,
		Verbosity:              3,
		LogFormat:              "json",
	}
}

func (c *Config) Validate() error {
	if c.WorkloadAddr == "" {
		return fmt.Errorf("workload address must not be empty")
	}
	tlsFields := []string{c.TLSCertFile, c.TLSKeyFile, c.TLSCAFile}
	set := 0
	for _, f := range tlsFields {
		if f != "" {
			set++
		}
	}
	if set != 0 && set != len(tlsFields) {
		return fmt.Errorf("tls requires cert, key, and ca files together, or none of them")
	}
	if _, err := log.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}
