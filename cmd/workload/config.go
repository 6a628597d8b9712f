package main

import (
	"fmt"
	"os"

	"github.com/ioi-network/kernel/pkg/log"
)

// Config holds the workload process's resolved configuration,
// adapted from the teacher's cmd/eth2030 node.Config (datadir/port/
// syncmode flags) to this kernel's nodestore/statetree/RPC surfaces.
type Config struct {
	DataDir string

	RPCAddr     string
	MetricsAddr string

	EpochSize         uint64
	QueueDepth        int
	KeepRecentHeights uint64
	MinFinalityDepth  uint64
	GCIntervalSecs    int

	TargetGas         uint64
	MinIntervalMillis uint64
	MaxIntervalMillis uint64

	// LocalSignerKeyPath points at a raw 32-byte BLS secret scalar used
	// to build the dev-mode signing.LocalSigner. Empty disables block
	// signing (a read-only or follower deployment).
	LocalSignerKeyPath string

	// TLSCertFile/TLSKeyFile/TLSCAFile configure mTLS on the RPC
	// listener. All three empty disables TLS (plain HTTP, for local
	// development only).
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	JWTSecret string

	RateLimitPerSecond int
	Verbosity          int
	// LogFormat selects the renderer for stderr logging: "json" (default),
	// "text", or "color". See pkg/log.ParseFormat.
	LogFormat string
}

// DefaultConfig mirrors the teacher's node.DefaultConfig: sane values for
// a single-node development deployment.
func DefaultConfig() Config {
	return Config{
		DataDir:            "./data/workload",
		RPCAddr:            ":7545",
		MetricsAddr:        ":7546",
		EpochSize:          10_000,
		QueueDepth:         1024,
		KeepRecentHeights:  256,
		MinFinalityDepth:   32,
		GCIntervalSecs:     30,
		TargetGas:          15_000_000,
		MinIntervalMillis:  400,
		MaxIntervalMillis:  12_000,
		RateLimitPerSecond: 200,
		Verbosity:          3,
		LogFormat:          "json",
	}
}

// Validate rejects a Config that would otherwise fail deep inside
// subsystem construction with a less specific error.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if c.RPCAddr == "" {
		return fmt.Errorf("rpc address must not be empty")
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

// InitDataDir creates the data directory tree if it doesn't exist yet.
func (c *Config) InitDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}
