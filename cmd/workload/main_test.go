package main

import (
	"log/slog"
	"testing"
)

func TestVerbosityToLevel(t *testing.T) {
	cases := map[int]slog.Level{
		0: slog.LevelError + 4,
		1: slog.LevelError,
		2: slog.LevelWarn,
		3: slog.LevelInfo,
		4: slog.LevelDebug,
		5: slog.LevelDebug,
	}
	for v, want := range cases {
		if got := verbosityToLevel(v); got != want {
			t.Errorf("verbosityToLevel(%d) = %v, want %v", v, got, want)
		}
	}
}

func TestParseFlagsVersion(t *testing.T) {
	cfg, exit, code := parseFlags([]string{"--version"})
	if !exit || code != 0 {
		t.Fatalf("expected clean exit on --version, got exit=%v code=%d", exit, code)
	}
	_ = cfg
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg, exit, code := parseFlags([]string{"--rpc.addr", ":19999", "--epoch.size", "42"})
	if exit {
		t.Fatalf("unexpected exit, code=%d", code)
	}
	if cfg.RPCAddr != ":19999" {
		t.Fatalf("expected overridden rpc addr, got %q", cfg.RPCAddr)
	}
	if cfg.EpochSize != 42 {
		t.Fatalf("expected overridden epoch size, got %d", cfg.EpochSize)
	}
}
