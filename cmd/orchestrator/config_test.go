package main

import "testing"

func TestConfigValidateRejectsEmptyWorkloadAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkloadAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty workload address")
	}
}

func TestConfigValidateRejectsPartialTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSCertFile = "cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for partial tls configuration")
	}
}

func TestConfigValidateAcceptsFullTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLSCertFile = "cert.pem"
	cfg.TLSKeyFile = "key.pem"
	cfg.TLSCAFile = "ca.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}
