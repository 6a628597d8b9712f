package main

import (
	"testing"
	"time"

	"github.com/ioi-network/kernel/internal/nodestore"
	"github.com/ioi-network/kernel/internal/rpcboundary"
	"github.com/ioi-network/kernel/pkg/metrics"
)

func newTestStore(t *testing.T) *nodestore.Store {
	t.Helper()
	store, err := nodestore.Open(nodestore.Config{Dir: t.TempDir(), EpochSize: 10})
	if err != nil {
		t.Fatalf("open node store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestProcessSamplerSampleOnceUpdatesGauges(t *testing.T) {
	store := newTestStore(t)
	p := newProcessSampler(store)

	p.sampleOnce()

	if metrics.RuntimeGoroutines.Value() <= 0 {
		t.Fatalf("expected RuntimeGoroutines > 0, got %d", metrics.RuntimeGoroutines.Value())
	}
	if metrics.RuntimeHeapAllocBytes.Value() <= 0 {
		t.Fatalf("expected RuntimeHeapAllocBytes > 0, got %d", metrics.RuntimeHeapAllocBytes.Value())
	}
}

func TestProcessSamplerDiskUsageFunc(t *testing.T) {
	store := newTestStore(t)
	p := newProcessSampler(store)

	got := p.sys.DiskUsage("")
	want := store.DiskUsageBytes()
	if got.Used != want {
		t.Fatalf("DiskUsage().Used = %d, want %d (store.DiskUsageBytes)", got.Used, want)
	}
}

func TestProcessSamplerBlockHeightFunc(t *testing.T) {
	store := newTestStore(t)
	p := newProcessSampler(store)

	height, _, err := store.Head()
	if err != nil {
		t.Fatalf("store.Head: %v", err)
	}
	if got := p.sys.BlockHeight(); got != uint64(height) {
		t.Fatalf("BlockHeight() = %d, want %d", got, uint64(height))
	}
}

func TestProcessSamplerStartStopIsClean(t *testing.T) {
	store := newTestStore(t)
	p := newProcessSampler(store)

	p.Start()
	time.Sleep(5 * time.Millisecond)
	p.Stop()
}

func TestRequestMetricsSinkTracksRateAndHistogram(t *testing.T) {
	collector := metrics.NewMetricsCollector(metrics.CollectorConfig{EnableHistograms: true})
	sink := newRequestMetricsSink(collector)

	sink.Log(rpcboundary.LogEntry{Method: "POST", Path: "/", StatusCode: 200, Duration: 5 * time.Millisecond})
	sink.Log(rpcboundary.LogEntry{Method: "POST", Path: "/", StatusCode: 500, Duration: 10 * time.Millisecond})

	if got := sink.rate.Count(); got != 2 {
		t.Fatalf("expected rate meter to have counted 2 marks, got %d", got)
	}
	if got := collector.HistogramPercentile("rpc.request_duration_ms", 99); got <= 0 {
		t.Fatalf("expected positive p99 latency, got %v", got)
	}
}
