package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ioi-network/kernel/internal/nodestore"
	"github.com/ioi-network/kernel/internal/rpcboundary"
	"github.com/ioi-network/kernel/pkg/log"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// processSampler periodically refreshes the node store's own gauges and
// samples process-level runtime/CPU metrics, pushing both into
// DefaultRegistry and into a MetricsReporter that logs a snapshot every
// interval. Grounded on the teacher's pkg/metrics SystemMetrics/
// CPUTracker/MetricsReporter trio; the chain-level callbacks are wired to
// this kernel's node store instead of the teacher's go-ethereum peer/sync
// state.
type processSampler struct {
	store *nodestore.Store

	sys      *metrics.SystemMetrics
	cpu      *metrics.CPUTracker
	reporter *metrics.MetricsReporter

	cancel context.CancelFunc
}

func newProcessSampler(store *nodestore.Store) *processSampler {
	sys := metrics.NewSystemMetrics()
	sys.SetDiskUsageFunc(func(path string) metrics.DiskStats {
		return metrics.DiskStats{Used: store.DiskUsageBytes()}
	})
	sys.SetBlockHeightFunc(func() uint64 {
		height, _, err := store.Head()
		if err != nil {
			return 0
		}
		return uint64(height)
	})
	// Peer count and chain sync progress belong to the networking/
	// consensus layer, which spec.md places outside this kernel; those
	// callbacks are left at their no-op defaults.

	reporter := metrics.NewMetricsReporter(10 * time.Second)
	reporter.RegisterBackend("log", logReportBackend{log: nodeLog})

	return &processSampler{
		store:    store,
		sys:      sys,
		cpu:      metrics.NewCPUTracker(),
		reporter: reporter,
	}
}

func (p *processSampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.reporter.Start()
	go p.loop(ctx)
}

func (p *processSampler) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.reporter.Stop()
}

func (p *processSampler) loop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sampleOnce()
		}
	}
}

func (p *processSampler) sampleOnce() {
	p.store.RefreshMetrics()

	p.sys.Collect()
	p.cpu.RecordCPU()

	metrics.RuntimeGoroutines.Set(int64(p.sys.GoRoutineCount()))
	metrics.RuntimeHeapAllocBytes.Set(int64(p.sys.MemoryUsage().HeapAlloc))
	metrics.ProcessCPUPercent.Set(int64(p.cpu.Usage()))

	p.reporter.RecordMetric("runtime.goroutines", float64(p.sys.GoRoutineCount()))
	p.reporter.RecordMetric("runtime.heap_alloc_bytes", float64(p.sys.MemoryUsage().HeapAlloc))
	p.reporter.RecordMetric("process.cpu_percent", p.cpu.Usage())
	p.reporter.RecordMetric("storage.disk_usage_bytes", float64(p.store.DiskUsageBytes()))
}

// logReportBackend adapts pkg/log.Logger to pkg/metrics.ReportBackend,
// replacing the teacher's unused push-gateway/StatsD backend slot with
// the one this kernel actually has: its own structured logger.
type logReportBackend struct {
	log *log.Logger
}

func (b logReportBackend) Report(snapshot map[string]float64) error {
	b.log.Debug("metrics snapshot", "values", snapshot)
	return nil
}

// requestMetricsSink fans every completed RPC request into the structured
// logger and into a tagged MetricsCollector, and tracks the overall
// request rate with a Meter (teacher's pkg/metrics Meter/EWMA, unused by
// the teacher's own pkg/rpc middleware, wired here instead).
type requestMetricsSink struct {
	delegate  rpcboundary.LogSink
	collector *metrics.MetricsCollector
	rate      *metrics.Meter
}

func newRequestMetricsSink(collector *metrics.MetricsCollector) *requestMetricsSink {
	return &requestMetricsSink{
		delegate:  rpcboundary.DefaultLogSink(),
		collector: collector,
		rate:      metrics.NewMeter(),
	}
}

func (s *requestMetricsSink) Log(e rpcboundary.LogEntry) {
	s.delegate.Log(e)
	s.rate.Mark(1)
	s.collector.RecordHistogram("rpc.request_duration_ms", float64(e.Duration.Milliseconds()))
	s.collector.Record("rpc.request.by_path", float64(e.Duration.Milliseconds()), map[string]string{
		"path":   e.Path,
		"status": strconv.Itoa(e.StatusCode),
	})
}

func (s *requestMetricsSink) RequestRate1m() float64 { return s.rate.Rate1() }

type debugMetricsSnapshot struct {
	System           json.RawMessage    `json:"system"`
	RPCRequestRate1m float64            `json:"rpc_request_rate_1m"`
	CollectorSummary map[string]float64 `json:"collector_summary"`
	RequestP99Ms     float64            `json:"rpc_request_duration_p99_ms"`
}

// debugMetricsHandler serves a richer, human-oriented JSON view alongside
// the Prometheus /metrics endpoint: runtime stats from SystemMetrics, the
// RPC request rate from the Meter, and tagged request metrics from the
// MetricsCollector.
func (n *Node) debugMetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sysJSON, err := n.sampler.sys.ExportJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snapshot := debugMetricsSnapshot{
			System:           sysJSON,
			RPCRequestRate1m: n.reqSink.RequestRate1m(),
			CollectorSummary: n.collector.Summary(),
			RequestP99Ms:     n.collector.HistogramPercentile("rpc.request_duration_ms", 99),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
	})
}
