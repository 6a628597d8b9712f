package main

import (
	"context"
	"time"

	"github.com/ioi-network/kernel/pkg/log"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// processSampler samples process-level runtime/CPU metrics and the
// proposal rate, the orchestrator-side counterpart to cmd/workload's
// sampler. Grounded on the same teacher pkg/metrics SystemMetrics/
// CPUTracker/Meter/MetricsReporter trio; here SystemMetrics' chain-level
// callbacks are left at their no-op defaults since the Orchestrator holds
// no state of its own (spec §2) and its BlockHeightFunc would just
// duplicate what get_status already reports from the Workload.
type processSampler struct {
	sys          *metrics.SystemMetrics
	cpu          *metrics.CPUTracker
	proposalRate *metrics.Meter
	reporter     *metrics.MetricsReporter

	mempool *Mempool

	cancel context.CancelFunc
}

func newProcessSampler(mempool *Mempool) *processSampler {
	reporter := metrics.NewMetricsReporter(10 * time.Second)
	reporter.RegisterBackend("log", logReportBackend{log: nodeLog})

	return &processSampler{
		sys:          metrics.NewSystemMetrics(),
		cpu:          metrics.NewCPUTracker(),
		proposalRate: metrics.NewMeter(),
		reporter:     reporter,
		mempool:      mempool,
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

// markProposal marks one proposal attempt for the rolling proposal-rate
// meter; called once per proposeOnce invocation.
func (p *processSampler) markProposal() {
	p.proposalRate.Mark(1)
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
	p.sys.Collect()
	p.cpu.RecordCPU()

	metrics.RuntimeGoroutines.Set(int64(p.sys.GoRoutineCount()))
	metrics.RuntimeHeapAllocBytes.Set(int64(p.sys.MemoryUsage().HeapAlloc))
	metrics.ProcessCPUPercent.Set(int64(p.cpu.Usage()))
	metrics.MempoolSize.Set(int64(p.mempool.Len()))

	p.reporter.RecordMetric("runtime.goroutines", float64(p.sys.GoRoutineCount()))
	p.reporter.RecordMetric("runtime.heap_alloc_bytes", float64(p.sys.MemoryUsage().HeapAlloc))
	p.reporter.RecordMetric("process.cpu_percent", p.cpu.Usage())
	p.reporter.RecordMetric("proposal.rate_1m", p.proposalRate.Rate1())
	p.reporter.RecordMetric("mempool.size", float64(p.mempool.Len()))
}

// logReportBackend adapts pkg/log.Logger to pkg/metrics.ReportBackend.
type logReportBackend struct {
	log *log.Logger
}

func (b logReportBackend) Report(snapshot map[string]float64) error {
	b.log.Debug("metrics snapshot", "values", snapshot)
	return nil
}
