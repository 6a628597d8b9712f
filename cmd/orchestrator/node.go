package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/log"
	"github.com/ioi-network/kernel/pkg/metrics"
)

var nodeLog = log.Default().Module("orchestrator")

// statusResult mirrors rpcboundary's (unexported) get_status result
// shape closely enough to decode the fields the proposal loop needs.
type statusResult struct {
	Height       ktypes.Height `json:"Height"`
	Timestamp    uint64        `json:"Timestamp"`
	TotalTx      uint64        `json:"TotalTx"`
	RecentBlocks []ktypes.Hash `json:"RecentBlocks"`
}

// processBlockParams/processBlockResult mirror rpcboundary's process_block
// envelope; Orchestrator has no reason to import the internal package's
// unexported types, so it speaks the same wire shape directly.
type processBlockParams struct {
	Block []byte `json:"block,omitempty"`
}

type processBlockResult struct {
	Block  []byte   `json:"block,omitempty"`
	Events []string `json:"events"`
}

// Node is the Orchestrator process: a mempool, a Workload RPC client,
// and a proposal loop that periodically drains the mempool into a block
// and drives it through process_block (spec §2, §4.6: "Orchestrator ->
// prepare_block(block) -> Workload ... Orchestrator -> commit_block
// (prepared) -> Workload" -- collapsed, on this RPC boundary, into the
// single process_block call ChainControl exposes).
type Node struct {
	cfg Config

	mempool *Mempool
	client  *WorkloadClient
	sampler *processSampler

	metricsSrv *http.Server

	stop chan struct{}
	done chan struct{}
}

func New(cfg *Config) (*Node, error) {
	var tlsCfg *tls.Config
	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	}

	mempool := NewMempool()
	return &Node{
		cfg:     *cfg,
		mempool: mempool,
		client:  NewWorkloadClient(cfg.WorkloadAddr, tlsCfg, 30*time.Second),
		sampler: newProcessSampler(mempool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Submit feeds a transaction into the orchestrator's mempool; a network
// stack would call this on every gossiped transaction.
func (n *Node) Submit(tx ktypes.Transaction) {
	n.mempool.Submit(tx)
	metrics.MempoolSize.Set(int64(n.mempool.Len()))
}

func (n *Node) Start() error {
	textConfig := metrics.DefaultPrometheusConfig()
	textConfig.Path = "/metrics/text"
	textConfig.Namespace = "kernel_orchestrator"

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler(metrics.DefaultRegistry))
	metricsMux.Handle(textConfig.Path, metrics.NewPrometheusExporter(metrics.DefaultRegistry, textConfig).Handler())
	n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			nodeLog.Error("metrics server exited", "err", err)
		}
	}()

	n.sampler.Start()
	go n.proposalLoop()

	nodeLog.Info("orchestrator started", "workload_addr", n.cfg.WorkloadAddr, "metrics_addr", n.cfg.MetricsAddr)
	return nil
}

// proposalLoop periodically drains the mempool and drives a block
// through process_block. Consensus (leader election, round timing) is
// external per spec §1; this fixed-interval loop is the minimal stand-in
// that exercises the RPC boundary end to end.
func (n *Node) proposalLoop() {
	defer close(n.done)
	interval := time.Duration(n.cfg.ProposalIntervalMillis) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.proposeOnce()
		}
	}
}

func (n *Node) proposeOnce() {
	n.sampler.markProposal()

	var status statusResult
	if err := n.client.Call("get_status", nil, &status); err != nil {
		nodeLog.Warn("get_status failed", "err", err)
		return
	}

	txs := n.mempool.Drain(n.cfg.MaxTxsPerBlock)
	metrics.MempoolSize.Set(int64(n.mempool.Len()))

	block := ktypes.Block{
		Header: ktypes.BlockHeader{
			Height:    status.Height + 1,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
		Txs: txs,
	}

	encoded := codec.EncodeBlock(block)

	var result processBlockResult
	if err := n.client.Call("process_block", processBlockParams{Block: encoded}, &result); err != nil {
		nodeLog.Warn("process_block failed", "height", block.Header.Height, "err", err)
		return
	}
	metrics.ChainHeight.Set(int64(block.Header.Height))
	nodeLog.Info("block committed", "height", block.Header.Height, "events", result.Events)
}

func (n *Node) Stop() error {
	close(n.stop)
	<-n.done
	n.sampler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n.metricsSrv != nil {
		return n.metricsSrv.Shutdown(ctx)
	}
	return nil
}
