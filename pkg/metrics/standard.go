package metrics

// Pre-defined metrics for the kernel workload and orchestrator processes.
// All metrics live in DefaultRegistry so they are globally accessible
// without passing a registry around.

var (
	// ---- State tree / chain metrics ----

	// ChainHeight tracks the committed height.
	ChainHeight = DefaultRegistry.Gauge("chain.height")
	// BlockProcessTime records prepare+commit duration in milliseconds.
	BlockProcessTime = DefaultRegistry.Histogram("chain.block_process_ms")
	// BlocksCommitted counts blocks successfully committed.
	BlocksCommitted = DefaultRegistry.Counter("chain.blocks_committed")
	// BlockGasUsed records gas used per committed block.
	BlockGasUsed = DefaultRegistry.Histogram("chain.block_gas_used")

	// ---- Node store / storage metrics ----

	// StorageDiskUsageBytes tracks on-disk size of the node store.
	StorageDiskUsageBytes = DefaultRegistry.Gauge("storage.disk_usage_bytes")
	// StorageEpochsDroppedTotal counts epochs bulk-deleted by GC.
	StorageEpochsDroppedTotal = DefaultRegistry.Counter("storage.epochs_dropped_total")
	// StorageWALAppends counts WAL records appended.
	StorageWALAppends = DefaultRegistry.Counter("storage.wal_appends_total")
	// StorageQueueDepth tracks the async writer queue depth.
	StorageQueueDepth = DefaultRegistry.Gauge("storage.writer_queue_depth")
	// StoragePrunedVersions counts versions removed by prune_batch.
	StoragePrunedVersions = DefaultRegistry.Counter("storage.pruned_versions_total")
	// StorageWriteErrors counts async table writes that failed after the
	// WAL append already succeeded (crash-recoverable, but worth alerting on).
	StorageWriteErrors = DefaultRegistry.Counter("storage.write_errors_total")

	// ---- Networking (external collaborator surface) ----

	// NetworkingConnectedPeers tracks peers reported by the gossip layer.
	NetworkingConnectedPeers = DefaultRegistry.Gauge("networking.connected_peers")

	// ---- Mempool (external collaborator surface) ----

	// MempoolSize tracks the number of transactions awaiting inclusion.
	MempoolSize = DefaultRegistry.Gauge("mempool.size")

	// ---- RPC boundary metrics ----

	// RPCRequestsTotal counts Orchestrator<->Workload RPC requests.
	RPCRequestsTotal = DefaultRegistry.Counter("rpc.requests_total")
	// RPCErrorsTotal counts RPC requests that returned an error.
	RPCErrorsTotal = DefaultRegistry.Counter("rpc.errors_total")
	// RPCLatency records RPC request latency in milliseconds.
	RPCLatency = DefaultRegistry.Histogram("rpc.latency_ms")

	// ---- Executor / MVCC metrics ----

	// ExecutorAbortsTotal counts MVCC validation aborts.
	ExecutorAbortsTotal = DefaultRegistry.Counter("executor.aborts_total")
	// ExecutorReExecutionsTotal counts transaction re-executions.
	ExecutorReExecutionsTotal = DefaultRegistry.Counter("executor.reexecutions_total")
	// ExecutorTxsProcessed counts transactions that reached a final outcome.
	ExecutorTxsProcessed = DefaultRegistry.Counter("executor.txs_processed_total")

	// ---- Signing oracle metrics ----

	// SigningOracleSignsTotal counts signatures issued by the oracle.
	SigningOracleSignsTotal = DefaultRegistry.Counter("signing.signs_total")
	// SigningOracleEquivocationsTotal counts detected counter reuse.
	SigningOracleEquivocationsTotal = DefaultRegistry.Counter("signing.equivocations_total")

	// ---- Shared-memory data plane metrics ----

	// ShmemWritesTotal counts payloads written into a shared region.
	ShmemWritesTotal = DefaultRegistry.Counter("shmem.writes_total")
	// ShmemFallbackInlineTotal counts payloads sent inline because no
	// region had room, or because the peer's attached region_id did not
	// match.
	ShmemFallbackInlineTotal = DefaultRegistry.Counter("shmem.fallback_inline_total")
	// ShmemRegionBytesUsed tracks bytes currently written in the active
	// region (reset when the region's cursor rewinds).
	ShmemRegionBytesUsed = DefaultRegistry.Gauge("shmem.region_bytes_used")

	// ---- Process / runtime metrics (sampled by SystemMetrics/CPUTracker) ----

	// RuntimeGoroutines tracks the live goroutine count.
	RuntimeGoroutines = DefaultRegistry.Gauge("runtime.goroutines")
	// RuntimeHeapAllocBytes tracks allocated heap bytes.
	RuntimeHeapAllocBytes = DefaultRegistry.Gauge("runtime.heap_alloc_bytes")
	// ProcessCPUPercent tracks process CPU utilization sampled from /proc.
	ProcessCPUPercent = DefaultRegistry.Gauge("process.cpu_percent")
)
