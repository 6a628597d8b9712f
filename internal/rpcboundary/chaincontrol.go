package rpcboundary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ioi-network/kernel/internal/codec"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/shmem"
	"github.com/ioi-network/kernel/internal/signing"
	"github.com/ioi-network/kernel/internal/statemachine"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// blockSigningPreimageHash hashes codec.BlockSigningPreimage, the
// concrete (hash function, preimage) pairing internal/signing's
// Oracle-facing helpers are parameterized over (spec §6).
func blockSigningPreimageHash(h ktypes.BlockHeader) ktypes.Hash {
	return hashing.Sum256(codec.BlockSigningPreimage(h))
}

// BlocksReader is the subset of *nodestore.Store ChainControl needs for
// get_blocks_range and get_genesis_status, kept narrow so this package
// doesn't import internal/nodestore directly.
type BlocksReader interface {
	GetBlocksRange(start ktypes.Height, limit int, maxBytes int) ([]ktypes.KVPair, error)
	RootForHeight(h ktypes.Height) (ktypes.Hash, error)
}

// VerifyFunc checks a signature against a pubkey and message, the same
// shape internal/signing's verify helpers take (blst or otherwise;
// ChainControl doesn't care which suite produced it).
type VerifyFunc func(pubkey, msg, sig []byte) bool

// ChainControl implements spec §6's ChainControl surface: process_block,
// get_blocks_range, update_block_header, get_status, get_genesis_status.
type ChainControl struct {
	sm     *statemachine.StateMachine
	store  BlocksReader
	region *shmem.Region
	oracle signing.Oracle
	verify VerifyFunc

	preimageHash func(ktypes.BlockHeader) ktypes.Hash
	events       *EventHub
}

// NewChainControl returns a ChainControl driving sm/store. region may be
// nil (every payload then goes inline). oracle may be nil to skip
// producer signing (e.g. a read replica that only ever receives
// already-signed blocks via process_block).
func NewChainControl(sm *statemachine.StateMachine, store BlocksReader, region *shmem.Region, oracle signing.Oracle, verify VerifyFunc, events *EventHub) *ChainControl {
	return &ChainControl{
		sm:           sm,
		store:        store,
		region:       region,
		oracle:       oracle,
		verify:       verify,
		preimageHash: blockSigningPreimageHash,
		events:       events,
	}
}

type processBlockParams struct {
	Block  []byte        `json:"block,omitempty"`
	Handle *shmem.Handle `json:"handle,omitempty"`
}

type processBlockResult struct {
	Block  []byte        `json:"block,omitempty"`
	Handle *shmem.Handle `json:"handle,omitempty"`
	Events []string      `json:"events"`
}

// processBlock implements process_block(block_bytes | shmem_handle) ->
// (committed_block_bytes, events): decodes the proposed block, runs
// prepare_block then commit_block, has the signing oracle sign the
// finalized header, and returns the committed block plus a human-legible
// event summary (spec §6).
func (c *ChainControl) processBlock(params json.RawMessage) (interface{}, error) {
	var req processBlockParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode process_block params", err)
	}

	data, ok, err := shmem.ReadOrFallback(c.region, shmem.Payload{Inline: req.Block, Handle: req.Handle})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.New(kernelerr.KindChain, kernelerr.CodeExecutionClientError,
			"shared region mismatch; resend block inline")
	}

	block, err := codec.DecodeBlock(data)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindBlock, kernelerr.CodeInvalidBlock, "decode proposed block", err)
	}

	timer := metrics.NewTimer(metrics.BlockProcessTime)
	prepared, err := c.sm.PrepareBlock(block)
	if err != nil {
		timer.Stop()
		return nil, err
	}
	final, err := c.sm.CommitBlock(prepared)
	timer.Stop()
	if err != nil {
		return nil, err
	}
	metrics.BlocksCommitted.Inc()
	metrics.BlockGasUsed.Observe(float64(final.Header.GasUsed))

	if c.oracle != nil {
		signed, err := signing.SignBlockHeader(context.Background(), c.oracle, final.Header, c.preimageHash)
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.KindBlock, kernelerr.CodeHashComputation, "sign committed block header", err)
		}
		final.Header = signed
	}

	encoded := codec.EncodeBlock(final)
	out := shmem.WriteOrInline(c.region, encoded, shmem.DefaultInlineThreshold)

	events := buildBlockEvents(final)
	if c.events != nil {
		c.events.Broadcast("block_committed", map[string]interface{}{
			"height": final.Header.Height,
			"root":   final.Header.StateRoot,
			"events": events,
		})
	}

	return processBlockResult{Block: out.Inline, Handle: out.Handle, Events: events}, nil
}

// buildBlockEvents summarizes a just-committed block for process_block's
// events half of its return value (spec §6); a richer event taxonomy
// belongs to whichever registered service wants to publish one via
// internal/service, not to this boundary layer.
func buildBlockEvents(b ktypes.Block) []string {
	return []string{fmt.Sprintf("height_committed:%d", b.Header.Height), fmt.Sprintf("tx_count:%d", len(b.Txs))}
}

type getBlocksRangeParams struct {
	Since     uint64 `json:"since"`
	MaxBlocks int    `json:"max_blocks"`
	MaxBytes  int    `json:"max_bytes"`
}

type getBlocksRangeResult struct {
	Blocks [][]byte      `json:"blocks,omitempty"`
	Handle *shmem.Handle `json:"handle,omitempty"`
}

// getBlocksRange implements get_blocks_range(since, max_blocks,
// max_bytes) -> BlocksInline | BlocksShmemHandle (spec §6, §4.1's
// lexicographic-scan-with-gap-stop contract).
func (c *ChainControl) getBlocksRange(params json.RawMessage) (interface{}, error) {
	var req getBlocksRangeParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode get_blocks_range params", err)
	}
	pairs, err := c.store.GetBlocksRange(ktypes.Height(req.Since), req.MaxBlocks, req.MaxBytes)
	if err != nil {
		return nil, err
	}

	total := 0
	blocks := make([][]byte, len(pairs))
	for i, p := range pairs {
		blocks[i] = p.Value
		total += len(p.Value)
	}

	if total <= shmem.DefaultInlineThreshold || c.region == nil {
		return getBlocksRangeResult{Blocks: blocks}, nil
	}
	joined := make([]byte, 0, total)
	for _, b := range blocks {
		joined = append(joined, b...)
	}
	out := shmem.WriteOrInline(c.region, joined, 0)
	if out.Handle == nil {
		return getBlocksRangeResult{Blocks: blocks}, nil
	}
	return getBlocksRangeResult{Handle: out.Handle}, nil
}

type updateBlockHeaderParams struct {
	Header ktypes.BlockHeader `json:"header"`
}

type updateBlockHeaderResult struct {
	Valid bool `json:"valid"`
}

// updateBlockHeader implements update_block_header: verifies a header's
// oracle signature independently of the signing call that produced it
// (spec §6; see internal/signing.VerifyBlockHeaderSignature), for an
// Orchestrator that received a finalized header out of band and wants
// to confirm it before gossiping. It does not mutate committed state —
// commit_block already persisted the canonical header.
func (c *ChainControl) updateBlockHeader(params json.RawMessage) (interface{}, error) {
	var req updateBlockHeaderParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode update_block_header params", err)
	}
	if c.verify == nil {
		return nil, kernelerr.New(kernelerr.KindChain, kernelerr.CodeExecutionClientError, "no signature verifier configured")
	}
	valid := signing.VerifyBlockHeaderSignature(req.Header, req.Header.ProducerPubkey, c.preimageHash, c.verify)
	return updateBlockHeaderResult{Valid: valid}, nil
}

type statusResult struct {
	Height       ktypes.Height `json:"height"`
	Timestamp    uint64        `json:"timestamp"`
	TotalTx      uint64        `json:"total_tx"`
	RecentBlocks []ktypes.Hash `json:"recent_blocks"`
}

// getStatus implements get_status (spec §6).
func (c *ChainControl) getStatus(json.RawMessage) (interface{}, error) {
	st := c.sm.Status()
	return statusResult{
		Height:       st.Height,
		Timestamp:    st.Timestamp,
		TotalTx:      st.TotalTx,
		RecentBlocks: c.sm.RecentBlocks(),
	}, nil
}

type genesisStatusResult struct {
	Height ktypes.Height `json:"height"`
	Root   ktypes.Hash   `json:"root"`
}

// getGenesisStatus implements get_genesis_status (spec §6).
func (c *ChainControl) getGenesisStatus(json.RawMessage) (interface{}, error) {
	root, err := c.store.RootForHeight(0)
	if err != nil {
		return nil, err
	}
	return genesisStatusResult{Height: 0, Root: root}, nil
}
