// Package gc implements spec §4.7's periodic garbage collector: a
// background task that computes a retention cutoff from the committed
// head and the pin set, then prunes both the in-memory state tree's
// version bookkeeping and the durable node store, occasionally sealing
// and bulk-dropping epochs that have fallen entirely below the cutoff.
// Grounded on the teacher's core/rawdb/history.go (PruneHistory's
// cutoff/retention/sequential-scan pattern, re-targeted from block-body
// pruning to tree-version pruning) and node/health_checker.go (a
// registered background task run on its own lifecycle).
package gc

import (
	"context"
	"math/rand"
	"time"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/log"
)

var gcLog = log.Default().Module("gc")

// TreePruner is the subset of *statetree.Tree the collector needs.
type TreePruner interface {
	Prune(h ktypes.Height) (root ktypes.Hash, refcount int, unreferenced bool)
}

// NodeStore is the subset of *nodestore.Store the collector needs.
type NodeStore interface {
	Head() (ktypes.Height, ktypes.Epoch, error)
	PruneBatch(cutoffHeight ktypes.Height, excludedHeights map[ktypes.Height]bool, limit int) (int, error)
	EpochSealed(e ktypes.Epoch) (bool, error)
	SealEpoch(e ktypes.Epoch) error
	DropSealedEpoch(e ktypes.Epoch) error
}

// Config parameterizes the collector (spec §4.7).
type Config struct {
	EpochSize uint64 // 0 means single epoch: epoch dropping never triggers.

	// KeepRecentHeights and MinFinalityDepth are both retention windows
	// below head (spec §3: "within min_finality_depth of head" and
	// "height > committed_head - keep_recent_heights" are both retention
	// conditions); the prune cutoff subtracts the larger of the two from
	// head.
	KeepRecentHeights uint64
	MinFinalityDepth  uint64

	// Interval is the nominal period between collection passes; each
	// actual wait is jittered by up to JitterFraction of Interval (spec:
	// "every gc_interval_secs (with jitter)").
	Interval      time.Duration
	JitterFraction float64

	// Limit bounds work done per pass, matching prune_batch's own limit
	// parameter (spec §4.1).
	Limit int
}

// Collector drives the periodic prune/drop cycle over one tree and node
// store pair.
type Collector struct {
	tree  TreePruner
	store NodeStore
	pins  *PinSet
	cfg   Config

	prunedUpTo  ktypes.Height
	droppedUpTo ktypes.Epoch
	rng         *rand.Rand
}

// New returns a Collector. pins may be shared with the state machine
// wired as its Pinner.
func New(tree TreePruner, store NodeStore, pins *PinSet, cfg Config) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10_000
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	return &Collector{
		tree:  tree,
		store: store,
		pins:  pins,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run loops until ctx is cancelled, sleeping a jittered Interval between
// passes. A single pass's error is logged and does not stop the loop:
// GC is best-effort background maintenance, never load-bearing for
// correctness (spec §4.7: pinned and recent heights stay queryable
// regardless of how far behind collection has fallen).
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.jitteredInterval()):
			if err := c.RunOnce(); err != nil {
				gcLog.Error("gc pass failed", "error", err)
			}
		}
	}
}

func (c *Collector) jitteredInterval() time.Duration {
	base := c.cfg.Interval
	spread := time.Duration(float64(base) * c.cfg.JitterFraction)
	if spread <= 0 {
		return base
	}
	offset := time.Duration(c.rng.Int63n(int64(2*spread))) - spread
	next := base + offset
	if next < 0 {
		return 0
	}
	return next
}

// RunOnce executes one collection pass: compute the cutoff, prune the
// tree's version bookkeeping and the node store up to it, then seal and
// drop any epoch that has fallen entirely below the cutoff (spec §4.7).
func (c *Collector) RunOnce() error {
	head, _, err := c.store.Head()
	if err != nil {
		return err
	}
	cutoff := pruneCutoff(head, c.cfg.KeepRecentHeights, c.cfg.MinFinalityDepth)
	excludes := c.pins.Snapshot()

	c.pruneTree(cutoff, excludes)

	removed, err := c.store.PruneBatch(cutoff, excludes, c.cfg.Limit)
	if err != nil {
		return err
	}
	if removed > 0 {
		gcLog.Info("pruned versions", "count", removed, "cutoff", cutoff)
	}

	return c.dropEligibleEpochs(cutoff, excludes)
}

// pruneCutoff implements spec §3's retention clause: a root is retained
// iff its height is pinned, within keep_recent_heights of head, or
// within min_finality_depth of head; cutoff is the first height outside
// all three.
func pruneCutoff(head ktypes.Height, keepRecent, minFinality uint64) ktypes.Height {
	guard := keepRecent
	if minFinality > guard {
		guard = minFinality
	}
	if uint64(head) < guard {
		return 0
	}
	return ktypes.Height(uint64(head) - guard)
}

// pruneTree walks sequentially from the last height this collector
// pruned up to cutoff, releasing the tree's in-memory version/refcount
// bookkeeping for each unpinned height, bounded by Limit per pass.
// Grounded directly on PruneHistory's "for num := currentOldest; num <
// threshold; num++" sequential scan, re-targeted from a key-range
// delete to a per-height refcount decrement.
func (c *Collector) pruneTree(cutoff ktypes.Height, excludes map[ktypes.Height]bool) {
	processed := 0
	for h := c.prunedUpTo; h < cutoff && processed < c.cfg.Limit; h++ {
		if !excludes[h] {
			c.tree.Prune(h)
		}
		processed++
	}
	if cutoff > c.prunedUpTo {
		c.prunedUpTo = cutoff
	}
}

// dropEligibleEpochs seals and bulk-drops every epoch that lies
// entirely below cutoff and contains no pinned height, picking up from
// the last epoch this collector dropped (spec §4.1 drop_sealed_epoch:
// "caller is responsible for verifying no pinned height lies in the
// epoch's height range").
func (c *Collector) dropEligibleEpochs(cutoff ktypes.Height, excludes map[ktypes.Height]bool) error {
	if c.cfg.EpochSize == 0 {
		return nil
	}
	for {
		e := c.droppedUpTo
		start := ktypes.Height(uint64(e) * c.cfg.EpochSize)
		end := ktypes.Height((uint64(e) + 1) * c.cfg.EpochSize) // exclusive
		if end > cutoff {
			return nil
		}
		if epochContainsPinned(start, end, excludes) {
			return nil
		}
		sealed, err := c.store.EpochSealed(e)
		if err != nil {
			return err
		}
		if !sealed {
			if err := c.store.SealEpoch(e); err != nil {
				return err
			}
		}
		if err := c.store.DropSealedEpoch(e); err != nil {
			return err
		}
		gcLog.Info("dropped sealed epoch", "epoch", uint64(e))
		c.droppedUpTo = e + 1
	}
}

func epochContainsPinned(start, end ktypes.Height, excludes map[ktypes.Height]bool) bool {
	for h := range excludes {
		if h >= start && h < end {
			return true
		}
	}
	return false
}
