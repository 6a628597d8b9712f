package rpcboundary

import (
	"encoding/json"
	"sort"

	"github.com/ioi-network/kernel/internal/gc"
	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/internal/service"
)

// SystemControl implements spec §6's SystemControl surface: debug_pin,
// debug_unpin, debug_gc, expected_model_hash, proposal_tally.
type SystemControl struct {
	pins      *gc.PinSet
	collector *gc.Collector
	dir       *service.Directory
	upgrades  *service.Upgrades
}

// NewSystemControl returns a SystemControl over the given pin set,
// collector, service directory, and upgrade tracker. Any may be nil; the
// corresponding methods then fail with a permission-denied error rather
// than panicking, so a deployment can expose a reduced SystemControl
// (e.g. no debug_gc on a production endpoint).
func NewSystemControl(pins *gc.PinSet, collector *gc.Collector, dir *service.Directory, upgrades *service.Upgrades) *SystemControl {
	return &SystemControl{pins: pins, collector: collector, dir: dir, upgrades: upgrades}
}

func errNotConfigured(what string) error {
	return kernelerr.New(kernelerr.KindState, kernelerr.CodePermissionDenied, what+" is not configured on this endpoint")
}

type pinParams struct {
	Height ktypes.Height `json:"height"`
}

type pinResult struct {
	Height   ktypes.Height `json:"height"`
	IsPinned bool          `json:"is_pinned"`
}

// debugPin implements debug_pin(height) (spec §4.7).
func (s *SystemControl) debugPin(params json.RawMessage) (interface{}, error) {
	if s.pins == nil {
		return nil, errNotConfigured("pin set")
	}
	var req pinParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode debug_pin params", err)
	}
	s.pins.Pin(req.Height)
	return pinResult{Height: req.Height, IsPinned: true}, nil
}

// debugUnpin implements debug_unpin(height) (spec §4.7).
func (s *SystemControl) debugUnpin(params json.RawMessage) (interface{}, error) {
	if s.pins == nil {
		return nil, errNotConfigured("pin set")
	}
	var req pinParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindTransaction, kernelerr.CodeTxSerialization, "decode debug_unpin params", err)
	}
	s.pins.Unpin(req.Height)
	return pinResult{Height: req.Height, IsPinned: s.pins.IsPinned(req.Height)}, nil
}

type gcResult struct {
	Ran bool `json:"ran"`
}

// debugGC implements debug_gc, forcing one collection pass out of band
// instead of waiting for the collector's own jittered interval (spec
// §4.7, §8's GC soak scenario).
func (s *SystemControl) debugGC(json.RawMessage) (interface{}, error) {
	if s.collector == nil {
		return nil, errNotConfigured("garbage collector")
	}
	if err := s.collector.RunOnce(); err != nil {
		return nil, err
	}
	return gcResult{Ran: true}, nil
}

type expectedModelHashResult struct {
	Hash ktypes.Hash `json:"hash"`
}

// expectedModelHash implements expected_model_hash (spec §6): a
// deterministic digest over the registered service directory's ids and
// ABI versions, for an Orchestrator to confirm every node in the
// network has the same set of services loaded before admitting blocks
// from it.
func (s *SystemControl) expectedModelHash(json.RawMessage) (interface{}, error) {
	if s.dir == nil {
		return nil, errNotConfigured("service directory")
	}
	ids := s.dir.IDs() // already canonical lex order
	var buf []byte
	for _, id := range ids {
		svc, ok := s.dir.Lookup(id)
		if !ok {
			continue
		}
		buf = append(buf, []byte(id)...)
		buf = append(buf, byte(svc.ABIVersion()), byte(svc.ABIVersion()>>8), byte(svc.ABIVersion()>>16), byte(svc.ABIVersion()>>24))
		buf = append(buf, 0)
	}
	return expectedModelHashResult{Hash: hashing.Sum256(buf)}, nil
}

type proposalTallyResult struct {
	Pending []service.PendingUpgrade `json:"pending"`
}

// proposalTally implements proposal_tally (spec §6): every scheduled
// but not-yet-run service upgrade, for a caller deciding whether to
// propose a block at the upgrade's target height.
func (s *SystemControl) proposalTally(json.RawMessage) (interface{}, error) {
	if s.upgrades == nil {
		return nil, errNotConfigured("upgrade tracker")
	}
	pending := s.upgrades.Pending()
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].AtHeight != pending[j].AtHeight {
			return pending[i].AtHeight < pending[j].AtHeight
		}
		return pending[i].ServiceID < pending[j].ServiceID
	})
	return proposalTallyResult{Pending: pending}, nil
}
