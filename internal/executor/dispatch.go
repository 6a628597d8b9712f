package executor

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// VMRunner executes VM contract code (spec §4.5 step 7, PayloadVM
// variant). The concrete VM is out of this kernel's scope (spec §1
// Non-goals list no VM implementation); callers wire whatever bytecode
// interpreter they have behind this interface.
type VMRunner interface {
	Run(view Viewer, accountID ktypes.AccountID, payload []byte) (proof []byte, gasUsed uint64, err error)
}

// ServiceCaller invokes a registered service method (spec §4.5 step 7,
// PayloadServiceCall variant). internal/service's directory supplies the
// concrete lookup; this package only needs the narrow call surface.
type ServiceCaller interface {
	Call(view Viewer, accountID ktypes.AccountID, payload []byte) (proof []byte, gasUsed uint64, err error)
}

// DefaultDispatcher implements Dispatcher by routing on ktypes.PayloadKind
// to an injected VMRunner, ServiceCaller, or its own built-in settlement
// handling (spec §4.5 step 7: "run VM contract code, invoke a registered
// service method, or process a settlement operation").
type DefaultDispatcher struct {
	VM      VMRunner
	Service ServiceCaller
}

func (d *DefaultDispatcher) Dispatch(view Viewer, tx ktypes.Transaction) ([]byte, uint64, error) {
	switch tx.Kind {
	case ktypes.PayloadVM:
		if d.VM == nil {
			return nil, 0, kernelerr.New(kernelerr.KindVM, kernelerr.CodeVMInit, "no VM runner configured")
		}
		return d.VM.Run(view, tx.Header.AccountID, tx.Payload)
	case ktypes.PayloadServiceCall:
		if d.Service == nil {
			return nil, 0, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound, "no service caller configured")
		}
		return d.Service.Call(view, tx.Header.AccountID, tx.Payload)
	case ktypes.PayloadSettlement:
		return dispatchSettlement(view, tx)
	default:
		return nil, 0, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxUnsupportedVariant, "unknown payload kind")
	}
}

// settlementGasBase is the flat gas charge for a settlement transfer,
// independent of amount (spec §4.5 "gas: each tx reports gas_used").
const settlementGasBase uint64 = 1000

// Settlement payloads are a fixed 20-byte recipient followed by a
// 32-byte big-endian amount: a minimal balance-transfer operation
// sufficient to exercise spec §4.5 step 7's settlement branch and the
// balance-overflow failure mode named in spec §7's transaction error
// taxonomy. Richer settlement semantics belong to a registered service
// via PayloadServiceCall instead of growing this built-in further.
func dispatchSettlement(view Viewer, tx ktypes.Transaction) ([]byte, uint64, error) {
	if len(tx.Payload) != 20+32 {
		return nil, 0, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxInvalidInputOutput, "malformed settlement payload")
	}
	to := ktypes.BytesToAccountID(tx.Payload[:20])
	amount := new(uint256.Int).SetBytes(tx.Payload[20:])

	fromKey := balanceKey(tx.Header.AccountID)
	toKey := balanceKey(to)

	fromBal, err := readBalance(view, fromKey)
	if err != nil {
		return nil, 0, err
	}
	if fromBal.Lt(amount) {
		return nil, 0, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxInsufficientFee, "insufficient balance for settlement")
	}
	toBal, err := readBalance(view, toKey)
	if err != nil {
		return nil, 0, err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return nil, 0, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxBalanceOverflow, "recipient balance overflow")
	}

	newFrom := new(uint256.Int).Sub(fromBal, amount)
	view.Put(fromKey, newFrom.Bytes())
	view.Put(toKey, newTo.Bytes())

	proof := make([]byte, 8)
	binary.BigEndian.PutUint64(proof, settlementGasBase)
	return proof, settlementGasBase, nil
}

func balanceKey(id ktypes.AccountID) []byte {
	return append([]byte(acctPrefix+"balance/"), id[:]...)
}

func readBalance(view Viewer, key []byte) (*uint256.Int, error) {
	b, ok, err := view.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(b), nil
}
