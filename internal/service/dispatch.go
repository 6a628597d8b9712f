package service

import (
	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// EncodeCallPayload builds a PayloadServiceCall transaction's payload:
// a one-byte service-id length, the id itself, then the service's own
// opaque inner payload. Call decodes this same format to route to the
// right registered service (spec §4.5 step 7).
func EncodeCallPayload(serviceID string, inner []byte) []byte {
	out := make([]byte, 0, 1+len(serviceID)+len(inner))
	out = append(out, byte(len(serviceID)))
	out = append(out, serviceID...)
	out = append(out, inner...)
	return out
}

func decodeCallPayload(payload []byte) (serviceID string, inner []byte, err error) {
	if len(payload) < 1 {
		return "", nil, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxInvalidInputOutput, "empty service-call payload")
	}
	idLen := int(payload[0])
	if len(payload) < 1+idLen {
		return "", nil, kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxInvalidInputOutput, "truncated service-call payload")
	}
	return string(payload[1 : 1+idLen]), payload[1+idLen:], nil
}

// Call implements executor.ServiceCaller: it decodes the target service
// id from payload's leading bytes and routes to that service's
// HandleCall (spec §4.5 step 7's registered-service-method variant).
func (d *Directory) Call(view executor.Viewer, accountID ktypes.AccountID, payload []byte) ([]byte, uint64, error) {
	id, inner, err := decodeCallPayload(payload)
	if err != nil {
		return nil, 0, err
	}
	svc, ok := d.Lookup(id)
	if !ok {
		return nil, 0, kernelerr.New(kernelerr.KindUpgrade, kernelerr.CodeUpgradeServiceNotFound, "service not registered: "+id)
	}
	return svc.HandleCall(view, accountID, inner)
}

var _ executor.ServiceCaller = (*Directory)(nil)
