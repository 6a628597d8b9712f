package executor

import (
	"encoding/binary"

	"golang.org/x/crypto/ed25519"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// Reserved key prefix for account credential and nonce state, sharing
// the block's single MVCC keyspace with every other component (state
// tree leaves, decorator namespaces) so authorization reads participate
// in the same conflict-detection and re-execution cycle as any other
// read (spec §4.5 step 2's "current MVCC view").
const acctPrefix = "acct/"

func acctNonceKey(id ktypes.AccountID) []byte {
	return append([]byte(acctPrefix+"nonce/"), id[:]...)
}

func acctActiveKeyKey(id ktypes.AccountID) []byte {
	return append([]byte(acctPrefix+"active_key/"), id[:]...)
}

func acctSessionKey(id ktypes.AccountID, sessionKey []byte) []byte {
	out := append([]byte(acctPrefix+"session/"), id[:]...)
	out = append(out, '/')
	return append(out, sessionKey...)
}

// ScopeChecker decides whether a session's authorized scope covers a
// given transaction's payload. The exact scope encoding is unspecified
// by spec (an opaque, payload-kind-specific byte string); this is an
// injected strategy rather than a fixed format so callers can evolve the
// scope scheme without touching the pipeline.
type ScopeChecker interface {
	Covers(scope []byte, tx ktypes.Transaction) bool
}

// PrefixScopeChecker treats scope as covering a transaction whenever
// scope is empty (wildcard) or is a byte-prefix of the transaction's
// encoded payload kind plus payload bytes. This is the kernel's default,
// intentionally simple scope scheme (Open Question in spec §9: "exact
// semantics of session scope coverage" — resolved here; see DESIGN.md).
type PrefixScopeChecker struct{}

func (PrefixScopeChecker) Covers(scope []byte, tx ktypes.Transaction) bool {
	if len(scope) == 0 {
		return true
	}
	if len(scope) < 1 || scope[0] != byte(tx.Kind) {
		return false
	}
	rest := scope[1:]
	if len(rest) > len(tx.Payload) {
		return false
	}
	for i := range rest {
		if rest[i] != tx.Payload[i] {
			return false
		}
	}
	return true
}

// AccountView looks up and mutates account credential/nonce state over a
// Viewer, implementing spec §4.5 steps 2, 3, and 6.
type AccountView struct {
	scope ScopeChecker
}

// NewAccountView returns an AccountView using checker to evaluate session
// scope coverage. A nil checker defaults to PrefixScopeChecker.
func NewAccountView(checker ScopeChecker) *AccountView {
	if checker == nil {
		checker = PrefixScopeChecker{}
	}
	return &AccountView{scope: checker}
}

// Authorize implements spec §4.5 step 2: the signing key must be active,
// or (if Header.Session is present) the session key must be authorized
// by the master identity and its scope must cover the payload. height is
// the block height being executed, used to reject a session whose
// ExpiresAtHeight has passed (spec §9 Open Question, resolved
// height-based — see DESIGN.md).
func (a *AccountView) Authorize(v Viewer, tx ktypes.Transaction, height ktypes.Height) error {
	activeKey, ok, err := v.Get(acctActiveKeyKey(tx.Header.AccountID))
	if err != nil {
		return err
	}
	if !ok {
		return kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxUnauthorized, "no active signing key registered for account")
	}

	session := tx.Header.Session
	if session == nil {
		signer, ok := SignerPubkey(tx.Proof)
		if !ok || !keysEqual(activeKey, signer) {
			return kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxUnauthorized, "signing key is not the account's active key")
		}
		return nil
	}

	if session.ExpiresAtHeight < height {
		return kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxExpiredKey, "session key expired before this height")
	}

	grant, ok, err := v.Get(acctSessionKey(tx.Header.AccountID, session.SessionKey))
	if err != nil {
		return err
	}
	if !ok {
		return kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxUnauthorized, "session key not authorized by master identity")
	}
	if !a.scope.Covers(grant, tx) {
		return kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxUnauthorized, "session scope does not cover payload")
	}
	return nil
}

// Nonce implements spec §4.5 step 3's lookup half: the observed account
// nonce at the current MVCC view.
func (a *AccountView) Nonce(v Viewer, id ktypes.AccountID) (uint64, error) {
	b, ok, err := v.Get(acctNonceKey(id))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, kernelerr.New(kernelerr.KindState, kernelerr.CodeDecodeFailed, "malformed nonce value")
	}
	return binary.BigEndian.Uint64(b), nil
}

// BumpNonce implements spec §4.5 step 6: writes observed+1 back under the
// account's nonce key.
func (a *AccountView) BumpNonce(v Viewer, id ktypes.AccountID, observed uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], observed+1)
	v.Put(acctNonceKey(id), b[:])
}

// GrantSession authorizes sessionKey under account's master identity
// with the given scope, for use by account-management transactions
// (outside this package's pipeline; exposed for callers such as
// internal/service's account-admin decorator).
func (a *AccountView) GrantSession(v Viewer, id ktypes.AccountID, sessionKey, scope []byte) {
	v.Put(acctSessionKey(id, sessionKey), scope)
}

// SetActiveKey registers key as account's active signing key.
func (a *AccountView) SetActiveKey(v Viewer, id ktypes.AccountID, key []byte) {
	v.Put(acctActiveKeyKey(id), key)
}

func authorizeFailureCode(err error) kernelerr.Code {
	if kernelerr.IsCode(err, kernelerr.CodeTxExpiredKey) {
		return kernelerr.CodeTxExpiredKey
	}
	return kernelerr.CodeTxUnauthorized
}

func keysEqual(a []byte, b ed25519.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

