package ktypes

// PayloadKind tags the variant of a transaction's payload (spec §3:
// "a tagged-variant record").
type PayloadKind uint8

const (
	// PayloadVM dispatches to VM contract code (spec §4.5 step 7).
	PayloadVM PayloadKind = iota
	// PayloadServiceCall invokes a registered service method.
	PayloadServiceCall
	// PayloadSettlement processes a settlement operation.
	PayloadSettlement
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadVM:
		return "vm"
	case PayloadServiceCall:
		return "service_call"
	case PayloadSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// SessionAuth optionally authorizes a transaction via a session key rather
// than the account's master identity (spec §3, §4.5 step 2).
type SessionAuth struct {
	SessionKey []byte
	// ExpiresAtHeight pins the session authorization's expiry to a height
	// rather than wall-clock time. This resolves the Open Question in
	// spec §9 ("exact semantics of session authorization expiring
	// mid-block") in favor of height-based expiry: heights are the
	// kernel's only ambient, replay-safe clock (see DESIGN.md).
	ExpiresAtHeight Height
	// Scope is an opaque, payload-kind-specific authorization scope that
	// must cover the transaction's payload for the session key to apply.
	Scope []byte
}

// TxHeader carries the account/nonce/chain/session metadata every
// transaction variant shares (spec §3).
type TxHeader struct {
	AccountID AccountID
	Nonce     uint64
	ChainID   uint64
	Version   uint32
	Session   *SessionAuth // nil if the tx is signed by the master identity directly
}

// SignatureProof binds a transaction to its signer. PostQuantum is optional
// (spec §3: "optional post-quantum proof").
type SignatureProof struct {
	Signature   []byte
	PostQuantum []byte
}

// Transaction is the tagged-variant record of spec §3: a header, a payload
// kind with opaque payload bytes (decoded by the relevant service/VM/
// settlement handler), and a signature proof.
type Transaction struct {
	Header  TxHeader
	Kind    PayloadKind
	Payload []byte
	Proof   SignatureProof
}

// TxOutcome is the per-transaction result produced by the executor (spec
// §4.5, §4.6 step 2: tx_proofs).
type TxOutcome struct {
	GasUsed uint64
	// ProofBytes is empty for a failed transaction (spec §4.5: "a tx that
	// fails any step records an empty proof and zero gas").
	ProofBytes []byte
	Failed     bool
	// FailureCode names the kernelerr.Kind code string, empty on success.
	FailureCode string
}
