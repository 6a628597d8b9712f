package ktypes

// BlockHeader commits to everything spec §3 requires: height, view,
// parent linkage, pre/post state roots, transactions root, timing, gas,
// validator-set digest, producer identity, and the signing-oracle
// counter + trace hash (spec §4.6, §6 "block signing preimage").
type BlockHeader struct {
	Height             Height
	View               uint64
	ParentHash         Hash
	ParentStateRoot    Hash
	StateRoot          Hash
	TransactionsRoot   Hash
	Timestamp          uint64
	GasUsed            uint64
	ValidatorSetHash   Hash
	ProducerAccountID  AccountID
	ProducerKeySuite   uint8
	ProducerPubkeyHash Hash
	ProducerPubkey     []byte

	// SigningOracleCounter and TraceHash are appended to the signed
	// payload after the base preimage (spec §6).
	SigningOracleCounter uint64
	TraceHash            Hash

	// Signature is the oracle's signature over the full preimage
	// (base fields || counter || trace hash).
	Signature []byte
}

// Hash returns the header's own identity hash (the "parent_hash" seen by
// the next block), independent of the block-signing preimage used for
// consensus signatures. Computed by the caller-supplied hashFn over the
// canonical encoding so every component shares one hashing policy.
func (h BlockHeader) Hash(encode func(BlockHeader) []byte, hashFn func([]byte) Hash) Hash {
	return hashFn(encode(h))
}

// Block is a header plus an ordered transaction list (spec §3).
type Block struct {
	Header BlockHeader
	Txs    []Transaction
}

// PreparedBlock is the speculative execution result returned by
// prepare_block, awaiting commit_block (spec §4.6, glossary).
type PreparedBlock struct {
	Block             Block
	StateChanges       StateChangeBatch
	ParentStateRoot    Hash
	TransactionsRoot   Hash
	ValidatorSetHash   Hash
	TxProofs           []TxOutcome
	GasUsed            uint64
}

// StateChangeBatch is the deterministic (inserts, deletes) batch produced
// by applying MVCC writes to an overlay (spec §4.6 step 6).
type StateChangeBatch struct {
	Inserts []KVPair
	Deletes [][]byte
}

// KVPair is an ordered key/value insert in a StateChangeBatch.
type KVPair struct {
	Key   []byte
	Value []byte
}
