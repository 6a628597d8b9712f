package codec

import (
	"fmt"

	"github.com/ioi-network/kernel/internal/ktypes"
)

// SigDomainBlockHeaderV1 tags the block-signing preimage (spec §6).
var SigDomainBlockHeaderV1 = []byte("SigDomain::BlockHeaderV1")

// BlockSigningPreimage builds the exact byte sequence spec §6 defines:
//
//	SigDomain::BlockHeaderV1 || height || view || parent_hash ||
//	parent_state_root || state_root || transactions_root || timestamp ||
//	gas_used || validator_set || producer_account_id ||
//	producer_key_suite || producer_pubkey_hash || producer_pubkey
//
// The caller appends the signing-oracle counter and trace hash to obtain
// the final signed payload (spec §6: "Final signed payload appends the
// signing-oracle counter and trace hash").
func BlockSigningPreimage(h ktypes.BlockHeader) []byte {
	buf := make([]byte, 0, 256+len(h.ProducerPubkey))
	buf = append(buf, SigDomainBlockHeaderV1...)
	buf = PutUint64(buf, uint64(h.Height))
	buf = PutUint64(buf, h.View)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.ParentStateRoot[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.TransactionsRoot[:]...)
	buf = PutUint64(buf, h.Timestamp)
	buf = PutUint64(buf, h.GasUsed)
	buf = append(buf, h.ValidatorSetHash[:]...)
	buf = append(buf, h.ProducerAccountID[:]...)
	buf = append(buf, h.ProducerKeySuite)
	buf = append(buf, h.ProducerPubkeyHash[:]...)
	buf = PutBytes(buf, h.ProducerPubkey)
	return buf
}

// BlockFinalSignedPayload appends the signing-oracle counter and trace
// hash to the base preimage.
func BlockFinalSignedPayload(h ktypes.BlockHeader) []byte {
	buf := BlockSigningPreimage(h)
	buf = PutUint64(buf, h.SigningOracleCounter)
	buf = append(buf, h.TraceHash[:]...)
	return buf
}

// EncodeBlockHeader canonically encodes a header for hashing as a block's
// own identity hash (the parent_hash a child block commits to). This
// includes the signature, unlike the signing preimage, so two headers
// that differ only in who signed them still hash differently.
func EncodeBlockHeader(h ktypes.BlockHeader) []byte {
	buf := BlockFinalSignedPayload(h)
	buf = PutBytes(buf, h.Signature)
	return buf
}

// TxSigningPreimage builds the byte sequence a signer signs over: every
// transaction field except the signature proof itself. Verifiers rebuild
// this same preimage from the received transaction to check the proof
// (spec §4.5 step 1: "stateless signature verification").
func TxSigningPreimage(tx ktypes.Transaction) []byte {
	buf := make([]byte, 0, 96+len(tx.Payload))
	buf = append(buf, tx.Header.AccountID[:]...)
	buf = PutUint64(buf, tx.Header.Nonce)
	buf = PutUint64(buf, tx.Header.ChainID)
	buf = PutUint32(buf, tx.Header.Version)
	if tx.Header.Session != nil {
		buf = append(buf, 1)
		buf = PutBytes(buf, tx.Header.Session.SessionKey)
		buf = PutUint64(buf, uint64(tx.Header.Session.ExpiresAtHeight))
		buf = PutBytes(buf, tx.Header.Session.Scope)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(tx.Kind))
	buf = PutBytes(buf, tx.Payload)
	return buf
}

// EncodeTransaction canonically encodes a transaction.
func EncodeTransaction(tx ktypes.Transaction) []byte {
	buf := make([]byte, 0, 128+len(tx.Payload))
	buf = append(buf, tx.Header.AccountID[:]...)
	buf = PutUint64(buf, tx.Header.Nonce)
	buf = PutUint64(buf, tx.Header.ChainID)
	buf = PutUint32(buf, tx.Header.Version)
	if tx.Header.Session != nil {
		buf = append(buf, 1)
		buf = PutBytes(buf, tx.Header.Session.SessionKey)
		buf = PutUint64(buf, uint64(tx.Header.Session.ExpiresAtHeight))
		buf = PutBytes(buf, tx.Header.Session.Scope)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, byte(tx.Kind))
	buf = PutBytes(buf, tx.Payload)
	buf = PutBytes(buf, tx.Proof.Signature)
	buf = PutBytes(buf, tx.Proof.PostQuantum)
	return buf
}

// EncodeBlock canonically encodes a full block: its header (including
// signature) followed by its ordered transaction list, for the node
// store's BLOCKS table (spec §4.6 commit_block step 11: "persist block").
func EncodeBlock(b ktypes.Block) []byte {
	buf := EncodeBlockHeader(b.Header)
	buf = PutUint64(buf, uint64(len(b.Txs)))
	for _, tx := range b.Txs {
		buf = PutBytes(buf, EncodeTransaction(tx))
	}
	return buf
}

// DecodeBlock decodes a block encoded by EncodeBlock.
func DecodeBlock(b []byte) (ktypes.Block, error) {
	r := newReader(b)
	var blk ktypes.Block

	header, err := decodeBlockHeader(r)
	if err != nil {
		return blk, fmt.Errorf("decode block header: %w", err)
	}
	blk.Header = header

	n, err := r.uint64()
	if err != nil {
		return blk, fmt.Errorf("decode tx count: %w", err)
	}
	blk.Txs = make([]ktypes.Transaction, 0, n)
	for i := uint64(0); i < n; i++ {
		raw, err := r.bytes()
		if err != nil {
			return blk, fmt.Errorf("decode tx %d: %w", i, err)
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return blk, fmt.Errorf("decode tx %d body: %w", i, err)
		}
		blk.Txs = append(blk.Txs, tx)
	}
	return blk, nil
}

// decodeBlockHeader decodes the fields EncodeBlockHeader writes, in the
// exact order BlockSigningPreimage / BlockFinalSignedPayload /
// EncodeBlockHeader append them, reading directly off an in-progress
// reader so DecodeBlock can continue past it to the transaction list.
func decodeBlockHeader(r *reader) (ktypes.BlockHeader, error) {
	var h ktypes.BlockHeader
	var err error

	height, err := r.uint64()
	if err != nil {
		return h, fmt.Errorf("height: %w", err)
	}
	h.Height = ktypes.Height(height)

	if h.View, err = r.uint64(); err != nil {
		return h, fmt.Errorf("view: %w", err)
	}

	if err := readFixedHash(r, &h.ParentHash); err != nil {
		return h, fmt.Errorf("parent hash: %w", err)
	}
	if err := readFixedHash(r, &h.ParentStateRoot); err != nil {
		return h, fmt.Errorf("parent state root: %w", err)
	}
	if err := readFixedHash(r, &h.StateRoot); err != nil {
		return h, fmt.Errorf("state root: %w", err)
	}
	if err := readFixedHash(r, &h.TransactionsRoot); err != nil {
		return h, fmt.Errorf("transactions root: %w", err)
	}

	if h.Timestamp, err = r.uint64(); err != nil {
		return h, fmt.Errorf("timestamp: %w", err)
	}
	if h.GasUsed, err = r.uint64(); err != nil {
		return h, fmt.Errorf("gas used: %w", err)
	}

	if err := readFixedHash(r, &h.ValidatorSetHash); err != nil {
		return h, fmt.Errorf("validator set hash: %w", err)
	}

	acct, err := r.fixed(20)
	if err != nil {
		return h, fmt.Errorf("producer account id: %w", err)
	}
	copy(h.ProducerAccountID[:], acct)

	suite, err := r.fixed(1)
	if err != nil {
		return h, fmt.Errorf("producer key suite: %w", err)
	}
	h.ProducerKeySuite = suite[0]

	if err := readFixedHash(r, &h.ProducerPubkeyHash); err != nil {
		return h, fmt.Errorf("producer pubkey hash: %w", err)
	}
	if h.ProducerPubkey, err = r.bytes(); err != nil {
		return h, fmt.Errorf("producer pubkey: %w", err)
	}

	if h.SigningOracleCounter, err = r.uint64(); err != nil {
		return h, fmt.Errorf("signing oracle counter: %w", err)
	}
	if err := readFixedHash(r, &h.TraceHash); err != nil {
		return h, fmt.Errorf("trace hash: %w", err)
	}

	if h.Signature, err = r.bytes(); err != nil {
		return h, fmt.Errorf("signature: %w", err)
	}

	return h, nil
}

// readFixedHash reads a 32-byte ktypes.Hash off r into dst.
func readFixedHash(r *reader, dst *ktypes.Hash) error {
	b, err := r.fixed(32)
	if err != nil {
		return err
	}
	copy(dst[:], b)
	return nil
}

// DecodeTransaction decodes a transaction encoded by EncodeTransaction.
func DecodeTransaction(b []byte) (ktypes.Transaction, error) {
	r := newReader(b)
	var tx ktypes.Transaction

	acct, err := r.fixed(20)
	if err != nil {
		return tx, fmt.Errorf("decode account id: %w", err)
	}
	copy(tx.Header.AccountID[:], acct)

	if tx.Header.Nonce, err = r.uint64(); err != nil {
		return tx, fmt.Errorf("decode nonce: %w", err)
	}
	if tx.Header.ChainID, err = r.uint64(); err != nil {
		return tx, fmt.Errorf("decode chain id: %w", err)
	}
	v, err := r.uint32()
	if err != nil {
		return tx, fmt.Errorf("decode version: %w", err)
	}
	tx.Header.Version = v

	hasSession, err := r.fixed(1)
	if err != nil {
		return tx, fmt.Errorf("decode session flag: %w", err)
	}
	if hasSession[0] == 1 {
		session := &ktypes.SessionAuth{}
		if session.SessionKey, err = r.bytes(); err != nil {
			return tx, fmt.Errorf("decode session key: %w", err)
		}
		expiry, err := r.uint64()
		if err != nil {
			return tx, fmt.Errorf("decode session expiry: %w", err)
		}
		session.ExpiresAtHeight = ktypes.Height(expiry)
		if session.Scope, err = r.bytes(); err != nil {
			return tx, fmt.Errorf("decode session scope: %w", err)
		}
		tx.Header.Session = session
	}

	kind, err := r.fixed(1)
	if err != nil {
		return tx, fmt.Errorf("decode kind: %w", err)
	}
	tx.Kind = ktypes.PayloadKind(kind[0])

	if tx.Payload, err = r.bytes(); err != nil {
		return tx, fmt.Errorf("decode payload: %w", err)
	}
	if tx.Proof.Signature, err = r.bytes(); err != nil {
		return tx, fmt.Errorf("decode signature: %w", err)
	}
	if tx.Proof.PostQuantum, err = r.bytes(); err != nil {
		return tx, fmt.Errorf("decode post-quantum proof: %w", err)
	}
	return tx, nil
}
