package statetree

import (
	"bytes"

	"github.com/ioi-network/kernel/internal/hashing"
	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// ProofStep is one level of an existence path, leaf to root. Besides the
// sibling hash it carries everything InnerHash needs to recompute the
// parent hash exactly (spec §9: inner hashes bind height/size/split_key,
// not just the child hashes).
type ProofStep struct {
	IsLeftChild bool
	SiblingHash ktypes.Hash
	Height      int32
	Size        int64
	SplitKey    []byte
}

// ExistenceProof proves that Key maps to Value under a given root.
type ExistenceProof struct {
	Key   []byte
	Value []byte
	Path  []ProofStep // leaf-to-root order
}

// Verify recomputes the root from the leaf upward and compares it to root.
func (p *ExistenceProof) Verify(root ktypes.Hash) bool {
	cur := hashing.LeafHash(p.Key, p.Value)
	for _, step := range p.Path {
		if step.IsLeftChild {
			cur = hashing.InnerHash(step.Height, step.Size, step.SplitKey, cur, step.SiblingHash)
		} else {
			cur = hashing.InnerHash(step.Height, step.Size, step.SplitKey, step.SiblingHash, cur)
		}
	}
	return cur == root
}

// ProofKind distinguishes existence from non-existence proofs (spec
// §4.2.2).
type ProofKind uint8

const (
	ProofExistence ProofKind = iota
	ProofNonExistence
)

// Proof is the result of GetWithProofAt: either an existence proof for
// the queried key, or a non-existence proof bounding it between its
// in-tree predecessor and/or successor.
type Proof struct {
	Kind        ProofKind
	Key         []byte
	Existence   *ExistenceProof // Kind == ProofExistence
	Predecessor *ExistenceProof // Kind == ProofNonExistence, nil if Key is below the minimum
	Successor   *ExistenceProof // Kind == ProofNonExistence, nil if Key is above the maximum
}

// GetWithProofAt returns the value (if present) at key under the given
// historical root, together with a proof, without mutating the current
// in-memory version (spec §4.2 get_with_proof_at). If root cannot be
// resolved to any node the tree knows about or can fault in, it returns a
// StaleAnchor error (the root has been pruned past retention).
func (t *Tree) GetWithProofAt(root ktypes.Hash, key []byte) (*Proof, error) {
	if root.IsZero() {
		return &Proof{Kind: ProofNonExistence, Key: key}, nil
	}
	rootNode, err := t.getNode(root)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.KindState, kernelerr.CodeStaleAnchor, "root not resolvable", err)
	}

	path, leaf, pred, succ, err := t.walkWithNeighbors(rootNode, key, nil)
	if err != nil {
		return nil, err
	}
	if leaf != nil {
		return &Proof{
			Kind: ProofExistence,
			Key:  key,
			Existence: &ExistenceProof{
				Key:   leaf.Key,
				Value: leaf.Value,
				Path:  path,
			},
		}, nil
	}

	proof := &Proof{Kind: ProofNonExistence, Key: key}
	if pred != nil {
		ep, err := t.buildExistenceProof(rootNode, pred.Key)
		if err != nil {
			return nil, err
		}
		proof.Predecessor = ep
	}
	if succ != nil {
		ep, err := t.buildExistenceProof(rootNode, succ.Key)
		if err != nil {
			return nil, err
		}
		proof.Successor = ep
	}
	return proof, nil
}

// walkWithNeighbors descends toward key, returning the leaf-to-root path
// if key is found, or else the tightest predecessor/successor leaves
// observed along the descent (the standard BST bracketing argument: the
// last node at which the search went right gives the predecessor bound,
// the last at which it went left gives the successor bound).
func (t *Tree) walkWithNeighbors(n *Node, key []byte, pathSoFar []ProofStep) ([]ProofStep, *Node, *Node, *Node, error) {
	if n == nil {
		return nil, nil, nil, nil, nil
	}
	if n.IsLeaf {
		if bytes.Equal(n.Key, key) {
			return pathSoFar, n, nil, nil, nil
		}
		if bytes.Compare(n.Key, key) < 0 {
			return nil, nil, n, nil, nil
		}
		return nil, nil, nil, n, nil
	}

	left, err := t.getNode(n.Left)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	right, err := t.getNode(n.Right)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if bytes.Compare(key, n.SplitKey) < 0 {
		step := ProofStep{IsLeftChild: true, SiblingHash: n.Right, Height: n.Height, Size: n.Size, SplitKey: n.SplitKey}
		path, leaf, pred, succ, err := t.walkWithNeighbors(left, key, append([]ProofStep{step}, pathSoFar...))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if succ == nil {
			succ, err = t.descendEdge(right, true)
			if err != nil {
				return nil, nil, nil, nil, err
			}
		}
		return path, leaf, pred, succ, nil
	}
	step := ProofStep{IsLeftChild: false, SiblingHash: n.Left, Height: n.Height, Size: n.Size, SplitKey: n.SplitKey}
	path, leaf, pred, succ, err := t.walkWithNeighbors(right, key, append([]ProofStep{step}, pathSoFar...))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if pred == nil {
		pred, err = t.descendEdge(left, false)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return path, leaf, pred, succ, nil
}

// descendEdge faults down a subtree always taking the leftmost
// (wantLeftmost=true) or rightmost child, returning the edge leaf. Used
// to seed a neighbor bound from the subtree the main descent did not
// enter.
func (t *Tree) descendEdge(n *Node, wantLeftmost bool) (*Node, error) {
	for n != nil && !n.IsLeaf {
		var next ktypes.Hash
		if wantLeftmost {
			next = n.Left
		} else {
			next = n.Right
		}
		child, err := t.getNode(next)
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// buildExistenceProof builds a full existence proof for an already-known
// present key by walking from root.
func (t *Tree) buildExistenceProof(root *Node, key []byte) (*ExistenceProof, error) {
	path, leaf, _, _, err := t.walkWithNeighbors(root, key, nil)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, kernelerr.New(kernelerr.KindState, kernelerr.CodeProofNotAnchored, "neighbor key vanished during proof construction")
	}
	return &ExistenceProof{Key: leaf.Key, Value: leaf.Value, Path: path}, nil
}

// VerifyProof checks a Proof against an expected root (spec §4.2
// verify_proof). For non-existence proofs it additionally checks that
// the supplied predecessor/successor actually bracket the queried key —
// unbounded on whichever side has no neighbor.
func VerifyProof(root ktypes.Hash, key []byte, p *Proof) bool {
	if p == nil || !bytes.Equal(p.Key, key) {
		return false
	}
	switch p.Kind {
	case ProofExistence:
		if p.Existence == nil || !bytes.Equal(p.Existence.Key, key) {
			return false
		}
		return p.Existence.Verify(root)
	case ProofNonExistence:
		if p.Predecessor == nil && p.Successor == nil {
			return root.IsZero()
		}
		if p.Predecessor != nil {
			if !p.Predecessor.Verify(root) {
				return false
			}
			if bytes.Compare(p.Predecessor.Key, key) >= 0 {
				return false
			}
		}
		if p.Successor != nil {
			if !p.Successor.Verify(root) {
				return false
			}
			if bytes.Compare(p.Successor.Key, key) <= 0 {
				return false
			}
		}
		return true
	default:
		return false
	}
}
