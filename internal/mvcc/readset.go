package mvcc

// Version identifies which write a read observed: either another
// transaction's index, or the base state snapshot taken before the
// block started executing.
type Version struct {
	FromTx int
	IsBase bool
}

// baseVersion is the sentinel observed when a key has no pending write at
// or before the reading transaction's index.
var baseVersion = Version{IsBase: true}

// Observation is one (key, observed version) pair recorded by read.
type Observation struct {
	Key     []byte
	Version Version
}

// ReadSet accumulates every key a transaction's execution observed, along
// with the version it saw at the time. Re-reading the same key within one
// incarnation overwrites the prior observation rather than appending,
// since within a single incarnation's execution the observed version for
// a given key cannot change (spec §4.3: "per-execution read set recording
// every key it observed").
type ReadSet struct {
	observed map[string]Observation
}

// NewReadSet returns an empty read set for one execution incarnation.
func NewReadSet() *ReadSet {
	return &ReadSet{observed: make(map[string]Observation)}
}

func (rs *ReadSet) record(key []byte, v Version) {
	rs.observed[string(key)] = Observation{Key: append([]byte(nil), key...), Version: v}
}

// Observations returns the recorded (key, version) pairs in lexicographic
// key order, for deterministic iteration during validation and testing.
func (rs *ReadSet) Observations() []Observation {
	out := make([]Observation, 0, len(rs.observed))
	for _, o := range rs.observed {
		out = append(out, o)
	}
	sortObservations(out)
	return out
}

// Len reports how many distinct keys were observed.
func (rs *ReadSet) Len() int { return len(rs.observed) }

func sortObservations(o []Observation) {
	// Simple insertion sort: read sets are per-tx and typically small, and
	// this avoids pulling in sort.Slice's reflection-based comparator for
	// a hot validation path.
	for i := 1; i < len(o); i++ {
		for j := i; j > 0 && string(o[j-1].Key) > string(o[j].Key); j-- {
			o[j-1], o[j] = o[j], o[j-1]
		}
	}
}
