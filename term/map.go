package term

// Map is an insertion-order-irrelevant term→term mapping; keys are
// unique under term equality. Because Term keys may be backed by slices
// (Binary, List, ...) they cannot be Go map keys directly, so entries are
// held in a flat slice and indexed by Hash() to keep lookups close to
// O(1) while still doing a structural Equal check within a hash bucket.
type Map struct {
	entries []mapEntry
	index   map[uint32][]int
}

type mapEntry struct {
	Key   Term
	Value Term
}

// NewMap builds an empty map.
func NewMap() *Map {
	return &Map{index: make(map[uint32][]int)}
}

// Put inserts or overwrites the value for key.
func (m *Map) Put(key, value Term) {
	h := key.Hash()
	for _, i := range m.index[h] {
		if m.entries[i].Key.Equal(key) {
			m.entries[i].Value = value
			return
		}
	}
	m.index[h] = append(m.index[h], len(m.entries))
	m.entries = append(m.entries, mapEntry{Key: key, Value: value})
}

// Get looks up key.
func (m *Map) Get(key Term) (Term, bool) {
	h := key.Hash()
	for _, i := range m.index[h] {
		if m.entries[i].Key.Equal(key) {
			return m.entries[i].Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Range calls f for every entry in insertion order; the order itself
// carries no meaning per term equality, but iteration must be
// deterministic for encoding.
func (m *Map) Range(f func(key, value Term)) {
	for _, e := range m.entries {
		f(e.Key, e.Value)
	}
}

func (m *Map) Equal(other Term) bool {
	o, ok := other.(*Map)
	if !ok || m.Len() != o.Len() {
		return false
	}
	for _, e := range m.entries {
		ov, found := o.Get(e.Key)
		if !found || !e.Value.Equal(ov) {
			return false
		}
	}
	return true
}

func (m *Map) Hash() uint32 {
	// Order-independent: XOR per-entry hashes together instead of mixing
	// sequentially, so insertion order never affects the result.
	var acc uint32 = kindMap
	for _, e := range m.entries {
		acc ^= jenkinsFinish(jenkinsMix(e.Key.Hash(), byte(e.Value.Hash())))
	}
	return acc
}

func (m *Map) String() string {
	s := "#{"
	first := true
	for _, e := range m.entries {
		if !first {
			s += ","
		}
		first = false
		s += e.Key.String() + "=>" + e.Value.String()
	}
	return s + "}"
}
