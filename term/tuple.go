package term

import "strings"

// Tuple is a fixed-length ordered sequence of terms.
type Tuple []Term

func (t Tuple) Equal(other Term) bool {
	o, ok := other.(Tuple)
	if !ok || len(t) != len(o) {
		return false
	}
	for i := range t {
		if !t[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (t Tuple) Hash() uint32 {
	h := kindTuple
	for _, e := range t {
		h = jenkinsMix(h, byte(e.Hash()))
		h = jenkinsMix(h, byte(e.Hash()>>8))
		h = jenkinsMix(h, byte(e.Hash()>>16))
		h = jenkinsMix(h, byte(e.Hash()>>24))
	}
	return jenkinsFinish(h)
}

func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Arity returns the number of elements.
func (t Tuple) Arity() int {
	return len(t)
}
