package term

import "strings"

// Nil is the empty-list sentinel; it is also the canonical proper-list
// tail. There is exactly one value of this type and it is comparable.
type Nil struct{}

var EmptyList Term = Nil{}

func (Nil) Equal(other Term) bool {
	_, ok := other.(Nil)
	return ok
}

func (Nil) Hash() uint32 {
	return jenkinsFinish(kindList)
}

func (Nil) String() string {
	return "[]"
}

// List is an ordered sequence of elements plus a tail. A proper list's
// tail is EmptyList; any other tail makes it improper. NthTail shares the
// underlying element slice so tails are produced in O(1), matching the
// "sub-list view" requirement.
type List struct {
	Elements []Term
	Tail     Term
}

// NewList builds a proper list from elements.
func NewList(elements ...Term) List {
	return List{Elements: elements, Tail: EmptyList}
}

// NewImproperList builds a list whose final cdr is tail instead of [].
func NewImproperList(tail Term, elements ...Term) List {
	return List{Elements: elements, Tail: tail}
}

// Proper reports whether the list terminates in EmptyList.
func (l List) Proper() bool {
	_, ok := l.Tail.(Nil)
	return ok
}

// NthTail returns the list (or bare tail term, at n == len(Elements)) that
// remains after dropping the first n elements. ok is false if n is
// negative or greater than the number of elements.
func (l List) NthTail(n int) (tail Term, ok bool) {
	if n < 0 || n > len(l.Elements) {
		return nil, false
	}
	if n == len(l.Elements) {
		return l.Tail, true
	}
	return List{Elements: l.Elements[n:], Tail: l.Tail}, true
}

func (l List) Equal(other Term) bool {
	if s, ok := other.(String); ok {
		return s.Equal(l)
	}
	o, ok := other.(List)
	if !ok || len(l.Elements) != len(o.Elements) {
		return false
	}
	for i := range l.Elements {
		if !l.Elements[i].Equal(o.Elements[i]) {
			return false
		}
	}
	return l.Tail.Equal(o.Tail)
}

func (l List) Hash() uint32 {
	h := kindList
	for _, e := range l.Elements {
		eh := e.Hash()
		h = jenkinsMix(h, byte(eh))
		h = jenkinsMix(h, byte(eh>>8))
		h = jenkinsMix(h, byte(eh>>16))
		h = jenkinsMix(h, byte(eh>>24))
	}
	th := l.Tail.Hash()
	h = jenkinsMix(h, byte(th))
	return jenkinsFinish(h)
}

func (l List) String() string {
	parts := make([]string, len(l.Elements))
	for i, e := range l.Elements {
		parts[i] = e.String()
	}
	if l.Proper() {
		return "[" + strings.Join(parts, ",") + "]"
	}
	return "[" + strings.Join(parts, ",") + "|" + l.Tail.String() + "]"
}
