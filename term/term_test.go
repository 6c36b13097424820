package term

import (
	"math/big"
	"testing"
)

func TestAtomTruncation(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'a'
	}
	a := NewAtom(string(long))
	if len([]rune(string(a))) != atomMax {
		t.Fatalf("expected truncation to %d runes, got %d", atomMax, len([]rune(string(a))))
	}
}

func TestIntegerRepresentation(t *testing.T) {
	cases := []struct {
		v    int64
		want Representation
	}{
		{0, RepSmallInt},
		{255, RepSmallInt},
		{256, RepInt},
		{-1, RepInt},
		{maxInt32, RepInt},
		{minInt32, RepInt},
	}
	for _, c := range cases {
		got := NewInteger(c.v).Representation()
		if got != c.want {
			t.Errorf("Representation(%d) = %v, want %v", c.v, got, c.want)
		}
	}

	big1 := new(big.Int).Lsh(big.NewInt(1), 64)
	if NewIntegerBig(big1).Representation() != RepBig {
		t.Errorf("2^64 should be RepBig")
	}
}

func TestIntegerEqualityAndHash(t *testing.T) {
	a := NewInteger(42)
	b := NewIntegerBig(big.NewInt(42))
	if !a.Equal(b) {
		t.Fatal("42 == 42 via different constructors should be equal")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("equal integers must hash equally")
	}
}

func TestBitStringPadMasking(t *testing.T) {
	bs := NewBitString([]byte{0xFE}, 3)
	if bs.Data[0] != 0xF8 {
		t.Fatalf("expected low 3 bits zeroed: got %08b", bs.Data[0])
	}
	if bs.SizeBits() != 5 {
		t.Fatalf("expected 5 significant bits, got %d", bs.SizeBits())
	}
}

func TestListNthTail(t *testing.T) {
	l := NewList(Atom("a"), Atom("b"), Atom("c"))

	for n, want := range map[int]int{0: 3, 1: 2, 2: 1, 3: 0} {
		tail, ok := l.NthTail(n)
		if !ok {
			t.Fatalf("NthTail(%d) unexpectedly failed", n)
		}
		switch v := tail.(type) {
		case List:
			if len(v.Elements) != want {
				t.Errorf("NthTail(%d): got %d elements, want %d", n, len(v.Elements), want)
			}
		case Nil:
			if want != 0 {
				t.Errorf("NthTail(%d): got Nil, want %d elements", n, want)
			}
		default:
			t.Errorf("NthTail(%d): unexpected type %T", n, tail)
		}
	}

	if _, ok := l.NthTail(4); ok {
		t.Fatal("NthTail(4) on a 3-element list should fail")
	}
}

func TestMapEqualityIgnoresOrder(t *testing.T) {
	m1 := NewMap()
	m1.Put(Atom("a"), NewInteger(1))
	m1.Put(Atom("b"), NewInteger(2))

	m2 := NewMap()
	m2.Put(Atom("b"), NewInteger(2))
	m2.Put(Atom("a"), NewInteger(1))

	if !m1.Equal(m2) {
		t.Fatal("maps with same entries in different insertion order must be equal")
	}
	if m1.Hash() != m2.Hash() {
		t.Fatal("equal maps must hash equally regardless of insertion order")
	}
}

func TestStringEqualsEquivalentCodepointList(t *testing.T) {
	s := String("ok")
	l := NewList(NewInteger(111), NewInteger(107))

	if !s.Equal(l) {
		t.Fatal(`String("ok") should equal the list [111,107]`)
	}
}
