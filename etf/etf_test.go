package etf

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/armen/ergyre/term"
)

func roundTrip(t *testing.T, v term.Term) term.Term {
	t.Helper()
	encoded, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode(%v): %v", v, err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(Encode(%v)): %v", v, err)
	}
	if !v.Equal(decoded) {
		t.Fatalf("round-trip mismatch: %v != %v", v, decoded)
	}
	return decoded
}

func TestAtomRoundTripExactBytes(t *testing.T) {
	encoded, err := Encode(term.Atom("hello"))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{131, 119, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(encoded, want) {
		t.Fatalf("got % x, want % x", encoded, want)
	}

	decoded, err := Decode(want)
	if err != nil {
		t.Fatal(err)
	}
	a, ok := decoded.(term.Atom)
	if !ok || a != "hello" {
		t.Fatalf("decoded %#v, want Atom(hello)", decoded)
	}
}

func TestSmallIntRoundTripExactBytes(t *testing.T) {
	cases := []struct {
		v    int64
		want []byte
	}{
		{42, []byte{131, 97, 42}},
		{-1, []byte{131, 98, 255, 255, 255, 255}},
		{300, []byte{131, 98, 0, 0, 1, 44}},
	}
	for _, c := range cases {
		got, err := Encode(term.NewInteger(c.v))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, c.want) {
			t.Errorf("Encode(%d) = % x, want % x", c.v, got, c.want)
		}
	}
}

func TestIntegerBoundaries(t *testing.T) {
	one := new(big.Int).Lsh(big.NewInt(1), 64)
	minusOne := new(big.Int).Neg(one)
	values := []term.Integer{
		term.NewInteger(0),
		term.NewInteger(255),
		term.NewInteger(256),
		term.NewInteger(-1),
		term.NewInteger((1 << 31) - 1),
		term.NewInteger(-(1 << 31)),
		term.NewIntegerBig(new(big.Int).Lsh(big.NewInt(1), 31)),
		term.NewIntegerBig(one),
		term.NewIntegerBig(minusOne),
	}
	for _, v := range values {
		roundTrip(t, v)
	}
}

func TestStringRoundTripLengths(t *testing.T) {
	for _, n := range []int{0, 1, 255, 65535, 65536} {
		s := make([]byte, n)
		for i := range s {
			s[i] = byte('a' + i%26)
		}
		roundTrip(t, term.String(s))
	}
}

func TestUTF8AtomWithAstralCodepoint(t *testing.T) {
	roundTrip(t, term.NewAtom(string(rune(0x1F600))))
}

func TestTupleOfMixedTypes(t *testing.T) {
	pid := term.Pid{Node: "a", Id: 1, Serial: 0, Creation: 0}
	tup := term.Tuple{pid, term.String("ok")}

	encoded, err := Encode(tup)
	if err != nil {
		t.Fatal(err)
	}
	if encoded[0] != tagVersion || encoded[1] != tagSmallTuple || encoded[2] != 2 {
		t.Fatalf("unexpected tuple header: % x", encoded[:3])
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	dt, ok := decoded.(term.Tuple)
	if !ok || len(dt) != 2 {
		t.Fatalf("decoded %#v, want 2-tuple", decoded)
	}
	dp, ok := dt[0].(term.Pid)
	if !ok || dp.Node != "a" || dp.Id != 1 || dp.Serial != 0 || dp.Creation != 0 {
		t.Fatalf("decoded pid %#v", dt[0])
	}
	ds, ok := dt[1].(term.String)
	if !ok || string(ds) != "ok" {
		t.Fatalf("decoded string %#v", dt[1])
	}
}

func TestBitStringPadBitsRejectedOnDecode(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(tagVersion)
	buf.WriteByte(tagBitBinary)
	writeUint32(&buf, 1)
	buf.WriteByte(5) // pad_bits=5 -> the low 5 bits of the final byte must be zero
	buf.WriteByte(0xFF)

	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatal("expected decode error for non-zero padding bits")
	}
}

func TestMapRoundTrip(t *testing.T) {
	m := term.NewMap()
	m.Put(term.Atom("a"), term.NewInteger(1))
	m.Put(term.String("k"), term.NewAtom("v"))
	roundTrip(t, m)
}

func TestListRoundTripProperAndImproper(t *testing.T) {
	proper := term.NewList(term.NewInteger(1), term.NewInteger(2), term.Atom("x"))
	roundTrip(t, proper)

	improper := term.NewImproperList(term.NewInteger(99), term.NewInteger(1), term.NewInteger(2))
	roundTrip(t, improper)
}

func TestCompressedTermRoundTrip(t *testing.T) {
	elements := make([]term.Term, 200)
	for i := range elements {
		elements[i] = term.NewInteger(int64(i))
	}
	v := term.NewList(elements...)

	encoded, err := EncodeCompressed(v)
	if err != nil {
		t.Fatal(err)
	}
	if encoded[1] != tagCompressed {
		t.Fatalf("expected compressed envelope, got tag %d", encoded[1])
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(decoded) {
		t.Fatal("compressed round-trip mismatch")
	}
}

func TestDecodeIntegerListsAsStrings(t *testing.T) {
	list := term.NewList(term.NewInteger('h'), term.NewInteger('i'))
	encoded, err := Encode(list)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeOptions(encoded, Options{DecodeIntegerListsAsStrings: true})
	if err != nil {
		t.Fatal(err)
	}
	s, ok := decoded.(term.String)
	if !ok || string(s) != "hi" {
		t.Fatalf("expected String(hi), got %#v", decoded)
	}
}
