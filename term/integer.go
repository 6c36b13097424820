package term

import (
	"math/big"
)

// Integer is an arbitrary-precision signed integer. On the wire it takes
// the smallest of small_int, int or small_big/large_big that fits; on
// decode all three collapse back into this one representation so callers
// never need to know which form was used.
type Integer struct {
	v *big.Int
}

// NewInteger wraps a platform int64.
func NewInteger(v int64) Integer {
	return Integer{v: big.NewInt(v)}
}

// NewIntegerBig wraps an arbitrary-precision value. The big.Int is not
// copied; callers must not mutate it afterwards.
func NewIntegerBig(v *big.Int) Integer {
	return Integer{v: v}
}

// Big returns the underlying arbitrary-precision value.
func (i Integer) Big() *big.Int {
	if i.v == nil {
		return big.NewInt(0)
	}
	return i.v
}

// Int64 returns the value as an int64, failing with RangeError if it does
// not fit.
func (i Integer) Int64() (int64, error) {
	b := i.Big()
	if !b.IsInt64() {
		return 0, &RangeError{Accessor: "Int64", Value: b}
	}
	return b.Int64(), nil
}

// Uint8 returns the value as a byte (small_int accessor), failing with
// RangeError if it does not fit in [0,255].
func (i Integer) Uint8() (byte, error) {
	b := i.Big()
	if b.Sign() < 0 || b.Cmp(big.NewInt(255)) > 0 {
		return 0, &RangeError{Accessor: "Uint8", Value: b}
	}
	return byte(b.Int64()), nil
}

func (i Integer) Equal(other Term) bool {
	o, ok := other.(Integer)
	return ok && i.Big().Cmp(o.Big()) == 0
}

func (i Integer) Hash() uint32 {
	return hashBytes(kindInt, i.Big().Bytes())
}

func (i Integer) String() string {
	return i.Big().String()
}

// wire-size classification used by the encoder to pick the narrowest tag.
const (
	minInt32 = -(1 << 31)
	maxInt32 = (1 << 31) - 1
)

// Representation reports which wire tag the encoder will choose for i.
type Representation int

const (
	RepSmallInt Representation = iota // fits in one unsigned byte, 0..255
	RepInt                            // fits in a signed 32-bit word
	RepBig                            // small_big / large_big
)

func (i Integer) Representation() Representation {
	b := i.Big()
	if b.Sign() >= 0 && b.Cmp(big.NewInt(255)) <= 0 {
		return RepSmallInt
	}
	if b.Cmp(big.NewInt(minInt32)) >= 0 && b.Cmp(big.NewInt(maxInt32)) <= 0 {
		return RepInt
	}
	return RepBig
}
