package term

import "fmt"

// Binary is an Erlang binary: an opaque byte sequence of length up to
// 2^32-1.
type Binary []byte

func (b Binary) Equal(other Term) bool {
	o, ok := other.(Binary)
	if !ok || len(b) != len(o) {
		return false
	}
	for i := range b {
		if b[i] != o[i] {
			return false
		}
	}
	return true
}

func (b Binary) Hash() uint32 {
	return hashBytes(kindBinary, b)
}

func (b Binary) String() string {
	return fmt.Sprintf("<<%d bytes>>", len(b))
}

// BitString is a binary plus a count of trailing pad bits in [0,7]. The
// pad bits of the final byte must be zero; NewBitString enforces this by
// masking them off rather than trusting the caller.
type BitString struct {
	Data    []byte
	PadBits uint8
}

// NewBitString masks the trailing PadBits low bits of the final byte to
// zero, per spec: "trailing pad bits must be zero on the wire."
func NewBitString(data []byte, padBits uint8) BitString {
	bs := BitString{Data: append([]byte(nil), data...), PadBits: padBits & 0x7}
	if bs.PadBits > 0 && len(bs.Data) > 0 {
		mask := byte(0xFF << bs.PadBits)
		bs.Data[len(bs.Data)-1] &= mask
	}
	return bs
}

// SizeBits returns the number of significant bits carried by the string.
func (b BitString) SizeBits() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data)*8 - int(b.PadBits)
}

func (b BitString) Equal(other Term) bool {
	o, ok := other.(BitString)
	if !ok || b.PadBits != o.PadBits || len(b.Data) != len(o.Data) {
		return false
	}
	for i := range b.Data {
		if b.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

func (b BitString) Hash() uint32 {
	h := hashBytes(kindBitstr, b.Data)
	return jenkinsFinish(jenkinsMix(h, b.PadBits))
}

func (b BitString) String() string {
	return fmt.Sprintf("<<%d bits>>", b.SizeBits())
}
