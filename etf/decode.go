package etf

import (
	"fmt"
	"math"
	"math/big"

	"github.com/armen/ergyre/term"
)

// Options tune decode behavior.
type Options struct {
	// DecodeIntegerListsAsStrings, when set, reinterprets every decoded
	// proper list whose elements are all integers in 0..255 as a
	// term.String. Lists holding any larger codepoint (up to 0x10FFFF)
	// or any non-integer element stay plain lists.
	DecodeIntegerListsAsStrings bool
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) byte() (byte, error) {
	if c.remaining() < 1 {
		return 0, newDecodeError("truncated input reading a byte")
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, newDecodeError("truncated input reading bytes")
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) uint16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (c *cursor) int32() (int32, error) {
	u, err := c.uint32()
	return int32(u), err
}

// Decode reads exactly one term from data, skipping a single leading
// version tag (0x83) if present, as the outermost entry point described
// in spec.md §4.A.
func Decode(data []byte) (term.Term, error) {
	return DecodeOptions(data, Options{})
}

// DecodeOptions is Decode with explicit decode options.
func DecodeOptions(data []byte, opts Options) (term.Term, error) {
	c := &cursor{buf: data}
	t, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DecodeAll reads every term back to back from data, used for a
// distribution packet that carries a control tuple followed by its
// message payload. A version tag ahead of any term is skipped, so the
// payload may or may not carry its own.
func DecodeAll(data []byte) ([]term.Term, error) {
	c := &cursor{buf: data}
	var out []term.Term
	for c.remaining() > 0 {
		t, err := decodeAny(c, Options{})
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// decodeAny reads one term, skipping a leading version tag idempotently
// (it may or may not be present at this recursion depth).
func decodeAny(c *cursor, opts Options) (term.Term, error) {
	if c.remaining() == 0 {
		return nil, newDecodeError("truncated input reading a tag")
	}
	if c.buf[c.pos] == tagVersion {
		c.pos++
	}
	tag, err := c.byte()
	if err != nil {
		return nil, err
	}
	return decodeTag(c, tag, opts)
}

func decodeTag(c *cursor, tag byte, opts Options) (term.Term, error) {
	switch tag {
	case tagCompressed:
		return decodeCompressed(c, opts)
	case tagAtomCacheRef:
		if _, err := c.byte(); err != nil {
			return nil, err
		}
		return term.NewAtom(""), nil
	case tagSmallInt:
		b, err := c.byte()
		if err != nil {
			return nil, err
		}
		return term.NewInteger(int64(b)), nil
	case tagInt:
		v, err := c.int32()
		if err != nil {
			return nil, err
		}
		return term.NewInteger(int64(v)), nil
	case tagFloat:
		return decodeOldFloat(c)
	case tagNewFloat:
		return decodeNewFloat(c)
	case tagAtom:
		return decodeLatin1Atom(c, 2)
	case tagSmallAtomLatin1:
		return decodeLatin1Atom(c, 1)
	case tagAtomUTF8:
		return decodeUTF8Atom(c, 2)
	case tagAtomUTF8Small:
		return decodeUTF8Atom(c, 1)
	case tagRefOld:
		return decodeRefOld(c)
	case tagNewRef:
		return decodeNewRef(c, false)
	case tagNewerRef:
		return decodeNewRef(c, true)
	case tagPortOld:
		return decodePortOld(c)
	case tagNewPort:
		return decodeNewPort(c)
	case tagPidOld:
		return decodePidOld(c)
	case tagNewPid:
		return decodeNewPid(c)
	case tagSmallTuple:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		return decodeTuple(c, int(n), opts)
	case tagLargeTuple:
		n, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return decodeTuple(c, int(n), opts)
	case tagNil:
		return term.EmptyList, nil
	case tagString:
		n, err := c.uint16()
		if err != nil {
			return nil, err
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return term.String(append([]byte(nil), b...)), nil
	case tagList:
		return decodeList(c, opts)
	case tagBinary:
		n, err := c.uint32()
		if err != nil {
			return nil, err
		}
		b, err := c.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return term.Binary(append([]byte(nil), b...)), nil
	case tagBitBinary:
		return decodeBitBinary(c)
	case tagSmallBig:
		n, err := c.byte()
		if err != nil {
			return nil, err
		}
		return decodeBig(c, int(n))
	case tagLargeBig:
		n, err := c.uint32()
		if err != nil {
			return nil, err
		}
		return decodeBig(c, int(n))
	case tagMap:
		return decodeMap(c, opts)
	case tagExport:
		return decodeExport(c)
	case tagFun:
		return decodeFun(c, opts)
	case tagNewFun:
		return decodeNewFun(c, opts)
	default:
		return nil, newDecodeErrorf("unknown tag %d", tag)
	}
}

func decodeOldFloat(c *cursor) (term.Term, error) {
	b, err := c.bytes(31)
	if err != nil {
		return nil, err
	}
	s := string(b)
	for i, ch := range s {
		if ch == 0 {
			s = s[:i]
			break
		}
	}
	var f float64
	if _, err := fmt.Sscan(s, &f); err != nil {
		return nil, newDecodeErrorf("malformed legacy float %q: %v", s, err)
	}
	return term.Float(f), nil
}

func decodeNewFloat(c *cursor) (term.Term, error) {
	bits, err := c.uint32()
	if err != nil {
		return nil, err
	}
	lo, err := c.uint32()
	if err != nil {
		return nil, err
	}
	u := uint64(bits)<<32 | uint64(lo)
	return term.Float(math.Float64frombits(u)), nil
}

func decodeLatin1Atom(c *cursor, lenBytes int) (term.Term, error) {
	n, err := readLen(c, lenBytes)
	if err != nil {
		return nil, err
	}
	b, err := c.bytes(n)
	if err != nil {
		return nil, err
	}
	r := make([]rune, len(b))
	for i, x := range b {
		r[i] = rune(x)
	}
	return term.NewAtom(string(r)), nil
}

func decodeUTF8Atom(c *cursor, lenBytes int) (term.Term, error) {
	n, err := readLen(c, lenBytes)
	if err != nil {
		return nil, err
	}
	b, err := c.bytes(n)
	if err != nil {
		return nil, err
	}
	return term.NewAtom(string(b)), nil
}

func readLen(c *cursor, lenBytes int) (int, error) {
	if lenBytes == 1 {
		b, err := c.byte()
		return int(b), err
	}
	n, err := c.uint16()
	return int(n), err
}

func decodeAtomName(c *cursor) (term.Atom, error) {
	t, err := decodeAny(c, Options{})
	if err != nil {
		return "", err
	}
	a, ok := t.(term.Atom)
	if !ok {
		return "", newDecodeError("expected atom for node name")
	}
	return a, nil
}

func decodePidOld(c *cursor) (term.Term, error) {
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	id, err := c.uint32()
	if err != nil {
		return nil, err
	}
	serial, err := c.uint32()
	if err != nil {
		return nil, err
	}
	creation, err := c.byte()
	if err != nil {
		return nil, err
	}
	return term.Pid{Node: node, Id: id & 0x7FFF, Serial: serial & 0x1FFF, Creation: uint32(creation) & 0x3}, nil
}

func decodeNewPid(c *cursor) (term.Term, error) {
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	id, err := c.uint32()
	if err != nil {
		return nil, err
	}
	serial, err := c.uint32()
	if err != nil {
		return nil, err
	}
	creation, err := c.uint32()
	if err != nil {
		return nil, err
	}
	return term.Pid{Node: node, Id: id, Serial: serial, Creation: creation}, nil
}

func decodePortOld(c *cursor) (term.Term, error) {
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	id, err := c.uint32()
	if err != nil {
		return nil, err
	}
	creation, err := c.byte()
	if err != nil {
		return nil, err
	}
	return term.Port{Node: node, Id: id & 0xFFFFFFF, Creation: uint32(creation) & 0x3}, nil
}

func decodeNewPort(c *cursor) (term.Term, error) {
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	id, err := c.uint32()
	if err != nil {
		return nil, err
	}
	creation, err := c.uint32()
	if err != nil {
		return nil, err
	}
	return term.Port{Node: node, Id: id, Creation: creation}, nil
}

func decodeRefOld(c *cursor) (term.Term, error) {
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	id, err := c.uint32()
	if err != nil {
		return nil, err
	}
	creation, err := c.byte()
	if err != nil {
		return nil, err
	}
	return term.Ref{Node: node, Ids: []uint32{id & 0x3FFFF}, Creation: uint32(creation) & 0x3}, nil
}

func decodeNewRef(c *cursor, newerCreation bool) (term.Term, error) {
	arity, err := c.uint16()
	if err != nil {
		return nil, err
	}
	node, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	var creation uint32
	if newerCreation {
		creation, err = c.uint32()
	} else {
		var b byte
		b, err = c.byte()
		creation = uint32(b)
	}
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, arity)
	for i := range ids {
		ids[i], err = c.uint32()
		if err != nil {
			return nil, err
		}
	}
	if len(ids) > 0 && !newerCreation {
		ids[0] &= 0x3FFFF
	}
	return term.Ref{Node: node, Ids: ids, Creation: creation}, nil
}

func decodeTuple(c *cursor, arity int, opts Options) (term.Term, error) {
	elems := make([]term.Term, arity)
	for i := range elems {
		e, err := decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
		elems[i] = e
	}
	return term.Tuple(elems), nil
}

func decodeList(c *cursor, opts Options) (term.Term, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	elems := make([]term.Term, n)
	for i := range elems {
		e, err := decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
		elems[i] = e
	}
	tail, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	l := term.List{Elements: elems, Tail: tail}

	if opts.DecodeIntegerListsAsStrings {
		if s, ok := tryAsString(l); ok {
			return s, nil
		}
	}
	return l, nil
}

func tryAsString(l term.List) (term.String, bool) {
	if !l.Proper() {
		return nil, false
	}
	out := make([]byte, 0, len(l.Elements))
	for _, e := range l.Elements {
		n, ok := e.(term.Integer)
		if !ok {
			return nil, false
		}
		v, err := n.Int64()
		if err != nil || v < 0 || v > 0x10FFFF {
			return nil, false
		}
		if v > 0xFF {
			return nil, false
		}
		out = append(out, byte(v))
	}
	return term.String(out), true
}

func decodeBig(c *cursor, arity int) (term.Term, error) {
	sign, err := c.byte()
	if err != nil {
		return nil, err
	}
	mag, err := c.bytes(arity)
	if err != nil {
		return nil, err
	}
	// Magnitude is little-endian on the wire; big.Int wants big-endian.
	be := make([]byte, len(mag))
	for i, b := range mag {
		be[len(mag)-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if sign != 0 {
		v.Neg(v)
	}
	return term.NewIntegerBig(v), nil
}

func decodeBitBinary(c *cursor) (term.Term, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	padBits, err := c.byte()
	if err != nil {
		return nil, err
	}
	if padBits > 7 {
		return nil, newDecodeError("bit string pad_bits out of range [0,7]")
	}
	data, err := c.bytes(int(n))
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		mask := byte(0xFF << padBits)
		if data[len(data)-1]&^mask != 0 {
			return nil, newDecodeError("bit string has non-zero padding bits")
		}
	}
	return term.BitString{Data: append([]byte(nil), data...), PadBits: padBits}, nil
}

func decodeMap(c *cursor, opts Options) (term.Term, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	m := term.NewMap()
	for i := uint32(0); i < n; i++ {
		k, err := decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
		v, err := decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
		m.Put(k, v)
	}
	return m, nil
}

func decodeExport(c *cursor) (term.Term, error) {
	mod, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	fun, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	arityTerm, err := decodeAny(c, Options{})
	if err != nil {
		return nil, err
	}
	n, ok := arityTerm.(term.Integer)
	if !ok {
		return nil, newDecodeError("export arity must be an integer")
	}
	arity, err := n.Uint8()
	if err != nil {
		return nil, newDecodeErrorf("export arity out of range: %v", err)
	}
	return term.ExternalFun{Module: mod, Function: fun, Arity: arity}, nil
}

func decodeFun(c *cursor, opts Options) (term.Term, error) {
	nFree, err := c.uint32()
	if err != nil {
		return nil, err
	}
	pidTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	pid, ok := pidTerm.(term.Pid)
	if !ok {
		return nil, newDecodeError("fun creator must be a pid")
	}
	mod, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	indexTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	uniqTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	index, _ := indexTerm.(term.Integer)
	uniq, _ := uniqTerm.(term.Integer)
	iv, _ := index.Int64()
	uv, _ := uniq.Int64()

	free := make([]term.Term, nFree)
	for i := range free {
		free[i], err = decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
	}
	return term.Fun{Pid: pid, Module: mod, Index: int32(iv), Uniq: int32(uv), Free: free}, nil
}

func decodeNewFun(c *cursor, opts Options) (term.Term, error) {
	_, err := c.uint32() // size, informational only
	if err != nil {
		return nil, err
	}
	arity, err := c.byte()
	if err != nil {
		return nil, err
	}
	uniqBytes, err := c.bytes(16)
	if err != nil {
		return nil, err
	}
	index, err := c.int32()
	if err != nil {
		return nil, err
	}
	nFree, err := c.uint32()
	if err != nil {
		return nil, err
	}
	mod, err := decodeAtomName(c)
	if err != nil {
		return nil, err
	}
	oldIndexTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	oldUniqTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	pidTerm, err := decodeAny(c, opts)
	if err != nil {
		return nil, err
	}
	pid, ok := pidTerm.(term.Pid)
	if !ok {
		return nil, newDecodeError("new_fun creator must be a pid")
	}
	oldIndex, _ := oldIndexTerm.(term.Integer)
	oldUniq, _ := oldUniqTerm.(term.Integer)
	oi, _ := oldIndex.Int64()
	ou, _ := oldUniq.Int64()

	free := make([]term.Term, nFree)
	for i := range free {
		free[i], err = decodeAny(c, opts)
		if err != nil {
			return nil, err
		}
	}
	var uniq [16]byte
	copy(uniq[:], uniqBytes)
	return term.NewFun{
		Arity:    arity,
		Uniq:     uniq,
		Index:    index,
		Module:   mod,
		OldIndex: int32(oi),
		OldUniq:  int32(ou),
		Pid:      pid,
		Free:     free,
	}, nil
}
