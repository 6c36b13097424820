package etf

import (
	"bytes"
	"math"
	"math/big"

	"github.com/armen/ergyre/term"
)

// Encode serializes t into its external representation, prefixed with the
// version tag, as the sole outermost encode entry point (spec.md §4.A).
func Encode(t term.Term) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagVersion)
	if err := encodeAny(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeAny(buf *bytes.Buffer, t term.Term) error {
	switch v := t.(type) {
	case term.Atom:
		return encodeAtom(buf, v)
	case term.Integer:
		return encodeInteger(buf, v)
	case term.Float:
		return encodeFloat(buf, v)
	case term.Binary:
		return encodeBinary(buf, v)
	case term.BitString:
		return encodeBitString(buf, v)
	case term.Pid:
		return encodePid(buf, v)
	case term.Port:
		return encodePort(buf, v)
	case term.Ref:
		return encodeRef(buf, v)
	case term.Tuple:
		return encodeTuple(buf, v)
	case term.Nil:
		buf.WriteByte(tagNil)
		return nil
	case term.List:
		return encodeList(buf, v)
	case *term.Map:
		return encodeMap(buf, v)
	case term.String:
		return encodeString(buf, v)
	case term.Fun:
		return encodeFun(buf, v)
	case term.NewFun:
		return encodeNewFun(buf, v)
	case term.ExternalFun:
		return encodeExport(buf, v)
	default:
		return newDecodeErrorf("etf: cannot encode term of type %T", t)
	}
}

// encodeAtom always emits the atom_utf8 tag (119) with a 2-byte length,
// matching spec.md §8 scenario 3's bit-exact worked example for 'hello'
// ([131,119,0,5,...]) rather than choosing a narrower tag for short or
// pure-ASCII names.
func encodeAtom(buf *bytes.Buffer, a term.Atom) error {
	b := []byte(a)
	buf.WriteByte(tagAtomUTF8)
	writeUint16(buf, uint16(len(b)))
	buf.Write(b)
	return nil
}

func encodeInteger(buf *bytes.Buffer, n term.Integer) error {
	switch n.Representation() {
	case term.RepSmallInt:
		v, _ := n.Uint8()
		buf.WriteByte(tagSmallInt)
		buf.WriteByte(v)
	case term.RepInt:
		v, _ := n.Int64()
		buf.WriteByte(tagInt)
		writeUint32(buf, uint32(int32(v)))
	default:
		b := n.Big()
		sign := byte(0)
		mag := new(big.Int).Abs(b)
		if b.Sign() < 0 {
			sign = 1
		}
		be := mag.Bytes()
		le := make([]byte, len(be))
		for i, x := range be {
			le[len(be)-1-i] = x
		}
		if len(le) <= 255 {
			buf.WriteByte(tagSmallBig)
			buf.WriteByte(byte(len(le)))
		} else {
			buf.WriteByte(tagLargeBig)
			writeUint32(buf, uint32(len(le)))
		}
		buf.WriteByte(sign)
		buf.Write(le)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f term.Float) error {
	buf.WriteByte(tagNewFloat)
	bits := math.Float64bits(float64(f))
	writeUint32(buf, uint32(bits>>32))
	writeUint32(buf, uint32(bits))
	return nil
}

func encodeBinary(buf *bytes.Buffer, b term.Binary) error {
	buf.WriteByte(tagBinary)
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
	return nil
}

func encodeBitString(buf *bytes.Buffer, b term.BitString) error {
	buf.WriteByte(tagBitBinary)
	writeUint32(buf, uint32(len(b.Data)))
	buf.WriteByte(byte(b.PadBits))
	buf.Write(b.Data)
	return nil
}

func encodePid(buf *bytes.Buffer, p term.Pid) error {
	buf.WriteByte(tagNewPid)
	if err := encodeAtom(buf, p.Node); err != nil {
		return err
	}
	writeUint32(buf, p.Id)
	writeUint32(buf, p.Serial)
	writeUint32(buf, p.Creation)
	return nil
}

func encodePort(buf *bytes.Buffer, p term.Port) error {
	buf.WriteByte(tagNewPort)
	if err := encodeAtom(buf, p.Node); err != nil {
		return err
	}
	writeUint32(buf, p.Id)
	writeUint32(buf, p.Creation)
	return nil
}

func encodeRef(buf *bytes.Buffer, r term.Ref) error {
	buf.WriteByte(tagNewerRef)
	writeUint16(buf, uint16(len(r.Ids)))
	if err := encodeAtom(buf, r.Node); err != nil {
		return err
	}
	writeUint32(buf, r.Creation)
	for _, id := range r.Ids {
		writeUint32(buf, id)
	}
	return nil
}

func encodeTuple(buf *bytes.Buffer, t term.Tuple) error {
	if len(t) <= 255 {
		buf.WriteByte(tagSmallTuple)
		buf.WriteByte(byte(len(t)))
	} else {
		buf.WriteByte(tagLargeTuple)
		writeUint32(buf, uint32(len(t)))
	}
	for _, e := range t {
		if err := encodeAny(buf, e); err != nil {
			return err
		}
	}
	return nil
}

func encodeList(buf *bytes.Buffer, l term.List) error {
	if len(l.Elements) == 0 {
		return encodeAny(buf, l.Tail)
	}
	buf.WriteByte(tagList)
	writeUint32(buf, uint32(len(l.Elements)))
	for _, e := range l.Elements {
		if err := encodeAny(buf, e); err != nil {
			return err
		}
	}
	return encodeAny(buf, l.Tail)
}

func encodeString(buf *bytes.Buffer, s term.String) error {
	if len(s) <= 65535 {
		buf.WriteByte(tagString)
		writeUint16(buf, uint16(len(s)))
		buf.Write(s)
		return nil
	}
	return encodeList(buf, s.AsList())
}

func encodeMap(buf *bytes.Buffer, m *term.Map) error {
	buf.WriteByte(tagMap)
	writeUint32(buf, uint32(m.Len()))
	var outerErr error
	m.Range(func(k, v term.Term) {
		if outerErr != nil {
			return
		}
		if err := encodeAny(buf, k); err != nil {
			outerErr = err
			return
		}
		if err := encodeAny(buf, v); err != nil {
			outerErr = err
		}
	})
	return outerErr
}

func encodeExport(buf *bytes.Buffer, f term.ExternalFun) error {
	buf.WriteByte(tagExport)
	if err := encodeAtom(buf, f.Module); err != nil {
		return err
	}
	if err := encodeAtom(buf, f.Function); err != nil {
		return err
	}
	return encodeInteger(buf, term.NewInteger(int64(f.Arity)))
}

func encodeFun(buf *bytes.Buffer, f term.Fun) error {
	buf.WriteByte(tagFun)
	writeUint32(buf, uint32(len(f.Free)))
	if err := encodePid(buf, f.Pid); err != nil {
		return err
	}
	if err := encodeAtom(buf, f.Module); err != nil {
		return err
	}
	if err := encodeInteger(buf, term.NewInteger(int64(f.Index))); err != nil {
		return err
	}
	if err := encodeInteger(buf, term.NewInteger(int64(f.Uniq))); err != nil {
		return err
	}
	for _, fv := range f.Free {
		if err := encodeAny(buf, fv); err != nil {
			return err
		}
	}
	return nil
}

func encodeNewFun(buf *bytes.Buffer, f term.NewFun) error {
	var body bytes.Buffer
	body.WriteByte(f.Arity)
	body.Write(f.Uniq[:])
	writeUint32(&body, uint32(f.Index))
	writeUint32(&body, uint32(len(f.Free)))
	if err := encodeAtom(&body, f.Module); err != nil {
		return err
	}
	if err := encodeInteger(&body, term.NewInteger(int64(f.OldIndex))); err != nil {
		return err
	}
	if err := encodeInteger(&body, term.NewInteger(int64(f.OldUniq))); err != nil {
		return err
	}
	if err := encodePid(&body, f.Pid); err != nil {
		return err
	}
	for _, fv := range f.Free {
		if err := encodeAny(&body, fv); err != nil {
			return err
		}
	}

	buf.WriteByte(tagNewFun)
	writeUint32(buf, uint32(body.Len()+4))
	buf.Write(body.Bytes())
	return nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}
