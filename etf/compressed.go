package etf

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/armen/ergyre/term"
)

func decodeCompressed(c *cursor, opts Options) (term.Term, error) {
	uncompressedSize, err := c.uint32()
	if err != nil {
		return nil, err
	}
	rest := c.buf[c.pos:]
	r := flate.NewReader(bytes.NewReader(rest))
	defer r.Close()

	out := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, newDecodeErrorf("compressed term: inflate failed: %v", err)
	}
	if uint32(n) != uncompressedSize {
		return nil, newDecodeError("compressed term: uncompressed size mismatch")
	}
	// Confirm the stream doesn't carry more than advertised.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		return nil, newDecodeError("compressed term: uncompressed size mismatch")
	}

	inner := &cursor{buf: out}
	t, err := decodeAny(inner, opts)
	if err != nil {
		return nil, err
	}
	c.pos = len(c.buf) // compressed payload always runs to the end of input
	return t, nil
}

// encodeCompressed wraps body (an already-encoded, tag-included term) in
// the compressed-term envelope, used only when the caller explicitly
// opts in via EncodeCompressed.
func encodeCompressed(body []byte) ([]byte, error) {
	var deflated bytes.Buffer
	w, err := flate.NewWriter(&deflated, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteByte(tagCompressed)
	writeUint32(&out, uint32(len(body)))
	out.Write(deflated.Bytes())
	return out.Bytes(), nil
}

// EncodeCompressed encodes t the same way Encode does, but wraps the
// result in a compressed-term envelope whenever the uncompressed encoding
// is at least 5 bytes. It does not compare sizes: the envelope is used
// even when it comes out larger than the plain encoding.
func EncodeCompressed(t term.Term) ([]byte, error) {
	var plain bytes.Buffer
	if err := encodeAny(&plain, t); err != nil {
		return nil, err
	}
	if plain.Len() < 5 {
		out := make([]byte, 0, plain.Len()+1)
		out = append(out, tagVersion)
		out = append(out, plain.Bytes()...)
		return out, nil
	}
	compressed, err := encodeCompressed(plain.Bytes())
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(compressed)+1)
	out = append(out, tagVersion)
	out = append(out, compressed...)
	return out, nil
}
