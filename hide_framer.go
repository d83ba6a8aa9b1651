package s4pp

import (
	"bytes"
	"crypto/cipher"
	"io"
)

// HideEncoder is the client-side confidentiality layer for HIDE-activated
// sessions (spec.md §3, HIDE state). It wraps a chained CBC BlockMode and
// presents the same "write one line at a time" interface the rest of the
// client engine already uses, so activating HIDE mid-connection changes
// nothing above this layer.
//
// Flush (forced padding with LF bytes up to the next block boundary) must
// only ever be called at a sequence boundary: right after emitting a SIG
// line, once immediately after activation for the salt line, or while
// genuinely idle between sequences. Calling it mid-sequence would desync
// the two sides' HMAC tap, since the padding bytes are real bytes on the
// wire that the peer's line framer will see but the sender's HMAC tap
// never fed.
type HideEncoder struct {
	enc     cipher.BlockMode
	out     io.Writer
	pending []byte
}

// NewHideEncoder builds an encoder from an already-negotiated cipher and
// session key, writing encrypted blocks to out.
func NewHideEncoder(spec CipherSpec, sessionKey []byte, out io.Writer) (*HideEncoder, error) {
	enc, err := newCBCEncrypter(spec, sessionKey)
	if err != nil {
		return nil, err
	}
	return &HideEncoder{enc: enc, out: out}, nil
}

// WriteLine appends line and its terminating LF to the pending buffer and
// drains every complete block. A partial block (less than one block size)
// always remains buffered until the next WriteLine or an explicit Flush.
func (e *HideEncoder) WriteLine(line []byte) error {
	e.pending = append(e.pending, line...)
	e.pending = append(e.pending, '\n')
	return e.drainBlocks()
}

func (e *HideEncoder) drainBlocks() error {
	bs := e.enc.BlockSize()
	for len(e.pending) >= bs {
		block := e.pending[:bs]
		ct := make([]byte, bs)
		e.enc.CryptBlocks(ct, block)
		if _, err := e.out.Write(ct); err != nil {
			return err
		}
		e.pending = e.pending[bs:]
	}
	return nil
}

// Flush pads the remaining partial block with LF bytes and emits it. It is
// a no-op if no bytes are pending. See the boundary discipline documented
// on HideEncoder.
func (e *HideEncoder) Flush() error {
	if len(e.pending) == 0 {
		return nil
	}
	bs := e.enc.BlockSize()
	for len(e.pending)%bs != 0 {
		e.pending = append(e.pending, '\n')
	}
	return e.drainBlocks()
}

// HideDecoder is the server-side counterpart. It reuses the exact
// *bufio.Reader the LineFramer was reading from, so switching a connection
// over to HIDE mid-stream requires no buffer hand-off: the LineFramer
// simply stops being consulted and this decoder takes over the same
// underlying reader for raw, block-sized reads.
//
// Padding LF bytes surface to the caller as blank decoded lines. The
// sequence state machine already tolerates blank lines encountered between
// sequences (spec.md §4.4 idle state), which is exactly where Flush's
// padding can appear, so no special-casing is needed here.
type HideDecoder struct {
	dec    cipher.BlockMode
	in     io.Reader
	buf    []byte // decrypted bytes not yet consumed into a line
	blockN []byte // scratch ciphertext block
}

// NewHideDecoder builds a decoder from an already-negotiated cipher and
// session key, reading ciphertext blocks from in.
func NewHideDecoder(spec CipherSpec, sessionKey []byte, in io.Reader) (*HideDecoder, error) {
	dec, err := newCBCDecrypter(spec, sessionKey)
	if err != nil {
		return nil, err
	}
	return &HideDecoder{dec: dec, in: in, blockN: make([]byte, spec.BlockSize)}, nil
}

// ReadLine returns the next LF-delimited line from the decrypted stream,
// reading and decrypting additional ciphertext blocks as needed.
func (d *HideDecoder) ReadLine() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(d.buf, '\n'); idx >= 0 {
			line := d.buf[:idx]
			d.buf = d.buf[idx+1:]
			out := make([]byte, len(line))
			copy(out, line)
			return out, nil
		}
		if err := d.readBlock(); err != nil {
			return nil, err
		}
	}
}

func (d *HideDecoder) readBlock() error {
	if _, err := io.ReadFull(d.in, d.blockN); err != nil {
		return err
	}
	pt := make([]byte, len(d.blockN))
	d.dec.CryptBlocks(pt, d.blockN)
	d.buf = append(d.buf, pt...)
	return nil
}
