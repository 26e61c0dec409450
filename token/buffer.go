package token

import "sync"

// envelopePool reuses plaintext buffers between encode calls. An LTPA
// envelope with a 1024-bit signature is a few hundred bytes.
var envelopePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 512)
		return &b
	},
}

// plainBuffer holds token plaintext (fields and envelope) for one encode call.
type plainBuffer struct {
	ptr *[]byte
	buf []byte
}

func acquirePlainBuffer() *plainBuffer {
	ptr := envelopePool.Get().(*[]byte)
	return &plainBuffer{ptr: ptr, buf: (*ptr)[:0]}
}

func (p *plainBuffer) Bytes() []byte { return p.buf }

// Release zeros the plaintext and returns the buffer to the pool.
func (p *plainBuffer) Release() {
	if p == nil || p.ptr == nil {
		return
	}
	wipe(p.buf)
	*p.ptr = p.buf[:0]
	envelopePool.Put(p.ptr)
	p.ptr = nil
	p.buf = nil
}

// wipe zeros b in place.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
