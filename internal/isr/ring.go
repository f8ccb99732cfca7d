package isr

import "sync/atomic"

// Ring is a single-producer/single-consumer byte ring, the UART-RX-buffer
// analog. Exactly ONE goroutine may call the producer side (Put, Write)
// and exactly one the consumer side (Get, Read); the two sides need no
// further coordination.
//
// head and tail are free-running indexes reduced by mask on access. The
// producer writes the slot before publishing tail, the consumer reads the
// slot before publishing head; sync/atomic's ordering guarantees make the
// slot access visible to the other side.
type Ring struct {
	buf  []byte
	mask uint32

	head    atomic.Uint32 // consumer position
	tail    atomic.Uint32 // producer position
	dropped atomic.Uint64
}

const minRingCapacity = 8

// NewRing builds a ring holding at least capacity bytes, rounded up to a
// power of two.
func NewRing(capacity int) *Ring {
	n := minRingCapacity
	for n < capacity {
		n <<= 1
	}
	return &Ring{buf: make([]byte, n), mask: uint32(n - 1)}
}

// Put appends one byte. On a full ring the byte is dropped, counted, and
// Put returns false. Producer side only.
func (r *Ring) Put(b byte) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint32(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail&r.mask] = b
	r.tail.Store(tail + 1)
	return true
}

// Write appends as many bytes of p as fit and returns how many made it.
// Producer side only.
func (r *Ring) Write(p []byte) int {
	n := 0
	for _, b := range p {
		if !r.Put(b) {
			break
		}
		n++
	}
	if n < len(p) {
		// Put counted the byte it rejected; count the unattempted rest too.
		r.dropped.Add(uint64(len(p) - n - 1))
	}
	return n
}

// Get removes and returns one byte. Consumer side only.
func (r *Ring) Get() (byte, bool) {
	head := r.head.Load()
	if r.tail.Load() == head {
		return 0, false
	}
	b := r.buf[head&r.mask]
	r.head.Store(head + 1)
	return b, true
}

// Read fills p with up to len(p) buffered bytes. Consumer side only.
func (r *Ring) Read(p []byte) int {
	n := 0
	for n < len(p) {
		b, ok := r.Get()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n
}

// Len reports the buffered byte count. Callable from either side; the
// answer is conservative for the caller (never over-reports to the
// consumer, never under-reports to the producer).
func (r *Ring) Len() int { return int(r.tail.Load() - r.head.Load()) }

// Cap reports the ring's capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Dropped reports bytes rejected because the ring was full.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }
