package store

// ring is a fixed-capacity FIFO of float32 scalars. Writes past capacity
// overwrite the oldest values.
type ring struct {
	buf  []float32
	head int // index of the oldest value
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float32, capacity)}
}

func (r *ring) len() int { return r.size }
func (r *ring) cap() int { return len(r.buf) }

// drop removes the n oldest values.
func (r *ring) drop(n int) {
	if n >= r.size {
		r.head, r.size = 0, 0
		return
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
}

// push appends vals, evicting the oldest values as needed. Only the newest
// cap() values of vals are kept when vals alone exceeds capacity.
func (r *ring) push(vals []float32) {
	c := len(r.buf)
	if c == 0 || len(vals) == 0 {
		return
	}
	if len(vals) >= c {
		copy(r.buf, vals[len(vals)-c:])
		r.head, r.size = 0, c
		return
	}
	if over := r.size + len(vals) - c; over > 0 {
		r.drop(over)
	}
	tail := (r.head + r.size) % c
	n := copy(r.buf[tail:], vals)
	copy(r.buf, vals[n:])
	r.size += len(vals)
}

// fill appends n copies of a repeating pattern.
func (r *ring) fill(pattern []float32, n int) {
	if n <= 0 || len(pattern) == 0 {
		return
	}
	vals := make([]float32, 0, n*len(pattern))
	for i := 0; i < n; i++ {
		vals = append(vals, pattern...)
	}
	r.push(vals)
}

// copyTo writes the contents in arrival order into dst, which must hold len().
func (r *ring) copyTo(dst []float32) {
	if r.size == 0 {
		return
	}
	end := r.head + r.size
	if end <= len(r.buf) {
		copy(dst, r.buf[r.head:end])
		return
	}
	n := copy(dst, r.buf[r.head:])
	copy(dst[n:], r.buf[:end-len(r.buf)])
}

func (r *ring) reset() {
	r.head, r.size = 0, 0
}
