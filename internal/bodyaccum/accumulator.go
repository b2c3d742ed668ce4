// Package bodyaccum implements the per-request streaming body buffer: a
// bounded head prefix plus a rolling tail window, so bodies larger than the
// configured memory budget can still be scanned without a trivial
// pad-then-append bypass.
package bodyaccum

// Accumulator is exclusively owned by one request from init-request through
// release-request; it is never shared across goroutines.
type Accumulator struct {
	headMax int
	tailMax int

	head  []byte
	tail  []byte
	total int64

	host string
}

// New constructs an Accumulator with the given head and tail capacities. A
// tailMax of 0 disables the tail buffer (used by the OTT service, which only
// ever scans the head).
func New(headMax, tailMax int) *Accumulator {
	return &Accumulator{
		headMax: headMax,
		tailMax: tailMax,
		head:    make([]byte, 0, min(headMax, 64*1024)),
	}
}

// SetHost records the request's Host header for later matching.
func (a *Accumulator) SetHost(host string) { a.host = host }

// Host returns the request's Host header.
func (a *Accumulator) Host() string { return a.host }

// HeadMax returns the configured head capacity.
func (a *Accumulator) HeadMax() int { return a.headMax }

// TailMax returns the configured tail capacity.
func (a *Accumulator) TailMax() int { return a.tailMax }

// Total returns the cumulative number of body bytes observed so far,
// including bytes that were dropped from the tail's sliding window.
func (a *Accumulator) Total() int64 { return a.total }

// Head returns the first min(Total(), HeadMax()) bytes observed.
func (a *Accumulator) Head() []byte { return a.head }

// Tail returns the final min(max(Total()-HeadMax(),0), TailMax()) bytes
// observed — empty until Total() exceeds HeadMax().
func (a *Accumulator) Tail() []byte { return a.tail }

// Write appends an incoming chunk, as delivered by the preview or io
// callbacks, following the streaming contract: bytes fill the head up to
// headMax, then overflow into a drop-oldest tail window bounded at tailMax.
func (a *Accumulator) Write(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	a.total += int64(n)

	if len(a.head) < a.headMax {
		remaining := a.headMax - len(a.head)
		if n <= remaining {
			a.head = append(a.head, p...)
			return
		}
		a.head = append(a.head, p[:remaining]...)
		p = p[remaining:]
	}
	a.appendTail(p)
}

// appendTail maintains a bounded sliding window whose last-byte boundary
// always aligns with the last byte ever received — not a classical ring
// buffer. A single incoming slice at least tailMax long replaces the window
// outright with its own final tailMax bytes (spec §4.1 edge case: earlier
// tail content is discarded).
func (a *Accumulator) appendTail(p []byte) {
	if len(p) == 0 || a.tailMax == 0 {
		return
	}
	if len(p) >= a.tailMax {
		a.tail = append(a.tail[:0], p[len(p)-a.tailMax:]...)
		return
	}

	keep := a.tailMax - len(p)
	if keep > len(a.tail) {
		keep = len(a.tail)
	}
	start := len(a.tail) - keep

	merged := make([]byte, 0, keep+len(p))
	merged = append(merged, a.tail[start:]...)
	merged = append(merged, p...)
	a.tail = merged
}

// ScanHead returns the head buffer with a trailing NUL appended, matching
// the legacy null-terminator scan convention named in spec §4.4 step 1. The
// returned slice is a fresh copy; callers must not retain the original head
// slice's backing array assumption across further Write calls.
func (a *Accumulator) ScanHead() []byte {
	out := make([]byte, len(a.head)+1)
	copy(out, a.head)
	return out
}

// HasOverflowed reports whether total body size exceeded headMax, meaning a
// tail buffer (if configured) is relevant to the scan.
func (a *Accumulator) HasOverflowed() bool {
	return a.total > int64(a.headMax)
}
