package capture

import "sync"

// Microphone exposes a device ring that is written continuously by the
// audio driver.
type Microphone interface {
	Position() int
	Size() int
	SampleRate() int
	Read(dst []float32, offset int) int
}

// Ring is an in-memory Microphone fed by a device callback.
type Ring struct {
	mu         sync.Mutex
	samples    []float32
	pos        int
	sampleRate int
}

func NewRing(size, sampleRate int) *Ring {
	if size <= 0 {
		size = sampleRate
	}
	return &Ring{samples: make([]float32, size), sampleRate: sampleRate}
}

func (r *Ring) Write(in []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.samples)
	if len(in) > size {
		in = in[len(in)-size:]
	}
	n := copy(r.samples[r.pos:], in)
	if n < len(in) {
		copy(r.samples, in[n:])
	}
	r.pos = (r.pos + len(in)) % size
}

func (r *Ring) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *Ring) Size() int {
	return len(r.samples)
}

func (r *Ring) SampleRate() int {
	return r.sampleRate
}

func (r *Ring) Read(dst []float32, offset int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.samples)
	if len(dst) > size {
		dst = dst[:size]
	}
	offset %= size
	n := copy(dst, r.samples[offset:])
	if n < len(dst) {
		n += copy(dst[n:], r.samples)
	}
	return n
}
