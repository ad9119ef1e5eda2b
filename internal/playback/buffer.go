package playback

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/shared"
)

const (
	defaultSlots       = 1024
	defaultMaxBuffered = 30 * time.Second
)

type Config struct {
	SampleRate  int
	Slots       int
	MaxBuffered time.Duration
}

type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Underruns uint64
	Clears    uint64
}

type clearMark struct {
	tail    uint64
	samples uint64
}

// Buffer is a bounded chunk queue drained by a real-time render callback.
// Enqueue and Clear may be called from any goroutine; Render must only be
// called from the single output goroutine and never blocks or allocates.
type Buffer struct {
	slots []audio.Chunk
	mask  uint64

	sampleRate int
	maxSamples uint64

	head atomic.Uint64
	tail atomic.Uint64

	// monotonic sample totals; buffered = enqueued - consumed
	enqueued atomic.Uint64
	consumed atomic.Uint64

	mark atomic.Pointer[clearMark]

	mu sync.Mutex

	// owned by the render goroutine
	residual []int16
	resPos   int
	seenMark *clearMark

	chunksIn  atomic.Uint64
	dropped   atomic.Uint64
	underruns atomic.Uint64
	clears    atomic.Uint64
}

func NewBuffer(cfg Config) *Buffer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Slots <= 0 {
		cfg.Slots = defaultSlots
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = defaultMaxBuffered
	}
	size := 1 << bits.Len(uint(cfg.Slots-1))

	b := &Buffer{
		slots:      make([]audio.Chunk, size),
		mask:       uint64(size - 1),
		sampleRate: cfg.SampleRate,
		maxSamples: uint64(cfg.MaxBuffered.Seconds() * float64(cfg.SampleRate)),
	}
	m := &clearMark{}
	b.mark.Store(m)
	b.seenMark = m
	return b
}

func (b *Buffer) Enqueue(chunk audio.Chunk) error {
	if chunk.Empty() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tail := b.tail.Load()
	if tail-b.head.Load() >= uint64(len(b.slots)) {
		b.dropped.Add(1)
		return fmt.Errorf("enqueue chunk %d: %w", chunk.Seq(), shared.ErrBufferFull)
	}
	if b.bufferedLocked()+uint64(chunk.Len()) > b.maxSamples {
		b.dropped.Add(1)
		return fmt.Errorf("enqueue chunk %d: %w", chunk.Seq(), shared.ErrBufferFull)
	}

	b.slots[tail&b.mask] = chunk
	b.enqueued.Add(uint64(chunk.Len()))
	b.tail.Store(tail + 1)
	b.chunksIn.Add(1)
	return nil
}

// Clear drops every queued chunk and the residual. It takes effect at the
// start of the next Render.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.mark.Store(&clearMark{tail: b.tail.Load(), samples: b.enqueued.Load()})
	b.mu.Unlock()
	b.clears.Add(1)
}

// Render fills out with the next buffered samples, padding with silence when
// the queue runs dry. It returns the number of non-silent samples written.
func (b *Buffer) Render(out []float32) int {
	b.applyClear()

	n := 0
	for n < len(out) {
		if b.resPos < len(b.residual) {
			k := min(len(out)-n, len(b.residual)-b.resPos)
			audio.PCM16ToFloat(out[n:n+k], b.residual[b.resPos:b.resPos+k])
			b.resPos += k
			n += k
			continue
		}

		h := b.head.Load()
		if h == b.tail.Load() {
			break
		}
		idx := h & b.mask
		b.residual = b.slots[idx].Samples()
		b.resPos = 0
		b.slots[idx] = audio.Chunk{}
		b.head.Store(h + 1)
	}
	if b.resPos >= len(b.residual) {
		b.residual = nil
		b.resPos = 0
	}

	if n > 0 {
		b.consumed.Add(uint64(n))
	}
	if n < len(out) {
		clear(out[n:])
		if n > 0 {
			b.underruns.Add(1)
		}
	}
	return n
}

func (b *Buffer) applyClear() {
	m := b.mark.Load()
	if m == b.seenMark {
		return
	}
	b.seenMark = m

	head := b.head.Load()
	if head > m.tail {
		// the residual already belongs to a chunk queued after the clear
		return
	}
	for h := head; h < m.tail; h++ {
		b.slots[h&b.mask] = audio.Chunk{}
	}
	b.head.Store(m.tail)
	b.residual = nil
	b.resPos = 0
	if b.consumed.Load() < m.samples {
		b.consumed.Store(m.samples)
	}
}

func (b *Buffer) bufferedLocked() uint64 {
	consumed := max(b.consumed.Load(), b.mark.Load().samples)
	enqueued := b.enqueued.Load()
	if consumed >= enqueued {
		return 0
	}
	return enqueued - consumed
}

// Buffered reports samples queued or held in the residual that a pending
// Clear has not discarded.
func (b *Buffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.bufferedLocked())
}

// Len reports queued chunks, not counting the residual.
func (b *Buffer) Len() int {
	head := max(b.head.Load(), b.mark.Load().tail)
	tail := b.tail.Load()
	if head >= tail {
		return 0
	}
	return int(tail - head)
}

func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

func (b *Buffer) Capacity() int {
	return len(b.slots)
}

func (b *Buffer) Stats() Stats {
	return Stats{
		Enqueued:  b.chunksIn.Load(),
		Dropped:   b.dropped.Load(),
		Underruns: b.underruns.Load(),
		Clears:    b.clears.Load(),
	}
}
