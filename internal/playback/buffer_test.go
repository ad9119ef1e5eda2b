package playback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/voice-client/internal/audio"
	"github.com/eleven-am/voice-client/internal/shared"
)

// residualLen must only be called from the render goroutine.
func (b *Buffer) residualLen() int {
	return len(b.residual) - b.resPos
}

func ramp(start, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(start + i)
	}
	return s
}

func TestNewBuffer_Defaults(t *testing.T) {
	b := NewBuffer(Config{})
	if b.Capacity() != defaultSlots {
		t.Errorf("expected %d slots, got %d", defaultSlots, b.Capacity())
	}
	if b.maxSamples != 30*24000 {
		t.Errorf("expected max samples %d, got %d", 30*24000, b.maxSamples)
	}
}

func TestNewBuffer_RoundsSlotsToPowerOfTwo(t *testing.T) {
	b := NewBuffer(Config{Slots: 5})
	if b.Capacity() != 8 {
		t.Errorf("expected 8 slots, got %d", b.Capacity())
	}
}

func TestRender_UnderrunReturnsSilence(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	out := make([]float32, 512)
	for i := range out {
		out[i] = 0.5
	}

	done := make(chan int)
	go func() { done <- b.Render(out) }()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("expected 0 samples rendered, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("render blocked on empty buffer")
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d: expected silence, got %f", i, v)
		}
	}
}

func TestRender_ConcatenationMatchesInput(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	var want []float32
	pos := 0
	for i, size := range []int{100, 1, 333, 64, 2048, 7} {
		samples := ramp(pos*3-4000, size)
		pos += size
		floats := make([]float32, len(samples))
		audio.PCM16ToFloat(floats, samples)
		want = append(want, floats...)
		if err := b.Enqueue(audio.NewChunk(samples, 24000, uint64(i))); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	var got []float32
	for _, req := range []int{50, 128, 1, 999, 256, 4096} {
		out := make([]float32, req)
		n := b.Render(out)
		got = append(got, out[:n]...)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], got[i])
		}
	}
	if b.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d samples", b.Buffered())
	}
	if b.residualLen() != 0 {
		t.Errorf("expected no residual, got %d", b.residualLen())
	}
}

func TestRender_KeepsResidualAcrossCalls(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	_ = b.Enqueue(audio.NewChunk(ramp(0, 100), 24000, 0))

	out := make([]float32, 30)
	if n := b.Render(out); n != 30 {
		t.Fatalf("expected 30 samples, got %d", n)
	}
	if b.residualLen() != 70 {
		t.Errorf("expected residual 70, got %d", b.residualLen())
	}
	if b.Len() != 0 {
		t.Errorf("expected empty queue, got %d", b.Len())
	}
	if b.Buffered() != 70 {
		t.Errorf("expected 70 buffered, got %d", b.Buffered())
	}
}

func TestRender_PartialUnderrunPadsAndCounts(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	_ = b.Enqueue(audio.NewChunk([]int16{32767, 32767}, 24000, 0))

	out := make([]float32, 4)
	for i := range out {
		out[i] = 9
	}
	if n := b.Render(out); n != 2 {
		t.Fatalf("expected 2 samples, got %d", n)
	}
	if out[0] != 1 || out[1] != 1 || out[2] != 0 || out[3] != 0 {
		t.Errorf("unexpected output %v", out)
	}
	if b.Stats().Underruns != 1 {
		t.Errorf("expected 1 underrun, got %d", b.Stats().Underruns)
	}
}

func TestClear_SilencesNextRender(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	for i := 0; i < 4; i++ {
		_ = b.Enqueue(audio.NewChunk(ramp(1000, 480), 24000, uint64(i)))
	}
	out := make([]float32, 100)
	b.Render(out)
	if b.residualLen() == 0 {
		t.Fatal("expected residual before clear")
	}

	b.Clear()
	if b.Len() != 0 {
		t.Errorf("expected Len 0 after clear, got %d", b.Len())
	}
	if b.Buffered() != 0 {
		t.Errorf("expected Buffered 0 after clear, got %d", b.Buffered())
	}

	n := b.Render(out)
	if n != 0 {
		t.Errorf("expected 0 samples after clear, got %d", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d: expected silence, got %f", i, v)
		}
	}
	if b.residualLen() != 0 {
		t.Errorf("expected empty residual, got %d", b.residualLen())
	}
	if b.Stats().Clears != 1 {
		t.Errorf("expected 1 clear, got %d", b.Stats().Clears)
	}
}

func TestClear_ThenEnqueuePlaysNewAudio(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	_ = b.Enqueue(audio.NewChunk(ramp(0, 50), 24000, 0))
	b.Clear()
	_ = b.Enqueue(audio.NewChunk([]int16{32767, 32767, 32767}, 24000, 1))

	out := make([]float32, 10)
	if n := b.Render(out); n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
	if out[0] != 1 {
		t.Errorf("expected post-clear audio, got %f", out[0])
	}
}

func TestEnqueue_RejectsWhenDurationExceeded(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 1000, MaxBuffered: 100 * time.Millisecond})
	if err := b.Enqueue(audio.NewChunk(make([]int16, 80), 1000, 0)); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	err := b.Enqueue(audio.NewChunk(make([]int16, 30), 1000, 1))
	if !errors.Is(err, shared.ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 chunk queued, got %d", b.Len())
	}
	if b.Stats().Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", b.Stats().Dropped)
	}

	b.Render(make([]float32, 50))
	if err := b.Enqueue(audio.NewChunk(make([]int16, 30), 1000, 2)); err != nil {
		t.Errorf("expected room after render, got %v", err)
	}
}

func TestEnqueue_RejectsWhenSlotsFull(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000, Slots: 2})
	for i := 0; i < 2; i++ {
		if err := b.Enqueue(audio.NewChunk([]int16{1}, 24000, uint64(i))); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}
	if err := b.Enqueue(audio.NewChunk([]int16{1}, 24000, 2)); !errors.Is(err, shared.ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestEnqueue_IgnoresEmptyChunk(t *testing.T) {
	b := NewBuffer(Config{})
	if err := b.Enqueue(audio.NewChunk(nil, 24000, 0)); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("expected nothing queued, got %d", b.Len())
	}
}

func TestRender_DoesNotAllocate(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000})
	out := make([]float32, 256)
	allocs := testing.AllocsPerRun(100, func() {
		_ = b.Enqueue(audio.NewChunk(make([]int16, 300), 24000, 0))
		b.Render(out)
	})
	// the only allocation per run is the chunk slice built above
	if allocs > 1 {
		t.Errorf("expected at most 1 allocation per run, got %f", allocs)
	}
}

func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	b := NewBuffer(Config{SampleRate: 24000, Slots: 8, MaxBuffered: 50 * time.Millisecond})
	const chunks = 400
	const size = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < chunks; i++ {
			c := audio.NewChunk(ramp(i*size, size), 24000, uint64(i))
			for b.Enqueue(c) != nil {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	out := make([]float32, 64)
	total := 0
	var last float32 = -1
	deadline := time.Now().Add(5 * time.Second)
	for total < chunks*size && time.Now().Before(deadline) {
		n := b.Render(out)
		for _, v := range out[:n] {
			if v <= last {
				t.Fatalf("samples out of order: %f after %f", v, last)
			}
			last = v
			total++
		}
	}
	wg.Wait()
	if total != chunks*size {
		t.Errorf("expected %d samples, got %d", chunks*size, total)
	}
}
