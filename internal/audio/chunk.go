package audio

import "time"

// Chunk is an immutable span of PCM16 samples. Callers must not mutate the
// slice handed to NewChunk afterwards.
type Chunk struct {
	samples    []int16
	sampleRate int
	seq        uint64
}

func NewChunk(samples []int16, sampleRate int, seq uint64) Chunk {
	return Chunk{samples: samples, sampleRate: sampleRate, seq: seq}
}

func (c Chunk) Samples() []int16 { return c.samples }
func (c Chunk) SampleRate() int  { return c.sampleRate }
func (c Chunk) Seq() uint64      { return c.seq }
func (c Chunk) Len() int         { return len(c.samples) }
func (c Chunk) Empty() bool      { return len(c.samples) == 0 }

func (c Chunk) Duration() time.Duration {
	if c.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.samples)) * time.Second / time.Duration(c.sampleRate)
}
