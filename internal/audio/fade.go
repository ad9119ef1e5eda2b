package audio

import "math"

const (
	MinFadeChunk   = 32
	minFadeSamples = 8
	maxFadeSamples = 2000
)

// FadeSamples returns the ramp length for a chunk of n samples, or 0 when
// the chunk must be left untouched.
func FadeSamples(n int, fadeSec float64, sampleRate int) int {
	if n < MinFadeChunk || fadeSec <= 0 || sampleRate <= 0 {
		return 0
	}
	f := int(math.Round(fadeSec * float64(sampleRate)))
	upper := min(maxFadeSamples, n/4)
	if f > upper {
		f = upper
	}
	if f < minFadeSamples {
		f = minFadeSamples
	}
	return f
}

// ApplyFade ramps the head of pcm up from silence and the tail down to
// silence, in place.
func ApplyFade(pcm []int16, fadeSec float64, sampleRate int) {
	n := len(pcm)
	f := FadeSamples(n, fadeSec, sampleRate)
	if f == 0 {
		return
	}
	for i := 0; i < f; i++ {
		pcm[i] = int16(math.Round(float64(pcm[i]) * float64(i+1) / float64(f)))
		// tail reaches exact zero on the final sample
		j := n - 1 - i
		pcm[j] = int16(math.Round(float64(pcm[j]) * float64(i) / float64(f)))
	}
}
