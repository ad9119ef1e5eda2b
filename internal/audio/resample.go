package audio

import "math"

func sameRate(fromRate, toRate int) bool {
	return fromRate == toRate || fromRate <= 0 || toRate <= 0
}

// ResampledLen is the number of samples Resample produces for n inputs.
func ResampledLen(n, fromRate, toRate int) int {
	if sameRate(fromRate, toRate) {
		return n
	}
	return int(math.Ceil(float64(n) * float64(toRate) / float64(fromRate)))
}

// ResampleInto linearly interpolates src into dst and returns the number of
// samples written. Positions past the last input hold the last sample.
func ResampleInto(dst, src []float32, fromRate, toRate int) int {
	if sameRate(fromRate, toRate) {
		return copy(dst, src)
	}
	n := min(len(dst), ResampledLen(len(src), fromRate, toRate))
	step := float64(fromRate) / float64(toRate)
	last := len(src) - 1
	for i := range dst[:n] {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			dst[i] = src[last]
			continue
		}
		frac := float32(pos - float64(idx))
		dst[i] = src[idx] + (src[idx+1]-src[idx])*frac
	}
	return n
}

func Resample(input []float32, fromRate, toRate int) []float32 {
	if sameRate(fromRate, toRate) {
		return input
	}
	out := make([]float32, ResampledLen(len(input), fromRate, toRate))
	ResampleInto(out, input, fromRate, toRate)
	return out
}

// ResampleInt16 interpolates directly on PCM16 samples.
func ResampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if sameRate(fromRate, toRate) {
		return samples
	}
	out := make([]int16, ResampledLen(len(samples), fromRate, toRate))
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(math.Round(a + (b-a)*(pos-float64(idx))))
	}
	return out
}
