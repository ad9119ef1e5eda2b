package audio

import (
	"encoding/binary"
	"math"
)

// FullScale is used for both directions so that a float round trip is
// symmetric around zero. -32768 maps to slightly below -1 and is clamped.
const FullScale = 32767.0

const bytesPerSample = 2

func SampleToFloat(s int16) float32 {
	return max(float32(s)/FullScale, -1)
}

// FloatToSample clamps f to [-1, 1] and rounds to the nearest step.
func FloatToSample(f float32) int16 {
	f = min(max(f, -1), 1)
	return int16(math.Round(float64(f) * FullScale))
}

// PCM16ToFloat converts into dst and returns the number of samples written.
func PCM16ToFloat(dst []float32, src []int16) int {
	n := min(len(dst), len(src))
	for i, s := range src[:n] {
		dst[i] = SampleToFloat(s)
	}
	return n
}

func FloatToPCM16(dst []int16, src []float32) int {
	n := min(len(dst), len(src))
	for i, f := range src[:n] {
		dst[i] = FloatToSample(f)
	}
	return n
}

func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	FloatToPCM16(out, samples)
	return out
}

// PCMBytesToInt16 reinterprets little-endian PCM16 bytes. A trailing odd
// byte is ignored.
func PCMBytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
	}
	return out
}
