package audio

import (
	"math"
	"testing"
)

func TestResampledLen(t *testing.T) {
	tests := []struct {
		n, from, to int
		want        int
	}{
		{n: 480, from: 48000, to: 24000, want: 240},
		{n: 5, from: 20000, to: 10000, want: 3},
		{n: 2, from: 8000, to: 16000, want: 4},
		{n: 100, from: 24000, to: 24000, want: 100},
		{n: 100, from: 0, to: 24000, want: 100},
		{n: 0, from: 44100, to: 24000, want: 0},
	}
	for _, tt := range tests {
		if got := ResampledLen(tt.n, tt.from, tt.to); got != tt.want {
			t.Errorf("ResampledLen(%d, %d, %d) = %d, want %d", tt.n, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResample_SameRateReturnsInput(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3}
	out := Resample(input, 24000, 24000)
	if &out[0] != &input[0] {
		t.Error("expected the input slice back for equal rates")
	}
}

func TestResample_Upsample(t *testing.T) {
	out := Resample([]float32{0, 1}, 8000, 16000)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	out := Resample([]float32{0, 0.25, 0.5, 0.75, 1}, 20000, 10000)
	want := []float32{0, 0.5, 1}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Empty(t *testing.T) {
	if out := Resample(nil, 16000, 8000); len(out) != 0 {
		t.Errorf("expected no output, got %d samples", len(out))
	}
}

func TestResampleInto_ShortDestination(t *testing.T) {
	dst := make([]float32, 2)
	if n := ResampleInto(dst, []float32{1, 1, 1, 1}, 8000, 16000); n != 2 {
		t.Fatalf("expected 2 samples written, got %d", n)
	}
	if dst[0] != 1 || dst[1] != 1 {
		t.Errorf("unexpected output %v", dst)
	}
}

func TestResampleInt16(t *testing.T) {
	same := []int16{100, 200, 300}
	if out := ResampleInt16(same, 16000, 16000); len(out) != 3 || out[1] != 200 {
		t.Errorf("expected input unchanged, got %v", out)
	}

	out := ResampleInt16([]int16{0, 16384, 32767}, 8000, 16000)
	want := []int16{0, 8192, 16384, 24576, 32767, 32767}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}
