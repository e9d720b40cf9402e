package core

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name            string
		value, min, max float64
		want            float64
	}{
		{"inside", 0.5, 0, 1, 0.5},
		{"below", -2, 0, 1, 0},
		{"above", 3, 0, 1, 1},
		{"swapped bounds", 0.5, 1, 0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.value, tt.min, tt.max); got != tt.want {
				t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.value, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestSemitoneRatioRoundTrip(t *testing.T) {
	for _, semitones := range []float64{-24, -12, -1, 0, 1, 7, 12, 24} {
		ratio := SemitonesToRatio(semitones)
		back := RatioToSemitones(ratio)

		if math.Abs(back-semitones) > 1e-12 {
			t.Errorf("round trip %v semitones: got %v", semitones, back)
		}
	}

	if got := SemitonesToRatio(12); math.Abs(got-2) > 1e-12 {
		t.Errorf("SemitonesToRatio(12) = %v, want 2", got)
	}

	if got := SemitonesToRatio(-12); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("SemitonesToRatio(-12) = %v, want 0.5", got)
	}
}

func TestDBConversions(t *testing.T) {
	if got := DBToLinear(0); math.Abs(got-1) > 1e-12 {
		t.Errorf("DBToLinear(0) = %v, want 1", got)
	}

	if got := DBToLinear(20); math.Abs(got-10) > 1e-12 {
		t.Errorf("DBToLinear(20) = %v, want 10", got)
	}

	if got := LinearToDB(10); math.Abs(got-20) > 1e-9 {
		t.Errorf("LinearToDB(10) = %v, want 20", got)
	}

	if got := LinearToDB(0); !math.IsInf(got, -1) {
		t.Errorf("LinearToDB(0) = %v, want -Inf", got)
	}

	if got := LinearToDB(-1); !math.IsNaN(got) {
		t.Errorf("LinearToDB(-1) = %v, want NaN", got)
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(1.5) || !IsFinite(0) {
		t.Error("finite values reported non-finite")
	}

	if IsFinite(math.NaN()) || IsFinite(math.Inf(1)) || IsFinite(math.Inf(-1)) {
		t.Error("non-finite values reported finite")
	}
}

func TestScrub(t *testing.T) {
	buf := []float64{1, math.NaN(), 2, math.Inf(1), math.Inf(-1), 3}

	n := Scrub(buf)
	if n != 3 {
		t.Fatalf("Scrub count = %d, want 3", n)
	}

	want := []float64{1, 0, 2, 0, 0, 3}
	for i, v := range buf {
		if v != want[i] {
			t.Errorf("buf[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestFlushDenormals(t *testing.T) {
	if got := FlushDenormals(1e-40); got != 0 {
		t.Errorf("FlushDenormals(1e-40) = %v, want 0", got)
	}

	if got := FlushDenormals(1e-20); got != 1e-20 {
		t.Errorf("FlushDenormals(1e-20) = %v, want unchanged", got)
	}
}
