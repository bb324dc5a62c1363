package audio

import (
	"errors"
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{"silence", []float32{0, 0, 0, 0}, 0},
		{"constant", []float32{0.5, 0.5, 0.5}, 0.5},
		{"square wave", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"full scale", []float32{1, -1}, 1},
		{"mixed", []float32{0.3, 0.4}, math.Sqrt((0.09 + 0.16) / 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RMS(tt.samples)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestRMSEmptyBlock(t *testing.T) {
	_, err := RMS(nil)
	if !errors.Is(err, ErrEmptySampleBlock) {
		t.Errorf("expected ErrEmptySampleBlock, got %v", err)
	}
}

func TestNormalizeU8(t *testing.T) {
	raw := []byte{0, 64, 128, 192, 255}
	want := []float32{-1, -0.5, 0, 0.5, 127.0 / 128.0}

	got := NormalizeU8(raw, nil)
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestNormalizeU8ReusesBuffer(t *testing.T) {
	dst := make([]float32, 8)
	got := NormalizeU8([]byte{128, 128}, dst)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if &got[0] != &dst[0] {
		t.Error("expected dst to be reused when it has capacity")
	}
}
