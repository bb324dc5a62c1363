package audio

import "math"

// silenceU8 is the unsigned 8-bit sample value for zero amplitude
const silenceU8 = 128

// RMS calculates the root-mean-square of a block of samples in -1..1.
// An empty block is an invariant violation and returns ErrEmptySampleBlock.
func RMS(samples []float32) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptySampleBlock
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples))), nil
}

// NormalizeU8 converts unsigned 8-bit samples centered at 128 to -1..1,
// reusing dst when it has enough capacity.
func NormalizeU8(raw []byte, dst []float32) []float32 {
	if cap(dst) < len(raw) {
		dst = make([]float32, len(raw))
	}
	dst = dst[:len(raw)]

	for i, b := range raw {
		dst[i] = (float32(b) - silenceU8) / silenceU8
	}

	return dst
}
