package window

// OverlapGain evaluates the summed window-squared gain of coeffs overlapped
// at stride hop, sampled at every position of one hop period in steady state.
//
// Overlap-add reconstruction divides by exactly this quantity; a window/hop
// pair satisfies the constant-overlap-add condition (for squared windows)
// when every returned value is the same.
func OverlapGain(coeffs []float64, hop int) []float64 {
	n := len(coeffs)
	if n == 0 || hop <= 0 || hop > n {
		return nil
	}

	out := make([]float64, hop)

	for pos := range out {
		sum := 0.0
		for start := pos; start < n; start += hop {
			w := coeffs[start]
			sum += w * w
		}

		out[pos] = sum
	}

	return out
}

// IsCOLA reports whether coeffs overlapped at hop has constant squared gain
// within eps, and returns that gain.
func IsCOLA(coeffs []float64, hop int, eps float64) (bool, float64) {
	gains := OverlapGain(coeffs, hop)
	if len(gains) == 0 {
		return false, 0
	}

	ref := gains[0]
	for _, g := range gains[1:] {
		if diff := g - ref; diff > eps || diff < -eps {
			return false, ref
		}
	}

	return true, ref
}
