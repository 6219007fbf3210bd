package numerics

import "gonum.org/v1/gonum/mat"

// IsPSD reports whether a symmetric dense matrix is positive semi-definite,
// checked via a symmetric eigendecomposition (cheap and numerically stable
// at the small sizes — at most a few dozen assets — this engine targets).
func IsPSD(m mat.Symmetric) bool {
	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return false
	}
	for _, v := range eig.Values(nil) {
		if v < -1e-9 {
			return false
		}
	}
	return true
}

// ZeroVec returns a length-n float64 slice of zeros. A tiny helper so
// callers that rebuild per-iteration buffers (per spec.md §5's reuse
// requirement) have one obvious zeroing idiom.
func ZeroVec(n int) []float64 {
	return make([]float64, n)
}

// AddScaled computes dst[i] += scale*src[i] in place. The SCP driver's
// stepVec uses it to take a candidate's y/alpha step at a given line-search
// length s.
func AddScaled(dst, src []float64, scale float64) {
	for i := range dst {
		dst[i] += scale * src[i]
	}
}

// InfNorm returns the infinity norm (max absolute entry) of v, used by the
// SCP driver's convergence check (‖Δy‖∞, ‖Δα‖∞).
func InfNorm(v []float64) float64 {
	var m float64
	for _, x := range v {
		if a := absf(x); a > m {
			m = a
		}
	}
	return m
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
