// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.11
//

package gosdr

import (
	"math"
	"math/cmplx"
)

// Upper bound reported by the C/N0 estimator [dB-Hz]
const maxCN0 = 99.0

// cn0Estimator is the moment-method (M2M4) C/N0 estimator over a window of
// prompt correlator outputs
type cn0Estimator struct {
	window int
	n      int
	m2     float64
	m4     float64
	ii     float64 // Sum of I^2 (phase lock indicator)
	qq     float64 // Sum of Q^2
	cn0    float64
	lock   float64
	valid  bool
}

func newCN0Estimator(window int) *cn0Estimator {
	return &cn0Estimator{window: window}
}

func (e *cn0Estimator) reset() {
	*e = cn0Estimator{window: e.window}
}

// add accumulates one prompt output integrated over dt [s]. It returns true
// when a window completes and a new estimate is available.
func (e *cn0Estimator) add(p complex128, dt float64) bool {
	a2 := SQ(cmplx.Abs(p))
	e.m2 += a2
	e.m4 += a2 * a2
	e.ii += SQ(real(p))
	e.qq += SQ(imag(p))
	e.n++
	if e.n < e.window {
		return false
	}
	m2 := e.m2 / float64(e.n)
	m4 := e.m4 / float64(e.n)
	pd := math.Sqrt(math.Max(2*m2*m2-m4, 0))
	pn := m2 - pd
	switch {
	case pd <= 0:
		e.cn0 = 0
	case pn <= 0:
		e.cn0 = maxCN0
	default:
		e.cn0 = math.Min(10*math.Log10(pd/pn/dt), maxCN0)
	}
	if e.ii+e.qq > 0 {
		e.lock = (e.ii - e.qq) / (e.ii + e.qq)
	}
	e.valid = true
	e.n, e.m2, e.m4, e.ii, e.qq = 0, 0, 0, 0, 0
	return true
}
