// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.11
//

// Implements a Kalman filter used as the NCO loop filter of a tracking channel.

package gosdr

import (
	"gonum.org/v1/gonum/mat"
)

// KalmanLoopFilterParams configures KalmanLoopFilter.
// Zero fields take the values of DefaultKalmanLoopFilterParams.
// Units are given for a carrier loop (cycle, Hz); a code loop uses chip and chip/s.
type KalmanLoopFilterParams struct {
	Order             int     // Number of states: 2 (phase, frequency) or 3 (+ frequency rate)
	InitPhaseVar      float64 // Initial phase variance [cycle^2]
	InitFreqVar       float64 // Initial frequency variance [Hz^2]
	InitRateVar       float64 // Initial frequency rate variance [(Hz/s)^2]
	ProcessNoise      float64 // Spectral density of the white noise driving the highest-order state
	PhaseProcessNoise float64 // Spectral density of white phase noise (clock jitter) [cycle^2/s]
	PhaseMeasVar      float64 // Variance of a phase discriminator output [cycle^2]
	FreqMeasVar       float64 // Variance of a frequency discriminator output [Hz^2]
}

// DefaultKalmanLoopFilterParams returns parameters for a GPS L1 carrier loop
// of a static receiver with a TCXO, integrating 1 ms.
//   - phase variance 0.25 cycle^2 (unknown phase) and frequency variance 10^4 Hz^2 (acquisition bin)
//   - process noise 100 Hz^2/s, giving a phase loop bandwidth of about 35 Hz
//   - phase measurement variance 0.005 cycle^2, frequency measurement variance 400 Hz^2
func DefaultKalmanLoopFilterParams() KalmanLoopFilterParams {
	return KalmanLoopFilterParams{
		Order:             2,
		InitPhaseVar:      0.25,
		InitFreqVar:       1e4,
		InitRateVar:       100,
		ProcessNoise:      100,
		PhaseProcessNoise: 1e-4,
		PhaseMeasVar:      0.005,
		FreqMeasVar:       400,
	}
}

func (p KalmanLoopFilterParams) withDefaults() KalmanLoopFilterParams {
	def := DefaultKalmanLoopFilterParams()
	if p.Order != 3 {
		p.Order = def.Order
	}
	fill := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&p.InitPhaseVar, def.InitPhaseVar)
	fill(&p.InitFreqVar, def.InitFreqVar)
	fill(&p.InitRateVar, def.InitRateVar)
	fill(&p.ProcessNoise, def.ProcessNoise)
	fill(&p.PhaseProcessNoise, def.PhaseProcessNoise)
	fill(&p.PhaseMeasVar, def.PhaseMeasVar)
	fill(&p.FreqMeasVar, def.FreqMeasVar)
	return p
}

// KalmanLoopFilter estimates the phase residual against the NCO, the absolute
// frequency and optionally the frequency rate. After a phase update the phase
// residual is handed to the NCO as a phase step and the state is zeroed.
type KalmanLoopFilter struct {
	prm KalmanLoopFilterParams
	n   int
	x   *mat.VecDense // State: [phase residual, frequency, (frequency rate)]
	P   *mat.SymDense // Estimation error covariance
	cmd float64       // Frequency currently commanded to the NCO
}

// NewKalmanLoopFilter creates the filter, initialized at zero frequency
func NewKalmanLoopFilter(prm KalmanLoopFilterParams) *KalmanLoopFilter {
	prm = prm.withDefaults()
	f := &KalmanLoopFilter{
		prm: prm,
		n:   prm.Order,
		x:   mat.NewVecDense(prm.Order, nil),
		P:   mat.NewSymDense(prm.Order, nil),
	}
	f.Reset(0)
	return f
}

func (f *KalmanLoopFilter) Reset(freq float64) {
	f.x.Zero()
	f.x.SetVec(1, freq)
	f.P.Zero()
	f.P.SetSym(0, 0, f.prm.InitPhaseVar)
	f.P.SetSym(1, 1, f.prm.InitFreqVar)
	if f.n == 3 {
		f.P.SetSym(2, 2, f.prm.InitRateVar)
	}
	f.cmd = freq
}

// Predict propagates state and covariance by dt [s] with the NCO running at
// the commanded frequency
func (f *KalmanLoopFilter) Predict(dt float64) {
	if dt <= 0 {
		return
	}
	F := f.transition(dt)

	// x = F x, then subtract the phase advanced by the NCO
	var x mat.VecDense
	x.MulVec(F, f.x)
	x.SetVec(0, x.AtVec(0)-f.cmd*dt)
	f.x.CopyVec(&x)

	// P = F P F^T + Q
	var FP, FPFt mat.Dense
	FP.Mul(F, f.P)
	FPFt.Mul(&FP, F.T())
	Q := f.processNoise(dt)
	f.setSymmetrized(&FPFt, Q)
}

// Update predicts over in.Interval, then corrects with the discriminator output
func (f *KalmanLoopFilter) Update(in LoopInput) LoopCommand {
	f.Predict(in.Interval)

	h := mat.NewVecDense(f.n, nil)
	var z, r float64
	switch in.Kind {
	case FrequencyError:
		h.SetVec(1, 1)
		z = f.cmd + in.Error
		r = f.prm.FreqMeasVar
	default:
		h.SetVec(0, 1)
		z = in.Error
		r = f.prm.PhaseMeasVar
	}
	f.correct(h, z, r)

	out := LoopCommand{Frequency: f.x.AtVec(1)}
	if in.Kind == PhaseError {
		out.PhaseStep = f.x.AtVec(0)
	}
	f.x.SetVec(0, 0)
	f.cmd = out.Frequency
	return out
}

// correct applies a scalar measurement z = h^T x + v, var(v) = r.
// The covariance update uses the Joseph form followed by symmetrization.
func (f *KalmanLoopFilter) correct(h *mat.VecDense, z, r float64) {
	// Innovation and its variance
	var Ph mat.VecDense
	Ph.MulVec(f.P, h)
	s := mat.Dot(h, &Ph) + r
	if s <= 0 {
		return
	}
	innov := z - mat.Dot(h, f.x)

	// Kalman gain K = P h / s
	K := mat.NewVecDense(f.n, nil)
	K.ScaleVec(1/s, &Ph)
	f.x.AddScaledVec(f.x, innov, K)

	// P = (I - K h^T) P (I - K h^T)^T + r K K^T
	A := mat.NewDense(f.n, f.n, nil)
	A.Outer(-1, K, h)
	for i := 0; i < f.n; i++ {
		A.Set(i, i, A.At(i, i)+1)
	}
	var AP, APAt mat.Dense
	AP.Mul(A, f.P)
	APAt.Mul(&AP, A.T())
	KKt := mat.NewDense(f.n, f.n, nil)
	KKt.Outer(r, K, K)
	f.setSymmetrized(&APAt, KKt)
}

// setSymmetrized stores (A + A^T)/2 + B into P
func (f *KalmanLoopFilter) setSymmetrized(A, B mat.Matrix) {
	for i := 0; i < f.n; i++ {
		for j := i; j < f.n; j++ {
			v := (A.At(i, j)+A.At(j, i))/2 + (B.At(i, j)+B.At(j, i))/2
			f.P.SetSym(i, j, v)
		}
	}
}

func (f *KalmanLoopFilter) transition(dt float64) *mat.Dense {
	F := mat.NewDense(f.n, f.n, nil)
	for i := 0; i < f.n; i++ {
		F.Set(i, i, 1)
	}
	F.Set(0, 1, dt)
	if f.n == 3 {
		F.Set(0, 2, dt*dt/2)
		F.Set(1, 2, dt)
	}
	return F
}

// processNoise returns the discrete covariance of white noise of density q on
// the highest-order state, plus white phase noise
func (f *KalmanLoopFilter) processNoise(dt float64) *mat.Dense {
	q := f.prm.ProcessNoise
	dt2 := dt * dt
	dt3 := dt2 * dt
	Q := mat.NewDense(f.n, f.n, nil)
	if f.n == 2 {
		Q.Set(0, 0, q*dt3/3)
		Q.Set(0, 1, q*dt2/2)
		Q.Set(1, 0, q*dt2/2)
		Q.Set(1, 1, q*dt)
	} else {
		dt4 := dt3 * dt
		dt5 := dt4 * dt
		Q.Set(0, 0, q*dt5/20)
		Q.Set(0, 1, q*dt4/8)
		Q.Set(0, 2, q*dt3/6)
		Q.Set(1, 1, q*dt3/3)
		Q.Set(1, 2, q*dt2/2)
		Q.Set(2, 2, q*dt)
		Q.Set(1, 0, Q.At(0, 1))
		Q.Set(2, 0, Q.At(0, 2))
		Q.Set(2, 1, Q.At(1, 2))
	}
	Q.Set(0, 0, Q.At(0, 0)+f.prm.PhaseProcessNoise*dt)
	return Q
}

// State returns a copy of the state vector
func (f *KalmanLoopFilter) State() []float64 {
	s := make([]float64, f.n)
	for i := range s {
		s[i] = f.x.AtVec(i)
	}
	return s
}

// Covariance returns a copy of the covariance matrix
func (f *KalmanLoopFilter) Covariance() *mat.SymDense {
	P := mat.NewSymDense(f.n, nil)
	P.CopySym(f.P)
	return P
}

// FrequencyVariance returns the current frequency variance
func (f *KalmanLoopFilter) FrequencyVariance() float64 {
	return f.P.At(1, 1)
}
