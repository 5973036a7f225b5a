// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestKalmanCovariancePSD(t *testing.T) {
	for _, order := range []int{2, 3} {
		prm := DefaultKalmanLoopFilterParams()
		prm.Order = order
		f := NewKalmanLoopFilter(prm)
		rnd := rand.New(rand.NewSource(int64(order)))
		for i := 0; i < 2000; i++ {
			in := LoopInput{Interval: 5e-4 + rnd.Float64()*0.02}
			if rnd.Intn(3) == 0 {
				in.Kind = FrequencyError
				in.Error = (rnd.Float64() - 0.5) * 100
			} else {
				in.Kind = PhaseError
				in.Error = rnd.Float64() - 0.5
			}
			if rnd.Intn(10) == 0 {
				f.Predict(rnd.Float64() * 0.01)
			}
			f.Update(in)

			P := f.Covariance()
			var eig mat.EigenSym
			require.True(t, eig.Factorize(P, false))
			vals := eig.Values(nil)
			for _, v := range vals {
				require.GreaterOrEqual(t, v, -1e-9*math.Max(1, vals[len(vals)-1]), "order %d step %d", order, i)
			}
			for r := 0; r < order; r++ {
				for c := 0; c < order; c++ {
					require.Equal(t, P.At(r, c), P.At(c, r))
				}
			}
		}
	}
}

// closeCarrierLoop runs a phase loop on a carrier at f0 [Hz] starting with the
// NCO at fInit and returns the final NCO frequency
func closeCarrierLoop(f LoopFilter, f0, fInit float64, n int, noise float64, seed int64) float64 {
	const dt = 1e-3
	rnd := rand.New(rand.NewSource(seed))
	f.Reset(fInit)
	var theta, psi float64
	freq := fInit
	for i := 0; i < n; i++ {
		theta += f0 * dt
		psi += freq * dt
		e := wrapHalf(theta-psi) + rnd.NormFloat64()*noise
		cmd := f.Update(LoopInput{Error: e, Kind: PhaseError, Interval: dt})
		psi += cmd.PhaseStep
		freq = cmd.Frequency
	}
	return freq
}

func TestKalmanPhaseLoopConverges(t *testing.T) {
	for _, order := range []int{2, 3} {
		prm := DefaultKalmanLoopFilterParams()
		prm.Order = order
		got := closeCarrierLoop(NewKalmanLoopFilter(prm), 1237.0, 1230.0, 3000, 0.02, 1)
		assert.InDelta(t, 1237.0, got, 1.0, "order %d", order)
	}
}

func TestKalmanFrequencyUpdates(t *testing.T) {
	f := NewKalmanLoopFilter(DefaultKalmanLoopFilterParams())
	f.Reset(-250)
	rnd := rand.New(rand.NewSource(2))
	const f0 = -180.0
	freq := -250.0
	v0 := f.FrequencyVariance()
	for i := 0; i < 500; i++ {
		cmd := f.Update(LoopInput{Error: f0 - freq + rnd.NormFloat64()*5, Kind: FrequencyError, Interval: 1e-3})
		assert.Zero(t, cmd.PhaseStep)
		freq = cmd.Frequency
	}
	assert.InDelta(t, f0, freq, 3)
	assert.Less(t, f.FrequencyVariance(), v0)
	assert.Zero(t, f.State()[0])
}

func TestKalmanReset(t *testing.T) {
	f := NewKalmanLoopFilter(KalmanLoopFilterParams{})
	f.Update(LoopInput{Error: 0.1, Kind: PhaseError, Interval: 1e-3})
	f.Reset(42)
	assert.Equal(t, []float64{0, 42}, f.State())
	def := DefaultKalmanLoopFilterParams()
	assert.Equal(t, def.InitFreqVar, f.FrequencyVariance())
	assert.Equal(t, def.InitPhaseVar, f.Covariance().At(0, 0))
}

func TestPLLLoopConverges(t *testing.T) {
	got := closeCarrierLoop(NewPLLLoopFilter(PLLParams{}), 35, 30, 3000, 0.01, 3)
	assert.InDelta(t, 35, got, 1.0)
}

func TestPLLFrequencyPullIn(t *testing.T) {
	f := NewPLLLoopFilter(DefaultPLLParams())
	f.Reset(100)
	const f0 = 160.0
	freq := 100.0
	for i := 0; i < 500; i++ {
		freq = f.Update(LoopInput{Error: f0 - freq, Kind: FrequencyError, Interval: 1e-3}).Frequency
	}
	assert.InDelta(t, f0, freq, 0.1)
}
