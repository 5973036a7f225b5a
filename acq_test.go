// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhts/gosdr"
	"github.com/mkhts/gosdr/sim"
)

const testSampleRate = 2.048e6

var testToe = gosdr.GTime{Week: 2400, Sec: 100800}

// testEphemeris returns a healthy circular orbit; signal content only
// depends on it through the navigation data bits
func testEphemeris(prn int) *gosdr.Ephemeris {
	return &gosdr.Ephemeris{
		PRN: prn, Toc: testToe, Toe: testToe, Tot: testToe.Add(-3600),
		Iode: prn, Iodc: prn,
		SqrtA: math.Sqrt(26560e3), I0: gosdr.ToRad(55), Omega0: gosdr.ToRad(10 * float64(prn)),
		Week: 2400,
	}
}

func newTestGenerator(t *testing.T, seed int64, tow float64, sats ...sim.Satellite) *sim.Generator {
	t.Helper()
	g, err := sim.New(sim.Params{SampleRate: testSampleRate, TOW: tow, Seed: seed}, sats)
	require.NoError(t, err)
	return g
}

func newTestAcqEngine(t *testing.T, prn int, pfa float64) *gosdr.AcqEngine {
	t.Helper()
	sig, err := gosdr.NewGPSL1CA(prn, 0)
	require.NoError(t, err)
	e, err := gosdr.NewAcqEngine(sig, testSampleRate, 0, gosdr.DefaultAcqParams(), pfa)
	require.NoError(t, err)
	return e
}

// circDist is the distance between sample offsets a and b modulo n
func circDist(a, b float64, n int) float64 {
	d := math.Mod(math.Abs(a-b), float64(n))
	return math.Min(d, float64(n)-d)
}

func TestAcqDetectsSignal(t *testing.T) {
	e := newTestAcqEngine(t, 3, 0.05)
	rnd := rand.New(rand.NewSource(7))
	const trials = 20
	hits := 0
	for i := 0; i < trials; i++ {
		sat := sim.Satellite{
			PRN:     3,
			Doppler: (rnd.Float64()*2 - 1) * 4500,
			Delay:   0.066 + rnd.Float64()*0.012,
			Phase:   rnd.Float64(),
			CN0:     45,
			Eph:     testEphemeris(3),
		}
		g := newTestGenerator(t, int64(i+1), 100000, sat)
		buf := g.Generate(make([]complex64, e.RequiredSamples()))
		r, err := e.Search(buf)
		require.NoError(t, err)

		// A code period starts where the transmit time is a multiple of 1 ms
		p0 := math.Mod(100000-sat.Delay, gosdr.CACodePeriod)
		want := (gosdr.CACodePeriod - p0) * testSampleRate / (1 + sat.Doppler/gosdr.L1)
		if r.Acquired &&
			circDist(float64(r.CodeOffset), want, e.SamplesPerCode()) <= 1 &&
			math.Abs(r.Doppler-sat.Doppler) <= gosdr.DefaultAcqParams().DopplerStep {
			hits++
		} else {
			t.Logf("trial %d: %+v, want offset %.1f doppler %.1f", i, r, want, sat.Doppler)
		}
		if i == 0 {
			assert.Greater(t, r.CN0, 35.0)
			assert.Greater(t, r.PeakRatio, 2.0)
			assert.Equal(t, gosdr.DefaultAcqParams().NNoncoherent, r.Periods)
		}
	}
	assert.GreaterOrEqual(t, hits, trials*95/100)
}

func TestAcqNoiseOnly(t *testing.T) {
	e := newTestAcqEngine(t, 3, 1e-4)
	for seed := int64(1); seed <= 5; seed++ {
		g := newTestGenerator(t, seed, 100000)
		r, err := e.Search(g.Generate(make([]complex64, e.RequiredSamples())))
		require.NoError(t, err)
		assert.False(t, r.Acquired, "seed %d metric %.2f thr %.2f", seed, r.Metric, r.Threshold)
		assert.Less(t, r.Metric, r.Threshold)
	}
}

func TestAcqInsufficientData(t *testing.T) {
	e := newTestAcqEngine(t, 3, 0.05)
	_, err := e.Search(make([]complex64, e.SamplesPerCode()-1))
	assert.ErrorIs(t, err, gosdr.ErrInsufficientData)

	// One period is enough for a reduced search
	g := newTestGenerator(t, 1, 100000)
	r, err := e.Search(g.Generate(make([]complex64, e.SamplesPerCode())))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Periods)
}

func TestAcqInvalidConfig(t *testing.T) {
	sig, err := gosdr.NewGPSL1CA(3, 0)
	require.NoError(t, err)
	_, err = gosdr.NewAcqEngine(sig, 0, 0, gosdr.DefaultAcqParams(), 0.05)
	assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
	_, err = gosdr.NewAcqEngine(sig, 0.5e6, 0, gosdr.DefaultAcqParams(), 0.05)
	assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
	_, err = gosdr.NewAcqEngine(sig, testSampleRate, 0, gosdr.AcqParams{NCoherent: 1, NNoncoherent: 1}, 0.05)
	assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
	_, err = gosdr.NewAcqEngine(sig, testSampleRate, 0, gosdr.DefaultAcqParams(), 1)
	assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
}
