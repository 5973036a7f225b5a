// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkhts/gosdr"
	"github.com/mkhts/gosdr/sim"
)

const testBlockSize = 4096

func testChannelParams() gosdr.ChannelParams {
	return gosdr.ChannelParams{
		SampleRate:    testSampleRate,
		Acq:           gosdr.DefaultAcqParams(),
		Pfa:           1e-4,
		CorrOffsets:   []float64{0.5, 0.25},
		CodeDisc:      gosdr.EMLEnvelope,
		CarrierDisc:   gosdr.ATan,
		CarrierFilter: gosdr.NewKalmanLoopFilter(gosdr.DefaultKalmanLoopFilterParams()),
		Lock: gosdr.LockParams{
			LostCN0DBHz: 35,
			LostDwell:   0.1,
		},
	}
}

func newTestChannel(t *testing.T, prn int, prm gosdr.ChannelParams) *gosdr.Channel {
	t.Helper()
	sig, err := gosdr.NewGPSL1CA(prn, 2400)
	require.NoError(t, err)
	ch, err := gosdr.NewChannel(sig, prm)
	require.NoError(t, err)
	return ch
}

// runUntil feeds blocks of g to ch until done reports true or dur [s] of
// samples have been processed. It returns whether done was reached.
func runUntil(ch *gosdr.Channel, g *sim.Generator, dur float64, done func() bool) bool {
	buf := make([]complex64, testBlockSize)
	for n := 0; float64(n) < dur*testSampleRate; n += testBlockSize {
		ch.ProcessComplex(g.Generate(buf))
		if done() {
			return true
		}
	}
	return false
}

func testSatellite(prn int) sim.Satellite {
	return sim.Satellite{PRN: prn, Doppler: 1234.5, Delay: 0.0712345, Phase: 0.3, CN0: 45, Eph: testEphemeris(prn)}
}

func TestChannelInvalidConfig(t *testing.T) {
	sig, err := gosdr.NewGPSL1CA(1, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		mod  func(p *gosdr.ChannelParams)
	}{
		{"sample rate", func(p *gosdr.ChannelParams) { p.SampleRate = 0 }},
		{"no offsets", func(p *gosdr.ChannelParams) { p.CorrOffsets = nil }},
		{"offset", func(p *gosdr.ChannelParams) { p.CorrOffsets = []float64{1.5} }},
		{"no filter", func(p *gosdr.ChannelParams) { p.CarrierFilter = nil }},
		{"acquisition", func(p *gosdr.ChannelParams) { p.Acq.NNoncoherent = -1 }},
		{"pfa", func(p *gosdr.ChannelParams) { p.Pfa = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prm := testChannelParams()
			tt.mod(&prm)
			_, err := gosdr.NewChannel(sig, prm)
			assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
		})
	}
	_, err = gosdr.NewChannel(nil, testChannelParams())
	assert.ErrorIs(t, err, gosdr.ErrInvalidConfig)
}

func TestChannelNoSignal(t *testing.T) {
	ch := newTestChannel(t, 7, testChannelParams())
	g := newTestGenerator(t, 1, 100000)
	runUntil(ch, g, 0.05, func() bool { return false })
	assert.Equal(t, gosdr.StateAcquiring, ch.State())
	assert.ErrorIs(t, ch.Status().Err, gosdr.ErrNoDetection)
	_, ok := ch.TOW()
	assert.False(t, ok)
}

func TestChannelPullInAndLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("long simulation")
	}
	var trace bytes.Buffer
	prm := testChannelParams()
	prm.Trace = &trace
	prm.TraceEvery = 50
	ch := newTestChannel(t, 7, prm)
	sat := testSatellite(7)
	g := newTestGenerator(t, 3, 100000, sat)

	ok := runUntil(ch, g, 0.02, func() bool { return ch.State() == gosdr.StatePullIn })
	require.True(t, ok, "status %+v", ch.Status())
	assert.InDelta(t, sat.Doppler, ch.Doppler(), gosdr.DefaultAcqParams().DopplerStep)

	ok = runUntil(ch, g, 1.5, func() bool { return ch.State() == gosdr.StateTracking })
	require.True(t, ok, "status %+v", ch.Status())

	// Settle and check the loops
	runUntil(ch, g, 0.5, func() bool { return false })
	require.Equal(t, gosdr.StateTracking, ch.State())
	assert.InDelta(t, sat.Doppler, ch.Doppler(), 10)
	assert.InDelta(t, 45, ch.CN0(), 4)
	assert.NoError(t, ch.Status().Err)

	g.Mute(7, true)
	ok = runUntil(ch, g, 1, func() bool { return ch.State() == gosdr.StateLost })
	require.True(t, ok, "status %+v", ch.Status())
	assert.ErrorIs(t, ch.Status().Err, gosdr.ErrSignalLost)
	_, ok = ch.TOW()
	assert.False(t, ok)

	runUntil(ch, g, 0.01, func() bool { return true })
	assert.Equal(t, gosdr.StateAcquiring, ch.State())
	_, ok = ch.Measurement()
	assert.False(t, ok)

	// Trace records are JSON lines of the channel states
	dec := json.NewDecoder(&trace)
	states := map[string]bool{}
	for dec.More() {
		var r gosdr.TraceRecord
		require.NoError(t, dec.Decode(&r))
		assert.Equal(t, "G07-L1", r.SID)
		assert.Len(t, r.Correlations, 5)
		assert.Zero(t, r.Period%50)
		states[r.State] = true
	}
	assert.True(t, states["PullIn"])
	assert.True(t, states["Tracking"])
}

func TestChannelTOW(t *testing.T) {
	if testing.Short() {
		t.Skip("long simulation")
	}
	sat := testSatellite(7)
	// Subframe 1 starts 3 s into the stream
	const subframeStart = 100830.0
	g := newTestGenerator(t, 5, subframeStart+sat.Delay-3, sat)
	ch := newTestChannel(t, 7, testChannelParams())

	ok := runUntil(ch, g, 16, func() bool {
		_, ok := ch.TOW()
		return ok
	})
	require.True(t, ok, "status %+v", ch.Status())

	prev := -1.0
	buf := make([]complex64, testBlockSize)
	for i := 0; i < 500; i++ {
		ch.ProcessComplex(g.Generate(buf))
		want, _ := g.TransmitTime(7)
		tow, ok := ch.TOW()
		require.True(t, ok)
		assert.InDelta(t, want, tow.TOW, 5e-7)
		assert.Greater(t, tow.TOW, prev)
		prev = tow.TOW

		m, ok := ch.Measurement()
		require.True(t, ok)
		assert.Equal(t, tow, m.TOW)
		assert.True(t, m.HasDoppler)
	}

	// Subframe 1 of the stream fixes the week
	tow, _ := ch.TOW()
	assert.Equal(t, 2400, tow.Week)
}
