// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/mkhts/gosdr"
)

const fs = 2.048e6

var toe = m.GTime{Week: 2400, Sec: 100800}

func circular(prn int, node, u float64) *m.Ephemeris {
	return &m.Ephemeris{
		PRN: prn, Toc: toe, Toe: toe, Tot: toe.Add(-3600),
		M0:     u,
		SqrtA:  math.Sqrt(26560e3),
		I0:     m.ToRad(55),
		Omega0: math.Remainder(node+m.OmegaEGPS*toe.Sec, 2*m.PI),
		Week:   toe.Week,
	}
}

func meanPower(x []complex64) float64 {
	var p float64
	for _, v := range x {
		p += m.SQ(float64(real(v))) + m.SQ(float64(imag(v)))
	}
	return p / float64(len(x))
}

func TestNewErrors(t *testing.T) {
	_, err := New(Params{}, nil)
	assert.ErrorIs(t, err, m.ErrInvalidConfig)
	_, err = New(Params{SampleRate: fs}, []Satellite{{PRN: 1}})
	assert.ErrorIs(t, err, m.ErrInvalidConfig)
	_, err = New(Params{SampleRate: fs}, []Satellite{{PRN: 0, Eph: circular(1, 0, 0)}})
	assert.Error(t, err)
}

func TestTransmitTime(t *testing.T) {
	sat := Satellite{PRN: 4, Doppler: 2000, Delay: 0.07, CN0: 45, Eph: circular(4, 0, 0)}
	g, err := New(Params{SampleRate: fs, TOW: 1000, Seed: 1}, []Satellite{sat})
	require.NoError(t, err)

	tx, ok := g.TransmitTime(4)
	require.True(t, ok)
	assert.InDelta(t, 1000-0.07, tx, 1e-12)
	_, ok = g.TransmitTime(5)
	assert.False(t, ok)

	g.Generate(make([]complex64, 20480))
	tx, _ = g.TransmitTime(4)
	assert.InDelta(t, 1000-0.07+0.01*(1+2000/m.L1), tx, 1e-12)
	assert.InDelta(t, 1000.01, g.Time(), 1e-12)
}

func TestSignalPower(t *testing.T) {
	const n = 200000
	g, err := New(Params{SampleRate: fs, Noise: 2, Seed: 3}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 8, meanPower(g.Generate(make([]complex64, n))), 0.1)

	// C/N0 = A^2 fs / (2 sigma^2) with sigma = 1
	sat := Satellite{PRN: 9, Doppler: -800, Delay: 0.072, CN0: 60, Eph: circular(9, 0, 0)}
	g, err = New(Params{SampleRate: fs, TOW: 100000, Seed: 3}, []Satellite{sat})
	require.NoError(t, err)
	on := meanPower(g.Generate(make([]complex64, n)))
	g.Mute(9, true)
	off := meanPower(g.Generate(make([]complex64, n)))
	assert.InDelta(t, 1e6*2/fs, on-off, 0.05)
	assert.InDelta(t, 2, off, 0.05)
}

func TestGenerateCI16(t *testing.T) {
	g1, err := New(Params{SampleRate: fs, Seed: 11}, nil)
	require.NoError(t, err)
	g2, err := New(Params{SampleRate: fs, Seed: 11}, nil)
	require.NoError(t, err)

	x := g1.Generate(make([]complex64, 1000))
	y := g2.GenerateCI16(nil, 100)
	require.Empty(t, y)
	y = g2.GenerateCI16(make([]m.CI16, 1000), 100)
	for i := range x {
		require.Equal(t, int16(math.Round(float64(real(x[i]))*100)), y[i].I)
		require.Equal(t, int16(math.Round(float64(imag(x[i]))*100)), y[i].Q)
	}
}

func TestVisible(t *testing.T) {
	rcv := m.PosLLH{}.ToXYZ()
	sick := circular(4, 0, m.ToRad(-20))
	sick.Svh = 1
	nav := m.Nav{}
	for _, e := range []*m.Ephemeris{
		circular(1, 0, 0),
		circular(2, 0, m.ToRad(30)),
		circular(3, 0, m.PI),
		sick,
	} {
		nav.Add(e)
	}

	sats := Visible(nav, rcv, toe, 10, 42)
	require.Len(t, sats, 2)
	assert.Equal(t, 1, sats[0].PRN)
	assert.Equal(t, 2, sats[1].PRN)
	assert.Equal(t, 42.0, sats[0].CN0)

	assert.InDelta(t, (26560e3-m.Re)/m.C, sats[0].Delay, 1e-8)
	assert.InDelta(t, 0, sats[0].Doppler, 1)
	// Moving away from the receiver
	assert.Less(t, sats[1].Doppler, -1000.0)
	assert.Greater(t, sats[1].Delay, sats[0].Delay)
}
