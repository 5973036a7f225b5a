// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

// Package sim generates synthetic GPS L1 C/A baseband samples.
package sim

import (
	"fmt"
	"math"
	"math/rand"

	m "github.com/mkhts/gosdr"
)

// Satellite describes one simulated signal
type Satellite struct {
	PRN     int
	Doppler float64 // Carrier doppler [Hz]
	Delay   float64 // Apparent flight time at the first sample, SV clock included [s]
	Phase   float64 // Carrier phase at the first sample [cycle]
	CN0     float64 // [dB-Hz]
	Eph     *m.Ephemeris
}

// Params configures the generator
type Params struct {
	SampleRate float64 // [Hz]
	IF         float64 // [Hz]
	TOW        float64 // Receiver time of the first sample [s]
	Noise      float64 // Noise standard deviation per I/Q component, 0 for 1
	Seed       int64
}

type satState struct {
	Satellite
	code  []float32
	amp   float64
	muted bool
	sfIdx int64 // Subframe currently held in bits
	bits  []uint8
}

// Generator produces a continuous sample stream. Not safe for concurrent use.
type Generator struct {
	prm  Params
	sats []*satState
	rnd  *rand.Rand
	n    int64 // Samples generated so far
}

// New creates the generator
func New(prm Params, sats []Satellite) (*Generator, error) {
	if prm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive", m.ErrInvalidConfig)
	}
	if prm.Noise <= 0 {
		prm.Noise = 1
	}
	g := &Generator{prm: prm, rnd: rand.New(rand.NewSource(prm.Seed))}
	for _, s := range sats {
		code, err := m.GenerateCACode(s.PRN)
		if err != nil {
			return nil, err
		}
		if s.Eph == nil {
			return nil, fmt.Errorf("%w: no ephemeris for PRN %d", m.ErrInvalidConfig, s.PRN)
		}
		st := &satState{Satellite: s, sfIdx: -1}
		st.code = make([]float32, len(code))
		for i, c := range code {
			st.code[i] = float32(c)
		}
		// C/N0 = A^2 fs / (2 sigma^2)
		st.amp = math.Sqrt(math.Pow(10, s.CN0/10) * 2 * prm.Noise * prm.Noise / prm.SampleRate)
		g.sats = append(g.sats, st)
	}
	return g, nil
}

// Mute turns the signal of prn off or back on
func (g *Generator) Mute(prn int, off bool) {
	for _, s := range g.sats {
		if s.PRN == prn {
			s.muted = off
		}
	}
}

// Time returns the receiver time of the next sample [s]
func (g *Generator) Time() float64 {
	return g.prm.TOW + float64(g.n)/g.prm.SampleRate
}

// TransmitTime returns the signal time of prn at the next sample [s]
func (g *Generator) TransmitTime(prn int) (float64, bool) {
	for _, s := range g.sats {
		if s.PRN == prn {
			return g.transmitTime(s, g.n), true
		}
	}
	return 0, false
}

func (g *Generator) transmitTime(s *satState, n int64) float64 {
	dt := float64(n) / g.prm.SampleRate
	return g.prm.TOW - s.Delay + dt*(1+s.Doppler/m.L1)
}

// Generate fills dst with the next len(dst) samples and returns it
func (g *Generator) Generate(dst []complex64) []complex64 {
	sig := g.prm.Noise
	for i := range dst {
		dst[i] = complex(float32(g.rnd.NormFloat64()*sig), float32(g.rnd.NormFloat64()*sig))
	}
	for _, s := range g.sats {
		if s.muted {
			continue
		}
		for i := range dst {
			n := g.n + int64(i)
			tx := g.transmitTime(s, n)
			v := s.amp * g.chip(s, tx) * g.dataSign(s, tx)
			ph := s.Phase + (g.prm.IF+s.Doppler)*float64(n)/g.prm.SampleRate
			sn, cs := math.Sincos(2 * m.PI * (ph - math.Floor(ph)))
			dst[i] += complex(float32(v*cs), float32(v*sn))
		}
	}
	g.n += int64(len(dst))
	return dst
}

// GenerateCI16 fills dst with the next len(dst) samples scaled to 16-bit integers
func (g *Generator) GenerateCI16(dst []m.CI16, scale float64) []m.CI16 {
	buf := g.Generate(make([]complex64, len(dst)))
	return m.ToCI16(dst, buf, scale)
}

func (g *Generator) chip(s *satState, tx float64) float64 {
	p := math.Mod(tx, m.CACodePeriod)
	if p < 0 {
		p += m.CACodePeriod
	}
	k := int(p / m.CACodePeriod * m.CACodeLength)
	return float64(s.code[min(k, m.CACodeLength-1)])
}

// dataSign returns +1 for data bit 0 and -1 for 1
func (g *Generator) dataSign(s *satState, tx float64) float64 {
	idx := int64(math.Floor(tx / m.LNAVSubframeT))
	if idx != s.sfIdx {
		start := float64(idx) * m.LNAVSubframeT
		s.bits = m.EncodeLNAVSubframe(s.Eph, m.LNAVSubframeID(start), m.LNAVTOWCount(start), 0, 0)
		s.sfIdx = idx
	}
	k := int((tx - float64(idx)*m.LNAVSubframeT) / (m.LNAVBitPeriods * m.CACodePeriod))
	if s.bits[min(max(k, 0), m.LNAVSubframe-1)] != 0 {
		return -1
	}
	return 1
}

// Visible returns the satellites of nav above mask [deg] seen by a static
// receiver at rcv at time t, with flight time and doppler from the geometry
func Visible(nav m.Nav, rcv m.PosXYZ, t m.GTime, mask, cn0 float64) []Satellite {
	var sats []Satellite
	for prn := 1; prn <= 32; prn++ {
		sat := fmt.Sprintf("G%02d", prn)
		eph, err := nav.Select(sat, t)
		if err != nil || eph.Valid(t) != nil {
			continue
		}
		tau := 0.075
		var pos, vel m.PosXYZ
		for i := 0; i < 3; i++ {
			pos, vel = m.SatPosVel(eph, t.Add(-tau))
			pos = pos.RotateZ(m.OmegaEGPS * tau)
			tau = pos.Sub(rcv).Norm() / m.C
		}
		if m.ToDeg(rcv.Elevation(pos)) < mask {
			continue
		}
		dts := m.SatClock(eph, t.Add(-tau))
		e := pos.Sub(rcv).Scale(1 / pos.Sub(rcv).Norm())
		rate := e.Dot(vel)
		fd := (m.C*m.SatClockDrift(eph, t) - rate) / (m.C / m.L1)
		sats = append(sats, Satellite{
			PRN:     prn,
			Doppler: fd,
			Delay:   tau - dts,
			CN0:     cn0,
			Eph:     eph,
		})
	}
	return sats
}
