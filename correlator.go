// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.11
//

package gosdr

import (
	"math"
)

// Correlation is a correlator output at a code offset
type Correlation struct {
	Offset float64    // Code offset from the prompt replica [chip], positive is early
	IQ     complex128 // Accumulated in-phase/quadrature
}

// correlatorBank holds the correlator outputs of one integration:
// index 0 is prompt, then an (early, late) pair per configured offset
type correlatorBank struct {
	offsets []float64
	out     []complex128
}

func newCorrelatorBank(spacings []float64) *correlatorBank {
	offsets := []float64{0}
	for _, d := range spacings {
		offsets = append(offsets, d, -d)
	}
	return &correlatorBank{
		offsets: offsets,
		out:     make([]complex128, len(offsets)),
	}
}

func (b *correlatorBank) prompt() complex128 { return b.out[0] }
func (b *correlatorBank) early() complex128  { return b.out[1] }
func (b *correlatorBank) late() complex128   { return b.out[2] }

func (b *correlatorBank) correlations() []Correlation {
	c := make([]Correlation, len(b.out))
	for i := range b.out {
		c[i] = Correlation{Offset: b.offsets[i], IQ: b.out[i]}
	}
	return c
}

// integrate wipes off the carrier and accumulates the samples against the code
// replica at every offset.
//   - codePhase, codeStep: replica code phase of samples[0] and increment per sample [chip]
//   - carrPhase, carrStep: NCO carrier phase of samples[0] and increment per sample [cycle]
func (b *correlatorBank) integrate(samples []complex64, code []float32, codePhase, codeStep, carrPhase, carrStep float64) {
	for k := range b.out {
		b.out[k] = 0
	}
	n := len(code)
	nf := float64(n)

	// Carrier replica by phasor rotation, renormalized every block of samples
	const renorm = 1024
	rs, rc := math.Sincos(-2 * PI * carrStep)
	rot := complex(rc, rs)
	var lo complex128

	for i, s := range samples {
		if i%renorm == 0 {
			ps, pc := math.Sincos(-2 * PI * (carrPhase + float64(i)*carrStep))
			lo = complex(pc, ps)
		}
		w := complex128(s) * lo
		lo *= rot

		p := codePhase + float64(i)*codeStep
		for k, off := range b.offsets {
			q := p + off
			if q < 0 {
				q += nf
			}
			c := code[int(q)%n]
			b.out[k] += w * complex(float64(c), 0)
		}
	}
}
