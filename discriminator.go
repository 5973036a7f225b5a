// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"fmt"
	"math"
	"math/cmplx"
)

// CodeDiscriminator selects the code (DLL) discriminator
type CodeDiscriminator int

const (
	EMLEnvelope CodeDiscriminator = iota // Normalized early-minus-late envelope
	EMLPower                             // Normalized early-minus-late power
	DotProduct                           // Coherent dot product, needs carrier phase lock
)

// Discriminate returns the code phase error [chip] from the early, prompt and
// late correlator outputs. The early replica leads the prompt by d chips and the
// late replica lags it by d chips. A positive result means the incoming code is
// ahead of the local replica.
func (m CodeDiscriminator) Discriminate(e, p, l complex128, d float64) float64 {
	switch m {
	case EMLPower:
		pe, pl := SQ(cmplx.Abs(e)), SQ(cmplx.Abs(l))
		if pe+pl == 0 {
			return 0
		}
		return (pe - pl) / (pe + pl) * (1 - d) / 2
	case DotProduct:
		pp := SQ(cmplx.Abs(p))
		if pp == 0 {
			return 0
		}
		return real((e-l)*cmplx.Conj(p)) / pp / 2
	default:
		ae, al := cmplx.Abs(e), cmplx.Abs(l)
		if ae+al == 0 {
			return 0
		}
		return (ae - al) / (ae + al) * (1 - d)
	}
}

func (m CodeDiscriminator) String() string {
	switch m {
	case EMLEnvelope:
		return "eml_envelope"
	case EMLPower:
		return "eml_power"
	case DotProduct:
		return "dot_product"
	default:
		return fmt.Sprintf("CodeDiscriminator(%d)", int(m))
	}
}

// ParseCodeDiscriminator returns the discriminator named by s
func ParseCodeDiscriminator(s string) (CodeDiscriminator, error) {
	for _, m := range []CodeDiscriminator{EMLEnvelope, EMLPower, DotProduct} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown code discriminator %q", s)
}

// CarrierDiscriminator selects the carrier (PLL) phase discriminator
type CarrierDiscriminator int

const (
	ATan             CarrierDiscriminator = iota // Costas atan(Q/I), insensitive to data bits
	ATan2                                        // atan2(Q, I), for data-free signals
	DecisionDirected                             // Costas Q*sign(I)/|P|
)

// Discriminate returns the carrier phase error [cycle] of the prompt
// correlator output. A positive result means the incoming carrier leads the NCO.
func (m CarrierDiscriminator) Discriminate(p complex128) float64 {
	i, q := real(p), imag(p)
	switch m {
	case ATan2:
		return math.Atan2(q, i) / (2 * PI)
	case DecisionDirected:
		a := cmplx.Abs(p)
		if a == 0 {
			return 0
		}
		if i < 0 {
			q = -q
		}
		return math.Asin(q/a) / (2 * PI)
	default:
		if i == 0 {
			if q == 0 {
				return 0
			}
			return math.Copysign(0.25, q)
		}
		return math.Atan(q/i) / (2 * PI)
	}
}

func (m CarrierDiscriminator) String() string {
	switch m {
	case ATan:
		return "atan"
	case ATan2:
		return "atan2"
	case DecisionDirected:
		return "decision_directed"
	default:
		return fmt.Sprintf("CarrierDiscriminator(%d)", int(m))
	}
}

// ParseCarrierDiscriminator returns the discriminator named by s
func ParseCarrierDiscriminator(s string) (CarrierDiscriminator, error) {
	for _, m := range []CarrierDiscriminator{ATan, ATan2, DecisionDirected} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown carrier discriminator %q", s)
}

// FrequencyDiscriminator returns the carrier frequency error [Hz] between two
// consecutive prompt outputs integrated over dt [s] each. The cross/dot form is
// insensitive to a data bit transition between them; its range is +-1/(4 dt).
func FrequencyDiscriminator(prev, curr complex128, dt float64) float64 {
	cross := real(prev)*imag(curr) - imag(prev)*real(curr)
	dot := real(prev)*real(curr) + imag(prev)*imag(curr)
	if dot == 0 {
		if cross == 0 {
			return 0
		}
		return math.Copysign(0.25, cross) / dt
	}
	return math.Atan(cross/dot) / (2 * PI * dt)
}
