// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.10
//

package gosdr

// LoopErrorKind tells a loop filter what a discriminator value measures
type LoopErrorKind int

const (
	PhaseError     LoopErrorKind = iota // Phase of the input relative to the NCO [cycle or chip]
	FrequencyError                      // Frequency of the input relative to the NCO [Hz or chip/s]
)

// LoopInput is one discriminator output
type LoopInput struct {
	Error    float64
	Kind     LoopErrorKind
	Interval float64 // Integration interval that produced Error [s]
}

// LoopCommand is the NCO correction produced by a loop filter
type LoopCommand struct {
	Frequency float64 // New NCO frequency (absolute, same unit as the filter state)
	PhaseStep float64 // One-shot phase adjustment to apply to the NCO
}

// LoopFilter turns discriminator outputs into NCO commands.
// One instance drives one loop and is owned by one channel.
type LoopFilter interface {
	// Reset restarts the filter around an initial frequency
	Reset(freq float64)
	// Update consumes one discriminator output
	Update(in LoopInput) LoopCommand
}

// PLLParams configures PLLLoopFilter
type PLLParams struct {
	PLLBandwidth float64 // Noise bandwidth of the phase loop [Hz]
	FLLBandwidth float64 // Noise bandwidth of the frequency loop [Hz]
}

// DefaultPLLParams returns typical bandwidths for a static receiver
func DefaultPLLParams() PLLParams {
	return PLLParams{
		PLLBandwidth: 15.0,
		FLLBandwidth: 10.0,
	}
}

// PLLLoopFilter is a second-order PLL assisted by a first-order FLL
type PLLLoopFilter struct {
	w2      float64 // Natural frequency squared
	aw      float64 // Proportional gain (2 zeta wn)
	fllW    float64 // FLL gain
	freq    float64 // Current NCO frequency
	prevErr float64 // Previous phase error
	locked  bool    // Previous phase error is valid
}

// NewPLLLoopFilter creates the filter. Zero bandwidths take the defaults.
func NewPLLLoopFilter(prm PLLParams) *PLLLoopFilter {
	def := DefaultPLLParams()
	if prm.PLLBandwidth <= 0 {
		prm.PLLBandwidth = def.PLLBandwidth
	}
	if prm.FLLBandwidth <= 0 {
		prm.FLLBandwidth = def.FLLBandwidth
	}
	wn := prm.PLLBandwidth / 0.53 // zeta = 0.707
	return &PLLLoopFilter{
		w2:   wn * wn,
		aw:   1.414 * wn,
		fllW: prm.FLLBandwidth / 0.25,
	}
}

func (f *PLLLoopFilter) Reset(freq float64) {
	f.freq = freq
	f.prevErr = 0
	f.locked = false
}

func (f *PLLLoopFilter) Update(in LoopInput) LoopCommand {
	switch in.Kind {
	case FrequencyError:
		f.freq += f.fllW * in.Interval * in.Error
		f.locked = false
	default:
		prev := f.prevErr
		if !f.locked {
			prev = in.Error
		}
		f.freq += f.aw*(in.Error-prev) + f.w2*in.Interval*in.Error
		f.prevErr = in.Error
		f.locked = true
	}
	return LoopCommand{Frequency: f.freq}
}
