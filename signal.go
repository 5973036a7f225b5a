// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.9
//

package gosdr

import (
	"fmt"
	"strconv"
	"strings"
)

// GNSSSystem is a satellite constellation
type GNSSSystem uint8

const (
	SystemGPS GNSSSystem = iota
	SystemGalileo
	SystemBeiDou
	SystemGLONASS
)

// Character used in satellite names (RINEX convention)
func (s GNSSSystem) Char() byte {
	switch s {
	case SystemGPS:
		return 'G'
	case SystemGalileo:
		return 'E'
	case SystemBeiDou:
		return 'C'
	case SystemGLONASS:
		return 'R'
	default:
		return '?'
	}
}

// Band is a carrier frequency band
type Band uint8

const (
	BandL1 Band = iota
	BandL2
	BandL5
)

func (b Band) String() string {
	switch b {
	case BandL1:
		return "L1"
	case BandL2:
		return "L2"
	case BandL5:
		return "L5"
	default:
		return "L?"
	}
}

// SignalID identifies one signal: one channel and one ephemeris slot
type SignalID struct {
	System GNSSSystem
	Band   Band
	PRN    uint16
}

// String returns the signal name, e.g. "G01-L1"
func (s SignalID) String() string {
	return fmt.Sprintf("%c%02d-%s", s.System.Char(), s.PRN, s.Band)
}

// Sat returns the satellite name, e.g. "G01"
func (s SignalID) Sat() string {
	return fmt.Sprintf("%c%02d", s.System.Char(), s.PRN)
}

// ParseSignalID reads "G01" or "G01-L1". The band defaults to L1.
func ParseSignalID(s string) (SignalID, error) {
	var id SignalID
	sat, band, hasBand := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "-")
	if len(sat) < 2 {
		return id, fmt.Errorf("invalid signal name %q", s)
	}
	switch sat[0] {
	case 'G':
		id.System = SystemGPS
	case 'E':
		id.System = SystemGalileo
	case 'C':
		id.System = SystemBeiDou
	case 'R':
		id.System = SystemGLONASS
	default:
		return id, fmt.Errorf("invalid system in signal name %q", s)
	}
	prn, err := strconv.ParseUint(sat[1:], 10, 16)
	if err != nil || prn == 0 {
		return id, fmt.Errorf("invalid PRN in signal name %q", s)
	}
	id.PRN = uint16(prn)
	if hasBand {
		switch band {
		case "L1":
			id.Band = BandL1
		case "L2":
			id.Band = BandL2
		case "L5":
			id.Band = BandL5
		default:
			return id, fmt.Errorf("invalid band in signal name %q", s)
		}
	}
	return id, nil
}

// Signal describes a spread-spectrum signal the receiver can track
type Signal interface {
	ID() SignalID
	CarrierFreq() float64 // [Hz]
	CodeRate() float64    // Nominal chipping rate [chip/s]
	Code() []float32      // One code period, +1/-1 per chip
	NewDecoder() NavDataDecoder
}

// GPSL1CA is the GPS L1 C/A signal of one PRN
type GPSL1CA struct {
	prn     int
	code    []float32
	weekRef int
}

// NewGPSL1CA creates the signal for PRN 1-37. weekRef resolves the
// broadcast 10-bit week number (0 uses the decoder default).
func NewGPSL1CA(prn int, weekRef int) (*GPSL1CA, error) {
	chips, err := GenerateCACode(prn)
	if err != nil {
		return nil, err
	}
	code := make([]float32, len(chips))
	for i, c := range chips {
		code[i] = float32(c)
	}
	return &GPSL1CA{prn: prn, code: code, weekRef: weekRef}, nil
}

func (s *GPSL1CA) ID() SignalID {
	return SignalID{System: SystemGPS, Band: BandL1, PRN: uint16(s.prn)}
}

func (s *GPSL1CA) CarrierFreq() float64 { return L1 }

func (s *GPSL1CA) CodeRate() float64 { return CACodeRate }

func (s *GPSL1CA) Code() []float32 { return s.code }

func (s *GPSL1CA) NewDecoder() NavDataDecoder {
	return NewLNAVDecoder(s.ID(), LNAVParams{WeekReference: s.weekRef})
}
