// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.12
//

package gosdr

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

// Maximum age of an ephemeris relative to Toe [s]
const maxDToe = 7201

// Ephemeris is the broadcast orbit and clock model of one GPS satellite, one issue
type Ephemeris struct {
	PRN  int
	Toc  GTime // Reference time for satellite clock error correction
	Toe  GTime // Reference time for satellite orbit calculation
	Tot  GTime // Transmission time
	Iode int
	Iodc int

	Af0    float64
	Af1    float64
	Af2    float64
	Crs    float64
	DeltaN float64
	M0     float64
	Cuc    float64
	Ecc    float64
	Cus    float64
	SqrtA  float64
	Cic    float64
	Omega0 float64
	Cis    float64
	I0     float64
	Crc    float64
	Omega  float64
	OmegaD float64
	Idot   float64
	Code   int
	Week   int
	Flag   int
	Sva    int
	Svh    int
	Tgd    float64
	Fit    float64 // Fit interval flag (LNAV) or hours (RINEX)
}

// Sat is the satellite name ("G05")
func (e *Ephemeris) Sat() string {
	return fmt.Sprintf("G%02d", e.PRN)
}

// Healthy reports the SV health word is zero
func (e *Ephemeris) Healthy() bool {
	return e.Svh == 0
}

// Valid checks that the ephemeris may be used at t
func (e *Ephemeris) Valid(t GTime) error {
	if !e.Healthy() {
		return fmt.Errorf("%w: %s svh=%#x", ErrUnhealthy, e.Sat(), e.Svh)
	}
	if math.Abs(t.Sub(e.Toe)) > maxDToe {
		return fmt.Errorf("%w: %s toe=%v t=%v", ErrEphemerisMissing, e.Sat(), e.Toe, t)
	}
	return nil
}

func (e *Ephemeris) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Nav. for %s\n", e.Sat())
	fmt.Fprintf(&sb, "    Toc: %v (%v)\n", e.Toc.ToTime(), e.Toc)
	fmt.Fprintf(&sb, "    Toe: %v (%v)\n", e.Toe.ToTime(), e.Toe)
	fmt.Fprintf(&sb, "    Tot: %v (%v)\n", e.Tot.ToTime(), e.Tot)
	fmt.Fprintf(&sb, "   Iode: %v\n", e.Iode)
	fmt.Fprintf(&sb, "   Iodc: %v\n", e.Iodc)
	fmt.Fprintf(&sb, "    Af0: %v\n", e.Af0)
	fmt.Fprintf(&sb, "    Af1: %v\n", e.Af1)
	fmt.Fprintf(&sb, "    Af2: %v\n", e.Af2)
	fmt.Fprintf(&sb, "    Crs: %v\n", e.Crs)
	fmt.Fprintf(&sb, " DeltaN: %v\n", e.DeltaN)
	fmt.Fprintf(&sb, "     M0: %v\n", e.M0)
	fmt.Fprintf(&sb, "    Cuc: %v\n", e.Cuc)
	fmt.Fprintf(&sb, "    Ecc: %v\n", e.Ecc)
	fmt.Fprintf(&sb, "    Cus: %v\n", e.Cus)
	fmt.Fprintf(&sb, "  SqrtA: %v\n", e.SqrtA)
	fmt.Fprintf(&sb, "    Cic: %v\n", e.Cic)
	fmt.Fprintf(&sb, " Omega0: %v\n", e.Omega0)
	fmt.Fprintf(&sb, "    Cis: %v\n", e.Cis)
	fmt.Fprintf(&sb, "     I0: %v\n", e.I0)
	fmt.Fprintf(&sb, "    Crc: %v\n", e.Crc)
	fmt.Fprintf(&sb, "  Omega: %v\n", e.Omega)
	fmt.Fprintf(&sb, " OmegaD: %v\n", e.OmegaD)
	fmt.Fprintf(&sb, "   Idot: %v\n", e.Idot)
	fmt.Fprintf(&sb, "   Code: %v\n", e.Code)
	fmt.Fprintf(&sb, "   Week: %v\n", e.Week)
	fmt.Fprintf(&sb, "   Flag: %v\n", e.Flag)
	fmt.Fprintf(&sb, "    Sva: %v\n", e.Sva)
	fmt.Fprintf(&sb, "    Svh: %v\n", e.Svh)
	fmt.Fprintf(&sb, "    Tgd: %v\n", e.Tgd)
	fmt.Fprintf(&sb, "    Fit: %v\n", e.Fit)
	return sb.String()
}

// Nav holds ephemerides per satellite name, each slice sorted by Tot ascending
type Nav map[string][]*Ephemeris

// Add inserts e unless an ephemeris with the same Iode and Toe is already held
func (nav Nav) Add(e *Ephemeris) {
	sat := e.Sat()
	for _, x := range nav[sat] {
		if x.Iode == e.Iode && x.Toe == e.Toe {
			return
		}
	}
	s := append(nav[sat], e)
	slices.SortStableFunc(s, func(a, b *Ephemeris) int {
		switch {
		case a.Tot.Less(b.Tot):
			return -1
		case b.Tot.Less(a.Tot):
			return 1
		}
		return 0
	})
	nav[sat] = s
}

// Select returns the ephemeris whose Toe is closest to t within maxDToe
func (nav Nav) Select(sat string, t GTime) (*Ephemeris, error) {
	ephs, ok := nav[sat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEphemerisMissing, sat)
	}
	diffMax := float64(maxDToe)
	j := -1
	for i, e := range ephs {
		if diff := math.Abs(e.Toe.Sub(t)); diff < diffMax {
			diffMax = diff
			j = i
		}
	}
	if j < 0 {
		return nil, fmt.Errorf("%w: no valid ephemeris for %s at %v", ErrEphemerisMissing, sat, t)
	}
	return ephs[j], nil
}

// Display navigation data overview
func (nav Nav) String() string {
	keys := make([]string, 0, len(nav))
	for k := range nav {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	sb.WriteString("toe:\n")
	for _, sat := range keys {
		fmt.Fprintf(&sb, "\t%s: ", sat)
		if ephs := nav[sat]; len(ephs) > 0 {
			st := ephs[0].Toe
			et := ephs[len(ephs)-1].Toe
			fmt.Fprintf(&sb, "%s - %s (%d)\n",
				st.ToTime().Format("2006/01/02 15:04:05.000"), et.ToTime().Format("2006/01/02 15:04:05.000"), len(ephs))
		} else {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
