// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import "math"

// Data pattern of words 3 to 10 for subframes 4 and 5
const lnavIdleData = 0x555555

// LNAVSubframeID returns the subframe ID (1 to 5) of the subframe starting at tow
func LNAVSubframeID(tow float64) int {
	return int(math.Floor(tow/LNAVSubframeT))%5 + 1
}

// LNAVTOWCount returns the HOW time of week count of the subframe starting
// at tow, that is the start of the following subframe in units of 6 s
func LNAVTOWCount(tow float64) uint32 {
	return uint32(int(math.Floor(tow/LNAVSubframeT)+1) % (int(SecondsPerWeek) / LNAVSubframeT))
}

// EncodeLNAVSubframe returns the 300 transmitted bits of subframe id with
// HOW time of week count towCount. d29 and d30 are the last two transmitted
// bits of the previous subframe. Subframes 1 to 3 carry eph, 4 and 5 an idle
// pattern. Word 10 always ends with D29 = D30 = 0.
func EncodeLNAVSubframe(eph *Ephemeris, id int, towCount uint32, d29, d30 uint8) []uint8 {
	var buff [lnavSubframeSize]byte
	setbitu(buff[:], 0, 8, lnavPreamble)
	setbitu(buff[:], 30, 17, towCount)
	setbitu(buff[:], 49, 3, uint32(id))
	switch id {
	case 1:
		encodeLNAVSubframe1(buff[:], eph)
	case 2:
		encodeLNAVSubframe2(buff[:], eph)
	case 3:
		encodeLNAVSubframe3(buff[:], eph)
	default:
		for k := 2; k < LNAVWords; k++ {
			setbitu(buff[:], k*LNAVWordBits, 24, lnavIdleData)
		}
	}

	out := make([]uint8, 0, LNAVSubframe)
	p29, p30 := uint32(d29&1), uint32(d30&1)
	for k := 0; k < LNAVWords; k++ {
		d := getbitu(buff[:], k*LNAVWordBits, 24)
		var p uint32
		if k == 1 || k == 9 {
			d, p = lnavSolveTail(d, p29, p30)
		} else {
			p = lnavParity(p29<<31 | p30<<30 | d<<6)
		}
		if p30 != 0 {
			d ^= 0xFFFFFF
		}
		w := d<<6 | p
		for i := LNAVWordBits - 1; i >= 0; i-- {
			out = append(out, uint8(w>>i&1))
		}
		p29, p30 = p>>1&1, p&1
	}
	return out
}

// lnavSolveTail picks the two non-information bits at the end of a word so
// that its last two parity bits are zero
func lnavSolveTail(d, d29, d30 uint32) (uint32, uint32) {
	for t := uint32(0); t < 4; t++ {
		dt := d&^3 | t
		if p := lnavParity(d29<<31 | d30<<30 | dt<<6); p&3 == 0 {
			return dt, p
		}
	}
	return d, lnavParity(d29<<31 | d30<<30 | d<<6) // Not reached
}

func quantu(v, lsb float64) uint32 {
	return uint32(math.Round(v / lsb))
}

func quants(v, lsb float64) int32 {
	return int32(math.Round(v / lsb))
}

func encodeLNAVSubframe1(buff []byte, e *Ephemeris) {
	setbitu(buff, 60, 10, uint32(e.Week%1024))
	setbitu(buff, 70, 2, uint32(e.Code))
	setbitu(buff, 72, 4, uint32(e.Sva))
	setbitu(buff, 76, 6, uint32(e.Svh))
	setbitu2(buff, 82, 2, 210, 8, uint32(e.Iodc))
	setbitu(buff, 90, 1, uint32(e.Flag))
	setbits(buff, 196, 8, quants(e.Tgd, p2_31))
	setbitu(buff, 218, 16, quantu(e.Toc.Sec, 16))
	setbits(buff, 240, 8, quants(e.Af2, p2_55))
	setbits(buff, 248, 16, quants(e.Af1, p2_43))
	setbits(buff, 270, 22, quants(e.Af0, p2_31))
}

func encodeLNAVSubframe2(buff []byte, e *Ephemeris) {
	setbitu(buff, 60, 8, uint32(e.Iode))
	setbits(buff, 68, 16, quants(e.Crs, p2_5))
	setbits(buff, 90, 16, quants(e.DeltaN, p2_43*sc2rad))
	setbits2(buff, 106, 8, 120, 24, quants(e.M0, p2_31*sc2rad))
	setbits(buff, 150, 16, quants(e.Cuc, p2_29))
	setbitu2(buff, 166, 8, 180, 24, quantu(e.Ecc, p2_33))
	setbits(buff, 210, 16, quants(e.Cus, p2_29))
	setbitu2(buff, 226, 8, 240, 24, quantu(e.SqrtA, p2_19))
	setbitu(buff, 270, 16, quantu(e.Toe.Sec, 16))
	setbitu(buff, 286, 1, uint32(e.Fit))
}

func encodeLNAVSubframe3(buff []byte, e *Ephemeris) {
	setbits(buff, 60, 16, quants(e.Cic, p2_29))
	setbits2(buff, 76, 8, 90, 24, quants(e.Omega0, p2_31*sc2rad))
	setbits(buff, 120, 16, quants(e.Cis, p2_29))
	setbits2(buff, 136, 8, 150, 24, quants(e.I0, p2_31*sc2rad))
	setbits(buff, 180, 16, quants(e.Crc, p2_5))
	setbits2(buff, 196, 8, 210, 24, quants(e.Omega, p2_31*sc2rad))
	setbits(buff, 240, 24, quants(e.OmegaD, p2_43*sc2rad))
	setbitu(buff, 270, 8, uint32(e.Iode))
	setbits(buff, 278, 14, quants(e.Idot, p2_43*sc2rad))
}
