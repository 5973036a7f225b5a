// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import (
	"fmt"
	"math"
	"math/bits"
)

// Scale factors of the LNAV message (IS-GPS-200)
const (
	p2_5   = 0.03125
	p2_19  = 1.907348632812500e-06
	p2_29  = 1.862645149230957e-09
	p2_31  = 4.656612873077393e-10
	p2_33  = 1.164153218269348e-10
	p2_43  = 1.136868377216160e-13
	p2_55  = 2.775557561562891e-17
	sc2rad = 3.1415926535898 // Semi-circle to radian
)

const (
	lnavPreamble     = 0x8B
	lnavWindowBits   = LNAVSubframe + 2 // Subframe plus D29*, D30* of the previous word
	lnavSubframeSize = (LNAVSubframe + 7) / 8
)

var lnavHamming = [6]uint32{
	0xBB1F3480, 0x5D8F9A40, 0xAEC7CD00, 0x5763E680, 0x6BB1F340, 0x8B7A89C0,
}

// lnavParity computes the six parity bits of a word laid out as
// D29*, D30* in bits 31-30 and the source data in bits 29-6
func lnavParity(w uint32) uint32 {
	var p uint32
	for _, h := range lnavHamming {
		p = p<<1 | uint32(bits.OnesCount32(w&h)&1)
	}
	return p
}

// lnavCheckWord removes the D30* inversion from a received 30-bit word and
// checks its parity
func lnavCheckWord(raw, d29, d30 uint32) (uint32, bool) {
	d := raw >> 6 & 0xFFFFFF
	if d30 != 0 {
		d ^= 0xFFFFFF
	}
	w := d29<<31 | d30<<30 | d<<6
	return d, lnavParity(w) == raw&0x3F
}

// LNAVParams configures an LNAV decoder
type LNAVParams struct {
	WeekReference    int // Week used to resolve the 10-bit week number
	BitSyncThreshold int // Transitions required at the winning bit boundary
	NoSyncBits       int // Bits without a preamble before bit sync is restarted
}

func DefaultLNAVParams() LNAVParams {
	return LNAVParams{
		WeekReference:    2400,
		BitSyncThreshold: 10,
		NoSyncBits:       3 * LNAVSubframe,
	}
}

func (p LNAVParams) withDefaults() LNAVParams {
	d := DefaultLNAVParams()
	if p.WeekReference <= 0 {
		p.WeekReference = d.WeekReference
	}
	if p.BitSyncThreshold <= 0 {
		p.BitSyncThreshold = d.BitSyncThreshold
	}
	if p.NoSyncBits <= 0 {
		p.NoSyncBits = d.NoSyncBits
	}
	return p
}

// LNAVDecoder decodes the GPS L1 C/A legacy navigation message from prompt
// correlator outputs. It is not safe for concurrent use.
type LNAVDecoder struct {
	sid    SignalID
	prm    LNAVParams
	status DecoderStatus
	stats  DecoderStats

	// Bit synchronization
	hist     [LNAVBitPeriods]int
	prev     float64
	havePrev bool
	edge     int // Epoch modulo 20 at which a bit ends
	acc      float64
	nacc     int

	// Frame synchronization
	win        [lnavWindowBits]uint8
	nwin       int
	sinceFound int // Bits since the last subframe start while searching
	sinceCheck int // Bits since the last subframe start while locked
	misses     int

	// Ephemeris assembly
	sf       [3][lnavSubframeSize]byte
	have     [3]bool
	week     int
	lastIode int
	lastIodc int
}

func NewLNAVDecoder(sid SignalID, prm LNAVParams) *LNAVDecoder {
	d := &LNAVDecoder{sid: sid, prm: prm.withDefaults()}
	d.Reset()
	return d
}

func (d *LNAVDecoder) Reset() {
	d.status = DecoderBitSearch
	d.stats = DecoderStats{}
	d.resetBitSync()
	d.have = [3]bool{}
	d.week = -1
	d.lastIode, d.lastIodc = -1, -1
}

func (d *LNAVDecoder) resetBitSync() {
	d.hist = [LNAVBitPeriods]int{}
	d.havePrev = false
	d.acc, d.nacc = 0, 0
	d.nwin = 0
	d.sinceFound, d.sinceCheck, d.misses = 0, 0, 0
}

func (d *LNAVDecoder) Status() DecoderStatus { return d.status }

func (d *LNAVDecoder) Stats() DecoderStats { return d.stats }

// Week returns the resolved GPS week or -1 before subframe 1 was decoded
func (d *LNAVDecoder) Week() int { return d.week }

func (d *LNAVDecoder) Decode(s Symbol) []NavMessage {
	if d.status == DecoderBitSearch || d.status == DecoderNoSync {
		d.searchBitEdge(s)
		return nil
	}
	d.acc += s.Value
	d.nacc++
	if int(s.Epoch%LNAVBitPeriods) != d.edge {
		return nil
	}
	full := d.nacc == LNAVBitPeriods // A partial first bit is dropped
	acc := d.acc
	d.acc, d.nacc = 0, 0
	if !full {
		return nil
	}
	var b uint8
	if acc > 0 {
		b = 1
	}
	return d.pushBit(b, s.Epoch)
}

// searchBitEdge votes for the position of sign changes within the 20 code
// periods of a data bit
func (d *LNAVDecoder) searchBitEdge(s Symbol) {
	if d.havePrev && (d.prev > 0) != (s.Value > 0) {
		d.hist[(s.Epoch-1)%LNAVBitPeriods]++
	}
	d.prev, d.havePrev = s.Value, true

	best, second := 0, 0
	for i, n := range d.hist {
		if n > d.hist[best] {
			best = i
		}
	}
	for i, n := range d.hist {
		if i != best && n > second {
			second = n
		}
	}
	if d.hist[best] < d.prm.BitSyncThreshold || d.hist[best] < 2*second {
		return
	}
	d.edge = best
	d.status = DecoderFrameSearch
	d.acc, d.nacc = 0, 0
	d.nwin, d.sinceFound = 0, 0
	if int(s.Epoch%LNAVBitPeriods) == best {
		return // The next symbol starts a bit
	}
	d.nacc = LNAVBitPeriods + 1 // Discard the bit in progress
}

func (d *LNAVDecoder) pushBit(b uint8, epoch uint64) []NavMessage {
	d.stats.Bits++
	if d.nwin < lnavWindowBits {
		d.win[d.nwin] = b
		d.nwin++
	} else {
		copy(d.win[:], d.win[1:])
		d.win[lnavWindowBits-1] = b
	}
	if d.nwin < lnavWindowBits {
		return nil
	}

	var msgs []NavMessage
	switch d.status {
	case DecoderFrameSearch:
		d.sinceFound++
		if d.decodeSubframe(epoch, false, &msgs) {
			d.status = DecoderFrameSync
			d.sinceCheck, d.misses = 0, 0
		} else if d.sinceFound > d.prm.NoSyncBits {
			d.stats.LastError = fmt.Errorf("%w: %s no preamble in %d bits", ErrFrameSyncLost, d.sid, d.sinceFound)
			d.status = DecoderNoSync
			d.resetBitSync()
		}
	case DecoderFrameSync:
		d.sinceCheck++
		if d.sinceCheck < LNAVSubframe {
			break
		}
		d.sinceCheck = 0
		if d.decodeSubframe(epoch, true, &msgs) {
			d.misses = 0
			break
		}
		d.misses++
		if d.misses >= 2 {
			d.stats.FrameSyncLosses++
			d.stats.LastError = fmt.Errorf("%w: %s", ErrFrameSyncLost, d.sid)
			d.status = DecoderFrameSearch
			d.sinceFound = 0
		}
	}
	return msgs
}

// decodeSubframe tries the window as one subframe preceded by the last two
// bits of the previous word. It returns true when TLM and HOW are valid.
func (d *LNAVDecoder) decodeSubframe(epoch uint64, locked bool, msgs *[]NavMessage) bool {
	var pol uint8
	switch pre := bitsToUint(d.win[2:10]); pre {
	case lnavPreamble:
	case ^uint32(lnavPreamble) & 0xFF:
		pol = 1
	default:
		if locked {
			d.stats.ParityFailures++
			d.stats.LastError = fmt.Errorf("%w: %s preamble %#02x", ErrParityFailure, d.sid, pre)
		}
		return false
	}
	var w [lnavWindowBits]uint8
	for i, b := range d.win {
		w[i] = b ^ pol
	}

	var buff [lnavSubframeSize]byte
	var bad []int
	d29, d30 := uint32(w[0]), uint32(w[1])
	for k := 0; k < LNAVWords; k++ {
		off := 2 + k*LNAVWordBits
		raw := bitsToUint(w[off : off+LNAVWordBits])
		data, ok := lnavCheckWord(raw, d29, d30)
		if !ok {
			bad = append(bad, k)
		}
		setbitu(buff[:], k*LNAVWordBits, 24, data)
		setbitu(buff[:], k*LNAVWordBits+24, 6, raw&0x3F)
		d29, d30 = raw>>1&1, raw&1
	}
	tlmHowOK := len(bad) == 0 || bad[0] > 1
	if !tlmHowOK && !locked {
		return false
	}
	id := int(getbitu(buff[:], 49, 3))
	for _, k := range bad {
		d.stats.ParityFailures++
		d.stats.LastError = fmt.Errorf("%w: %s subframe %d word %d", ErrParityFailure, d.sid, id, k+1)
	}
	if !tlmHowOK {
		return false
	}
	tow := float64(getbitu(buff[:], 30, 17)) * LNAVSubframeT
	if id < 1 || id > 5 || tow >= SecondsPerWeek {
		return false
	}

	d.stats.Subframes++
	if len(bad) == 0 && id <= 3 {
		d.sf[id-1] = buff
		d.have[id-1] = true
		if id == 1 {
			d.week = adjustWeek(int(getbitu(buff[:], 60, 10)), d.prm.WeekReference)
		}
	}
	*msgs = append(*msgs, NavMessage{
		Kind: TimeAnchorMessage,
		Anchor: TimeAnchor{
			TOW:        tow,
			Epoch:      epoch,
			Week:       d.week,
			SubframeID: id,
		},
	})
	if eph := d.assemble(); eph != nil {
		*msgs = append(*msgs, NavMessage{Kind: EphemerisMessage, Ephemeris: eph})
	}
	return true
}

// assemble builds an ephemeris once subframes 1 to 3 of one issue are held
func (d *LNAVDecoder) assemble() *Ephemeris {
	if !d.have[0] || !d.have[1] || !d.have[2] {
		return nil
	}
	iodc := int(getbitu2(d.sf[0][:], 82, 2, 210, 8))
	iode2 := int(getbitu(d.sf[1][:], 60, 8))
	iode3 := int(getbitu(d.sf[2][:], 270, 8))
	if iode2 != iode3 || iodc&0xFF != iode2 {
		return nil
	}
	if iode2 == d.lastIode && iodc == d.lastIodc {
		return nil
	}
	d.lastIode, d.lastIodc = iode2, iodc
	return decodeLNAVEphemeris(int(d.sid.PRN), d.sf[0][:], d.sf[1][:], d.sf[2][:], d.prm.WeekReference)
}

func decodeLNAVEphemeris(prn int, sf1, sf2, sf3 []byte, weekRef int) *Ephemeris {
	e := &Ephemeris{PRN: prn}

	tow := float64(getbitu(sf1, 30, 17))*LNAVSubframeT - LNAVSubframeT
	e.Week = adjustWeek(int(getbitu(sf1, 60, 10)), weekRef)
	e.Code = int(getbitu(sf1, 70, 2))
	e.Sva = int(getbitu(sf1, 72, 4))
	e.Svh = int(getbitu(sf1, 76, 6))
	e.Iodc = int(getbitu2(sf1, 82, 2, 210, 8))
	e.Flag = int(getbitu(sf1, 90, 1))
	e.Tgd = float64(getbits(sf1, 196, 8)) * p2_31
	toc := float64(getbitu(sf1, 218, 16)) * 16
	e.Af2 = float64(getbits(sf1, 240, 8)) * p2_55
	e.Af1 = float64(getbits(sf1, 248, 16)) * p2_43
	e.Af0 = float64(getbits(sf1, 270, 22)) * p2_31

	e.Iode = int(getbitu(sf2, 60, 8))
	e.Crs = float64(getbits(sf2, 68, 16)) * p2_5
	e.DeltaN = float64(getbits(sf2, 90, 16)) * p2_43 * sc2rad
	e.M0 = float64(getbits2(sf2, 106, 8, 120, 24)) * p2_31 * sc2rad
	e.Cuc = float64(getbits(sf2, 150, 16)) * p2_29
	e.Ecc = float64(getbitu2(sf2, 166, 8, 180, 24)) * p2_33
	e.Cus = float64(getbits(sf2, 210, 16)) * p2_29
	e.SqrtA = float64(getbitu2(sf2, 226, 8, 240, 24)) * p2_19
	toe := float64(getbitu(sf2, 270, 16)) * 16
	e.Fit = float64(getbitu(sf2, 286, 1))

	e.Cic = float64(getbits(sf3, 60, 16)) * p2_29
	e.Omega0 = float64(getbits2(sf3, 76, 8, 90, 24)) * p2_31 * sc2rad
	e.Cis = float64(getbits(sf3, 120, 16)) * p2_29
	e.I0 = float64(getbits2(sf3, 136, 8, 150, 24)) * p2_31 * sc2rad
	e.Crc = float64(getbits(sf3, 180, 16)) * p2_5
	e.Omega = float64(getbits2(sf3, 196, 8, 210, 24)) * p2_31 * sc2rad
	e.OmegaD = float64(getbits(sf3, 240, 24)) * p2_43 * sc2rad
	e.Idot = float64(getbits(sf3, 278, 14)) * p2_43 * sc2rad

	e.Tot = GTime{Week: e.Week, Sec: tow}
	e.Toe = GTime{Week: weekNear(e.Week, toe, tow), Sec: toe}
	e.Toc = GTime{Week: weekNear(e.Week, toc, tow), Sec: toc}
	return e
}

// adjustWeek resolves a 10-bit week number to the full week nearest ref
func adjustWeek(week10, ref int) int {
	return week10 + int(math.Round(float64(ref-week10)/1024))*1024
}

// weekNear returns the week of sec given a time of week tow in week
func weekNear(week int, sec, tow float64) int {
	switch d := sec - tow; {
	case d < -HalfWeek:
		return week + 1
	case d > HalfWeek:
		return week - 1
	}
	return week
}

func bitsToUint(b []uint8) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<1 | uint32(x&1)
	}
	return v
}
