// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Start of a subframe 5, so that the stream begins one subframe before subframe 1
const lnavTestTOW = 100764.0

func lnavTestEphemeris() *Ephemeris {
	toe := GTime{Week: 2400, Sec: 100800}
	return &Ephemeris{
		PRN:    5,
		Toc:    toe,
		Toe:    toe,
		Iode:   45,
		Iodc:   45,
		Af0:    -1.234567e-4,
		Af1:    -3.41060513e-12,
		Af2:    0,
		Crs:    -12.5,
		DeltaN: 4.6e-9,
		M0:     -2.1835,
		Cuc:    -6.1e-7,
		Ecc:    0.0123456,
		Cus:    8.2e-6,
		SqrtA:  5153.6721,
		Cic:    1.1e-7,
		Omega0: 1.0813,
		Cis:    -5.2e-8,
		I0:     0.9632,
		Crc:    250.25,
		Omega:  -1.6891,
		OmegaD: -8.05e-9,
		Idot:   3.2e-10,
		Code:   1,
		Week:   2400,
		Sva:    0,
		Tgd:    -1.1641532e-8,
	}
}

// lnavStream returns n consecutive subframes starting at tow
func lnavStream(eph *Ephemeris, tow float64, n int) []uint8 {
	var bits []uint8
	for k := 0; k < n; k++ {
		t := tow + float64(k)*LNAVSubframeT
		bits = append(bits, EncodeLNAVSubframe(eph, LNAVSubframeID(t), LNAVTOWCount(t), 0, 0)...)
	}
	return bits
}

// decodeBits feeds the bits as 20 symbols each, the first at epoch0+1
func decodeBits(d *LNAVDecoder, bits []uint8, epoch0 uint64, sign float64) []NavMessage {
	var msgs []NavMessage
	epoch := epoch0
	for _, b := range bits {
		v := -sign
		if b != 0 {
			v = sign
		}
		for i := 0; i < LNAVBitPeriods; i++ {
			epoch++
			msgs = append(msgs, d.Decode(Symbol{Value: v, Epoch: epoch})...)
		}
	}
	return msgs
}

func ephemerides(msgs []NavMessage) []*Ephemeris {
	var ephs []*Ephemeris
	for _, m := range msgs {
		if m.Kind == EphemerisMessage {
			ephs = append(ephs, m.Ephemeris)
		}
	}
	return ephs
}

var ephemerisOpts = []cmp.Option{
	cmpopts.EquateApprox(1e-9, 1e-8),
	cmpopts.IgnoreFields(Ephemeris{}, "Tot"),
}

func newTestLNAVDecoder() *LNAVDecoder {
	return NewLNAVDecoder(SignalID{System: SystemGPS, Band: BandL1, PRN: 5}, LNAVParams{WeekReference: 2400})
}

func TestLNAVEncodedWordsPassParity(t *testing.T) {
	bits := lnavStream(lnavTestEphemeris(), lnavTestTOW, 5)
	var d29, d30 uint32
	for k := 0; k < len(bits)/LNAVWordBits; k++ {
		raw := bitsToUint(bits[k*LNAVWordBits : (k+1)*LNAVWordBits])
		_, ok := lnavCheckWord(raw, d29, d30)
		require.True(t, ok, "word %d", k)
		d29, d30 = raw>>1&1, raw&1
		if k%LNAVWords == LNAVWords-1 {
			assert.Zero(t, raw&3, "word 10 of subframe %d must end with zeros", k/LNAVWords)
		}
	}
}

func TestLNAVSubframeTiming(t *testing.T) {
	assert.Equal(t, 1, LNAVSubframeID(0))
	assert.Equal(t, 2, LNAVSubframeID(6))
	assert.Equal(t, 5, LNAVSubframeID(lnavTestTOW))
	assert.Equal(t, uint32(1), LNAVTOWCount(0))
	assert.Equal(t, uint32(0), LNAVTOWCount(SecondsPerWeek-LNAVSubframeT))
}

func TestLNAVRoundTrip(t *testing.T) {
	want := lnavTestEphemeris()
	const epoch0 = 7
	d := newTestLNAVDecoder()
	msgs := decodeBits(d, lnavStream(want, lnavTestTOW, 10), epoch0, 1)

	assert.Equal(t, DecoderFrameSync, d.Status())
	ephs := ephemerides(msgs)
	require.Len(t, ephs, 1)
	got := ephs[0]
	if df := cmp.Diff(want, got, ephemerisOpts...); df != "" {
		t.Errorf("ephemeris mismatch (-want +got):\n%s", df)
	}
	assert.Equal(t, GTime{Week: 2400, Sec: lnavTestTOW + LNAVSubframeT}, got.Tot)

	// Time anchors mark the end of each subframe
	var prev float64
	var nanchor int
	for _, m := range msgs {
		if m.Kind != TimeAnchorMessage {
			continue
		}
		a := m.Anchor
		nanchor++
		assert.Equal(t, LNAVSubframeID(a.TOW-LNAVSubframeT), a.SubframeID)
		assert.Equal(t, int64(math.Round((a.TOW-lnavTestTOW)*1000)), int64(a.Epoch-epoch0))
		if prev > 0 {
			assert.Equal(t, prev+LNAVSubframeT, a.TOW)
		}
		prev = a.TOW
		if a.SubframeID >= 2 {
			assert.Equal(t, 2400, a.Week)
		}
	}
	assert.GreaterOrEqual(t, nanchor, 8)

	// Quantized fields survive a second pass unchanged
	d2 := newTestLNAVDecoder()
	again := ephemerides(decodeBits(d2, lnavStream(got, lnavTestTOW, 10), epoch0, 1))
	require.Len(t, again, 1)
	if df := diff.Diff(got.String(), again[0].String()); df != "" {
		t.Errorf("ephemeris dump changed:\n%s", df)
	}
}

func TestLNAVInvertedPolarity(t *testing.T) {
	eph := lnavTestEphemeris()
	bits := lnavStream(eph, lnavTestTOW, 10)

	normal := ephemerides(decodeBits(newTestLNAVDecoder(), bits, 3, 1))
	inverted := ephemerides(decodeBits(newTestLNAVDecoder(), bits, 3, -1))
	require.Len(t, normal, 1)
	require.Len(t, inverted, 1)
	assert.Empty(t, cmp.Diff(normal[0], inverted[0]))
}

func TestLNAVParityFailure(t *testing.T) {
	want := lnavTestEphemeris()
	tests := []struct {
		name string
		bit  int // Bit within word 5 of subframe 2
	}{
		{"data bit", 5},
		{"parity bit", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bits := lnavStream(want, lnavTestTOW, 16)
			bits[2*LNAVSubframe+4*LNAVWordBits+tt.bit] ^= 1

			d := newTestLNAVDecoder()
			msgs := decodeBits(d, bits, 0, 1)

			st := d.Stats()
			assert.Equal(t, 1, st.ParityFailures)
			assert.ErrorIs(t, st.LastError, ErrParityFailure)
			assert.Contains(t, st.LastError.Error(), "subframe 2 word 5")
			assert.Zero(t, st.FrameSyncLosses)
			assert.Equal(t, DecoderFrameSync, d.Status())

			ephs := ephemerides(msgs)
			require.Len(t, ephs, 1)
			assert.Empty(t, cmp.Diff(want, ephs[0], ephemerisOpts...))
		})
	}
}

func TestLNAVNoPreamble(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	d := newTestLNAVDecoder()
	var epoch uint64
	reached := false
	for k := 0; k < 2000 && !reached; k++ {
		v := 1.0
		if rnd.Intn(2) == 0 {
			v = -1
		}
		for i := 0; i < LNAVBitPeriods; i++ {
			epoch++
			assert.Empty(t, d.Decode(Symbol{Value: v, Epoch: epoch}))
			if d.Status() == DecoderNoSync {
				reached = true
				break
			}
		}
	}
	require.True(t, reached)
	assert.ErrorIs(t, d.Stats().LastError, ErrFrameSyncLost)
	assert.Equal(t, -1, d.Week())
}

func TestLNAVReset(t *testing.T) {
	d := newTestLNAVDecoder()
	decodeBits(d, lnavStream(lnavTestEphemeris(), lnavTestTOW, 4), 0, 1)
	require.Equal(t, DecoderFrameSync, d.Status())
	require.Equal(t, 2400, d.Week())

	d.Reset()
	assert.Equal(t, DecoderBitSearch, d.Status())
	assert.Equal(t, DecoderStats{}, d.Stats())
	assert.Equal(t, -1, d.Week())
}

func TestAdjustWeek(t *testing.T) {
	assert.Equal(t, 2400, adjustWeek(2400%1024, 2400))
	assert.Equal(t, 2048, adjustWeek(0, 2040))
	assert.Equal(t, 2047, adjustWeek(1023, 2050))
}
