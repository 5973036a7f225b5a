// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.9
//

package gosdr

import (
	"encoding/binary"
	"math"
)

// CI16 is one 16-bit integer complex sample (interleaved I, Q on disk)
type CI16 struct {
	I int16
	Q int16
}

// CI16Size is the on-disk size of one sample [bytes]
const CI16Size = 4

// ToComplex64 converts src into dst, growing dst as needed
func ToComplex64(dst []complex64, src []CI16) []complex64 {
	if cap(dst) < len(src) {
		dst = make([]complex64, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = complex(float32(s.I), float32(s.Q))
	}
	return dst
}

// ToCI16 converts src into dst with the given scale, saturating at the int16 range
func ToCI16(dst []CI16, src []complex64, scale float64) []CI16 {
	if cap(dst) < len(src) {
		dst = make([]CI16, len(src))
	}
	dst = dst[:len(src)]
	for i, s := range src {
		dst[i] = CI16{I: sat16(float64(real(s)) * scale), Q: sat16(float64(imag(s)) * scale)}
	}
	return dst
}

func sat16(x float64) int16 {
	x = math.Round(x)
	if x > math.MaxInt16 {
		return math.MaxInt16
	}
	if x < math.MinInt16 {
		return math.MinInt16
	}
	return int16(x)
}

// DecodeCI16 decodes little-endian interleaved IQ bytes. Trailing bytes
// that do not make a whole sample are ignored.
func DecodeCI16(dst []CI16, buf []byte) []CI16 {
	n := len(buf) / CI16Size
	if cap(dst) < n {
		dst = make([]CI16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i].I = int16(binary.LittleEndian.Uint16(buf[i*CI16Size:]))
		dst[i].Q = int16(binary.LittleEndian.Uint16(buf[i*CI16Size+2:]))
	}
	return dst
}

// EncodeCI16 appends samples as little-endian interleaved IQ bytes
func EncodeCI16(buf []byte, src []CI16) []byte {
	for _, s := range src {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s.I))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(s.Q))
	}
	return buf
}
