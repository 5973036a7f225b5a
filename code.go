// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.9
//

package gosdr

import (
	"fmt"
	"math"
)

// G2 delay [chips] for PRN 1-37 (IS-GPS-200 Table 3-Ia)
var caG2Delay = [...]int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251,
	252, 254, 255, 256, 257, 258, 469, 470, 471, 472,
	473, 474, 509, 512, 513, 514, 515, 516, 859, 860,
	861, 862, 863, 950, 947, 948, 950,
}

// GenerateCACode generates one period of the GPS C/A code.
// Chips are +1 (logical 1) or -1 (logical 0).
func GenerateCACode(prn int) ([]int8, error) {
	if prn < 1 || prn > len(caG2Delay) {
		return nil, fmt.Errorf("%w: C/A code PRN %d out of range 1-%d", ErrInvalidConfig, prn, len(caG2Delay))
	}

	// Shift registers in +1/-1 form, so XOR becomes a product
	var r1, r2 [10]int8
	for i := range r1 {
		r1[i] = -1
		r2[i] = -1
	}
	var g1, g2 [CACodeLength]int8
	for i := 0; i < CACodeLength; i++ {
		g1[i] = r1[9]
		g2[i] = r2[9]
		c1 := r1[2] * r1[9]
		c2 := r2[1] * r2[2] * r2[5] * r2[7] * r2[8] * r2[9]
		copy(r1[1:], r1[:9])
		copy(r2[1:], r2[:9])
		r1[0] = c1
		r2[0] = c2
	}

	code := make([]int8, CACodeLength)
	j := CACodeLength - caG2Delay[prn-1]
	for i := range code {
		code[i] = -g1[i] * g2[j%CACodeLength]
		j++
	}
	return code, nil
}

// sampleCode fills dst with code chips sampled at phase + i*step [chip]
func sampleCode(dst []float32, code []float32, phase, step float64) {
	n := float64(len(code))
	phase = math.Mod(phase, n)
	if phase < 0 {
		phase += n
	}
	for i := range dst {
		p := phase + float64(i)*step
		k := int(p) % len(code)
		dst[i] = code[k]
	}
}
