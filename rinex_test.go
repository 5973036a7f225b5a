// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rnxHeader(sb *strings.Builder, text, label string) {
	fmt.Fprintf(sb, "%-60s%s\n", text, label)
}

func rnxRecord(sb *strings.Builder, epoch string, v ...float64) {
	sb.WriteString(epoch)
	for i, x := range v {
		if i == 3 || (i > 3 && (i-3)%4 == 0) {
			sb.WriteString("\n    ")
		}
		fmt.Fprintf(sb, "%19.12E", x)
	}
	sb.WriteString("\n")
}

func testRinexNav() string {
	var sb strings.Builder
	rnxHeader(&sb, "     3.04           N: GNSS NAV DATA    M: MIXED", "RINEX VERSION / TYPE")
	rnxHeader(&sb, "gosdr", "PGM / RUN BY / DATE")
	rnxHeader(&sb, "", "END OF HEADER")
	rnxRecord(&sb, "G05 2026 01 10 04 00 00",
		-1.25e-4, 2.5e-12, 0,
		45, -12.5, 4.5e-9, 1.25,
		-6.5e-7, 8.25e-3, 7.5e-6, 5153.625,
		532800, 1.1e-7, -2.5, -4.5e-8,
		0.95, 250.25, 0.75, -8.0e-9,
		2.5e-10, 1, 2400, 0,
		2.0, 0, -1.1e-8, 45,
		525618, 4)
	rnxRecord(&sb, "E11 2026 01 10 04 00 00",
		1e-4, 0, 0,
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
		17, 18, 19, 20,
		21, 22, 23, 24,
		25, 0)
	return sb.String()
}

func TestReadRinexNav(t *testing.T) {
	nav, err := ReadRinexNav(strings.NewReader(testRinexNav()))
	require.NoError(t, err)
	require.Len(t, nav, 1)
	require.Len(t, nav["G05"], 1)

	e := nav["G05"][0]
	assert.Equal(t, 5, e.PRN)
	assert.Equal(t, GTime{Week: 2400, Sec: 532800}, e.Toc)
	assert.Equal(t, GTime{Week: 2400, Sec: 532800}, e.Toe)
	assert.Equal(t, GTime{Week: 2400, Sec: 525618}, e.Tot)
	assert.Equal(t, 45, e.Iode)
	assert.Equal(t, 45, e.Iodc)
	assert.InDelta(t, -1.25e-4, e.Af0, 1e-18)
	assert.InDelta(t, -12.5, e.Crs, 1e-12)
	assert.InDelta(t, 5153.625, e.SqrtA, 1e-9)
	assert.InDelta(t, 250.25, e.Crc, 1e-12)
	assert.InDelta(t, -1.1e-8, e.Tgd, 1e-20)
	assert.Equal(t, 1, e.Code)
	assert.Equal(t, 2400, e.Week)
	assert.Equal(t, 0, e.Sva) // 2.0 m
	assert.Equal(t, 0, e.Svh)
	assert.Equal(t, 4.0, e.Fit)
}

func TestReadRinexNavErrors(t *testing.T) {
	var sb strings.Builder
	rnxHeader(&sb, "     2.11           N: GPS NAV DATA", "RINEX VERSION / TYPE")
	_, err := ReadRinexNav(strings.NewReader(sb.String()))
	assert.ErrorContains(t, err, "unsupported RINEX version")

	sb.Reset()
	rnxHeader(&sb, "     3.04           O: OBSERVATION DATA", "RINEX VERSION / TYPE")
	_, err = ReadRinexNav(strings.NewReader(sb.String()))
	assert.ErrorContains(t, err, "not a navigation message file")

	sb.Reset()
	rnxHeader(&sb, "     3.04           N: GNSS NAV DATA", "RINEX VERSION / TYPE")
	_, err = ReadRinexNav(strings.NewReader(sb.String()))
	assert.ErrorContains(t, err, "END OF HEADER")
}

func TestURAIndex(t *testing.T) {
	assert.Equal(t, 0, getURAIndex(2.0))
	assert.Equal(t, 6, getURAIndex(24.0))
	assert.Equal(t, 15, getURAIndex(10000))
	assert.Equal(t, 15, getURAIndex(-1))
}
