// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	rnxNavTime = regexp.MustCompile(`^([GJERCSI])([0-9 ][0-9]) (\d{4}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2}) ([ \d]{2})`)
	rnxNavData = regexp.MustCompile(`[- +\d]{2}\.\d{12}[DE][-+]\d{2}`)
)

// URA index upper bounds [m]
var uraBounds = [...]float64{2.4, 3.4, 4.85, 6.85, 9.65, 13.65, 24.0, 48.0, 96.0, 192.0, 384.0, 768.0, 1536.0, 3072.0, 6144.0}

// Extract HEADER LABEL string from a header line
func getHeaderLabel(l string) string {
	if len(l) < 60 {
		return ""
	}
	return strings.TrimSpace(l[60:])
}

// Read system, PRN and ToC from a navigation data epoch line
func getNavTime(l string) (sys byte, prn int, gt GTime, err error) {
	ms := rnxNavTime.FindStringSubmatch(l)
	if ms == nil {
		return 0, 0, gt, fmt.Errorf("regexp match failed. l=%s", l)
	}
	var v [7]int
	for i := range v {
		x, err := strconv.Atoi(strings.TrimSpace(ms[i+2]))
		if err != nil {
			return 0, 0, gt, err
		}
		v[i] = x
	}
	gt = NewGTime(time.Date(v[1], time.Month(v[2]), v[3], v[4], v[5], v[6], 0, time.UTC))
	return ms[1][0], v[0], gt, nil
}

// ReadRinexNav reads GPS broadcast ephemerides from a RINEX 3 navigation
// file. Records of other systems are skipped.
func ReadRinexNav(r io.Reader) (Nav, error) {

	headerDone := false
	nav := Nav{}
	var eph *Ephemeris // Record being read, nil while skipping
	lineCount := 0     // Lines read after the epoch line

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()

		if !headerDone {
			switch getHeaderLabel(line) {
			case "RINEX VERSION / TYPE":
				if len(line) < 21 {
					return nil, fmt.Errorf("short version line: %q", line)
				}
				ver := strings.TrimSpace(line[:9])
				if !strings.HasPrefix(ver, "3.") {
					return nil, fmt.Errorf("unsupported RINEX version. RINEX version must be 3.xx (ver=%s)", ver)
				}
				if typ := line[20:21]; typ != "N" {
					return nil, fmt.Errorf("not a navigation message file (typ=%s)", typ)
				}
			case "END OF HEADER":
				headerDone = true
			}
			continue
		}

		if !rnxNavData.MatchString(line) {
			continue
		}
		if line[0] != ' ' {
			eph = nil
			if len(line) < 80 {
				continue
			}
			sys, prn, toc, err := getNavTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to read time of clock in navigation message. err=%w", err)
			}
			if sys != 'G' {
				continue
			}
			eph = &Ephemeris{PRN: prn, Toc: toc}
			eph.Af0 = parseFloat(line[23:42])
			eph.Af1 = parseFloat(line[42:61])
			eph.Af2 = parseFloat(line[61:80])
			lineCount = 0
			continue
		}
		if eph == nil {
			continue
		}

		if len(line) < 80 {
			line = line + strings.Repeat(" ", 80-len(line))
		}
		v0 := parseFloat(line[4:23])
		v1 := parseFloat(line[23:42])
		v2 := parseFloat(line[42:61])
		v3 := parseFloat(line[61:80])
		lineCount++
		switch lineCount {
		case 1:
			eph.Iode = int(v0)
			eph.Crs = v1
			eph.DeltaN = v2
			eph.M0 = v3
		case 2:
			eph.Cuc = v0
			eph.Ecc = v1
			eph.Cus = v2
			eph.SqrtA = v3
		case 3:
			eph.Toe = GTime{Week: eph.Toc.Week, Sec: v0} // Week is read on the next line
			eph.Cic = v1
			eph.Omega0 = v2
			eph.Cis = v3
		case 4:
			eph.I0 = v0
			eph.Crc = v1
			eph.Omega = v2
			eph.OmegaD = v3
		case 5:
			eph.Idot = v0
			eph.Code = int(v1)
			eph.Week = int(v2)
			eph.Toe.Week = eph.Week // GPS week to go with Toe
			eph.Flag = int(v3)
		case 6:
			eph.Sva = getURAIndex(v0)
			eph.Svh = int(v1)
			eph.Tgd = v2
			eph.Iodc = int(v3)
		case 7:
			eph.Tot = GTime{Week: weekNear(eph.Toc.Week, v0, eph.Toc.Sec), Sec: v0}
			eph.Fit = v1
			nav.Add(eph)
			eph = nil
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}
	if !headerDone {
		return nil, fmt.Errorf("END OF HEADER not found")
	}
	return nav, nil
}

// Read real values by absorbing variations in exponential notation within RINEX files
func parseFloat(str string) float64 {
	s := strings.TrimSpace(str)
	if strings.ContainsAny(s, "Dd") {
		s = strings.Replace(s, "D", "E", 1)
		s = strings.Replace(s, "d", "e", 1)
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// Return URA index for specified value
func getURAIndex(x float64) int {
	if x <= 0 {
		return 15
	}
	for i, b := range uraBounds {
		if x <= b {
			return i
		}
	}
	return 15
}
