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
	"time"
)

// GPS epoch (1980/1/6 00:00:00 UTC)
var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// GTime is GPS system time as week number and seconds of week
type GTime struct {
	Week int
	Sec  float64
}

func NewGTime(dt time.Time) GTime {
	t := dt.Unix() - gpsEpoch.Unix() // Elapsed seconds since the GPS epoch
	return GTime{
		Week: int(t / (3600 * 24 * 7)),
		Sec:  float64(t%(3600*24*7)) + float64(dt.Nanosecond())/1e9,
	}
}

// ToTime converts to time.Time (leap seconds are not applied)
func (p GTime) ToTime() time.Time {
	i := int64(math.Floor(p.Sec))
	t := int64(3600*24*7*p.Week) + i + gpsEpoch.Unix()
	n := int64((p.Sec - float64(i)) * 1e9)
	return time.Unix(t, n).UTC()
}

// Add returns p shifted by sec seconds, keeping Sec in [0, 604800)
func (p GTime) Add(sec float64) GTime {
	r := GTime{Week: p.Week, Sec: p.Sec + sec}
	for r.Sec >= SecondsPerWeek {
		r.Sec -= SecondsPerWeek
		r.Week++
	}
	for r.Sec < 0 {
		r.Sec += SecondsPerWeek
		r.Week--
	}
	return r
}

// Sub returns p - b in seconds
func (p GTime) Sub(b GTime) float64 {
	return float64(p.Week-b.Week)*SecondsPerWeek + (p.Sec - b.Sec)
}

func (p GTime) Less(b GTime) bool {
	if p.Week == b.Week {
		return p.Sec < b.Sec
	}
	return p.Week < b.Week
}

func (p GTime) String() string {
	return fmt.Sprintf("%d:%.6f", p.Week, p.Sec)
}

// TimeOfWeekDiff returns a - b for two seconds-of-week values, resolving
// a week rollover between them
func TimeOfWeekDiff(a, b float64) float64 {
	d := a - b
	if d > HalfWeek {
		d -= SecondsPerWeek
	} else if d < -HalfWeek {
		d += SecondsPerWeek
	}
	return d
}

// wrapTOW folds a seconds-of-week value into [0, 604800)
func wrapTOW(t float64) float64 {
	t = math.Mod(t, SecondsPerWeek)
	if t < 0 {
		t += SecondsPerWeek
	}
	return t
}
