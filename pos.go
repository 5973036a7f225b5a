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
	"strconv"
	"strings"
)

//-------------------------------------------------------------------
// PosLLH
//-------------------------------------------------------------------

// PosLLH is a geodetic position on WGS84 (lat/lon in radians, height in meters)
type PosLLH struct {
	Lat float64
	Lon float64
	Hei float64
}

func (llh PosLLH) ToXYZ() PosXYZ {
	e2 := Fe * (2 - Fe)
	sinp := math.Sin(llh.Lat)
	n := Re / math.Sqrt(1-e2*sinp*sinp) // Radius of curvature in the prime vertical
	return PosXYZ{
		X: (n + llh.Hei) * math.Cos(llh.Lat) * math.Cos(llh.Lon),
		Y: (n + llh.Hei) * math.Cos(llh.Lat) * math.Sin(llh.Lon),
		Z: (n*(1-e2) + llh.Hei) * sinp,
	}
}

// Set reads "lat lon hei" with lat/lon in degrees (flag.Value)
func (llh *PosLLH) Set(s string) error {
	f := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(f) != 3 {
		return fmt.Errorf("position needs 3 fields, got %d", len(f))
	}
	var v [3]float64
	for i := range v {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return err
		}
		v[i] = x
	}
	llh.Lat, llh.Lon, llh.Hei = ToRad(v[0]), ToRad(v[1]), v[2]
	return nil
}

// String prints lat/lon in degrees
func (llh *PosLLH) String() string {
	return fmt.Sprintf("%.8f %.8f %.4f", ToDeg(llh.Lat), ToDeg(llh.Lon), llh.Hei)
}

//-------------------------------------------------------------------
// PosXYZ
//-------------------------------------------------------------------

// PosXYZ is an ECEF position or vector [m]
type PosXYZ struct {
	X float64
	Y float64
	Z float64
}

func (pos PosXYZ) ToLLH() PosLLH {
	// In case of origin
	if pos.X == 0 && pos.Y == 0 && pos.Z == 0 {
		return PosLLH{Lat: 0, Lon: 0, Hei: -Re}
	}

	a := Re
	b := a * (1 - Fe)
	e2 := Fe * (2 - Fe)

	// Bowring's method
	h := a*a - b*b
	p := math.Hypot(pos.X, pos.Y)
	t := math.Atan2(pos.Z*a, p*b)
	sint, cost := math.Sincos(t)

	lat := math.Atan2(pos.Z+h/b*sint*sint*sint, p-h/a*cost*cost*cost)
	lon := math.Atan2(pos.Y, pos.X)
	sinp := math.Sin(lat)
	n := a / math.Sqrt(1-e2*sinp*sinp)
	return PosLLH{Lat: lat, Lon: lon, Hei: p/math.Cos(lat) - n}
}

// ToENU returns pos relative to base, rotated into base's local frame
func (pos PosXYZ) ToENU(base PosXYZ) PosENU {
	return pos.Sub(base).RotateENU(base.ToLLH())
}

// RotateENU rotates an ECEF vector into the local frame at llh
func (v PosXYZ) RotateENU(llh PosLLH) PosENU {
	s1, c1 := math.Sincos(llh.Lon)
	s2, c2 := math.Sincos(llh.Lat)
	return PosENU{
		E: -v.X*s1 + v.Y*c1,
		N: -v.X*c1*s2 - v.Y*s1*s2 + v.Z*c2,
		U: v.X*c1*c2 + v.Y*s1*c2 + v.Z*s2,
	}
}

func (pos PosXYZ) Add(b PosXYZ) PosXYZ {
	return PosXYZ{X: pos.X + b.X, Y: pos.Y + b.Y, Z: pos.Z + b.Z}
}

func (pos PosXYZ) Sub(b PosXYZ) PosXYZ {
	return PosXYZ{X: pos.X - b.X, Y: pos.Y - b.Y, Z: pos.Z - b.Z}
}

func (pos PosXYZ) Scale(k float64) PosXYZ {
	return PosXYZ{X: pos.X * k, Y: pos.Y * k, Z: pos.Z * k}
}

func (pos PosXYZ) Dot(b PosXYZ) float64 {
	return pos.X*b.X + pos.Y*b.Y + pos.Z*b.Z
}

func (pos PosXYZ) Norm() float64 {
	return math.Sqrt(pos.Dot(pos))
}

// RotateZ rotates the frame about the Z axis by angle [rad].
// Used for the Earth rotation during signal flight time.
func (pos PosXYZ) RotateZ(angle float64) PosXYZ {
	s, c := math.Sincos(angle)
	return PosXYZ{
		X: c*pos.X + s*pos.Y,
		Y: -s*pos.X + c*pos.Y,
		Z: pos.Z,
	}
}

func (usr PosXYZ) Elevation(sat PosXYZ) float64 {
	enu := sat.ToENU(usr)
	return enu.Elevation()
}

func (usr PosXYZ) Azimuth(sat PosXYZ) float64 {
	enu := sat.ToENU(usr)
	return enu.Azimuth()
}

//-------------------------------------------------------------------
// PosENU
//-------------------------------------------------------------------

// PosENU is a local east/north/up vector [m]
type PosENU struct {
	E float64
	N float64
	U float64
}

func (enu PosENU) ToXYZ(base PosXYZ) PosXYZ {
	llh := base.ToLLH()
	s1, c1 := math.Sincos(llh.Lon)
	s2, c2 := math.Sincos(llh.Lat)
	return PosXYZ{
		X: base.X - enu.E*s1 - enu.N*c1*s2 + enu.U*c1*c2,
		Y: base.Y + enu.E*c1 - enu.N*s1*s2 + enu.U*s1*c2,
		Z: base.Z + enu.N*c2 + enu.U*s2,
	}
}

func (enu PosENU) Elevation() float64 {
	return math.Atan2(enu.U, math.Hypot(enu.E, enu.N))
}

func (enu PosENU) Azimuth() float64 {
	return math.Atan2(enu.E, enu.N)
}
