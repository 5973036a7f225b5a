// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import (
	"math"
)

// Relativistic clock correction constant F [s/m^(1/2)]
const relF = -4.442807633e-10 // -2 sqrt(mu) / c^2

// Time step of the finite difference used for satellite velocity [s]
const velStep = 1e-3

// eccAnomaly solves Kepler's equation for the orbit of e at tk seconds from Toe
func eccAnomaly(e *Ephemeris, tk float64) float64 {
	a := e.SqrtA * e.SqrtA
	n := math.Sqrt(MuGPS/(a*a*a)) + e.DeltaN
	mk := e.M0 + n*tk
	ek := mk
	for i := 0; i < 30; i++ {
		ek0 := ek
		ek = mk + e.Ecc*math.Sin(ek)
		if math.Abs(ek-ek0) < 1e-14 {
			break
		}
	}
	return ek
}

// SatPos returns the ECEF position of the satellite at GPS time t, in the
// Earth-fixed frame of t. Earth rotation during signal flight is applied by
// the caller.
func SatPos(e *Ephemeris, t GTime) PosXYZ {
	tk := t.Sub(e.Toe)
	ek := eccAnomaly(e, tk)
	a := e.SqrtA * e.SqrtA

	rk := a * (1 - e.Ecc*math.Cos(ek))
	vk := math.Atan2(math.Sqrt(1-e.Ecc*e.Ecc)*math.Sin(ek), math.Cos(ek)-e.Ecc)
	pk := vk + e.Omega
	s2, c2 := math.Sincos(2 * pk)
	uk := pk + e.Cus*s2 + e.Cuc*c2
	rk += e.Crs*s2 + e.Crc*c2
	ik := e.I0 + e.Cis*s2 + e.Cic*c2 + e.Idot*tk

	xk := rk * math.Cos(uk)
	yk := rk * math.Sin(uk)
	omk := e.Omega0 + (e.OmegaD-OmegaEGPS)*tk - OmegaEGPS*e.Toe.Sec
	so, co := math.Sincos(omk)
	si, ci := math.Sincos(ik)
	return PosXYZ{
		X: xk*co - yk*so*ci,
		Y: xk*so + yk*co*ci,
		Z: yk * si,
	}
}

// SatPosVel returns position and velocity at t. Velocity is the central
// difference of SatPos.
func SatPosVel(e *Ephemeris, t GTime) (PosXYZ, PosXYZ) {
	p0 := SatPos(e, t.Add(-velStep/2))
	p1 := SatPos(e, t.Add(velStep/2))
	return SatPos(e, t), p1.Sub(p0).Scale(1 / velStep)
}

// SatClock returns the satellite clock offset at t including the
// relativistic term and the L1 group delay [s]. t may be SV time; the
// difference to system time is below the resolution of the polynomial.
func SatClock(e *Ephemeris, t GTime) float64 {
	tc := t.Sub(e.Toc)
	ek := eccAnomaly(e, t.Sub(e.Toe))
	tr := relF * e.Ecc * e.SqrtA * math.Sin(ek)
	return e.Af0 + e.Af1*tc + e.Af2*tc*tc + tr - e.Tgd
}

// SatClockDrift returns the satellite clock drift at t [s/s]
func SatClockDrift(e *Ephemeris, t GTime) float64 {
	tc := t.Sub(e.Toc)
	return e.Af1 + 2*e.Af2*tc
}
