// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

// Implements the position-velocity-time solution from tracked signals.

package gosdr

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Calculation constants for PVT processing
const (
	minSignals        = 4     // Unknowns of the position solution
	earlyLoopSkip     = 3     // Loops before elevation dependent terms are applied
	nominalFlightTime = 0.075 // Assumed flight time of the latest signal [s]
	minWeight         = 0.001 // Minimum weight value
)

// TOWResult is a decoded GPS time of week
type TOWResult struct {
	TOW  float64 // Seconds of week
	Week int     // GPS week, -1 if unknown
}

// Measurement is the contribution of one channel to one epoch
type Measurement struct {
	SID        SignalID
	TOW        TOWResult // Transmit time of the signal at the epoch
	Doppler    float64   // Carrier doppler [Hz]
	HasDoppler bool
	CN0        float64 // [dB-Hz]
}

// PVTOptions controls the solver
type PVTOptions struct {
	ElevationMask        float64 // [deg], applied after the early iterations
	WeightByElevation    bool    // Weight sin(el)^2 / sigma^2 instead of unit weights
	CodeSigma            float64 // Zenith pseudorange noise [m]
	MaxIterations        int
	ConvergenceThreshold float64 // [m]
	MaxGDOP              float64 // 0 disables the GDOP gate
	ChiSquareTest        bool
	ChiSquareAlpha       float64 // False rejection probability of the chi-square gate
	Tropo                bool
	Velocity             bool
	RequireAllSignals    bool // Skip epochs in which any registered signal did not report
	Logger               *slog.Logger
}

// DefaultPVTOptions returns options tuned for a static receiver
func DefaultPVTOptions() PVTOptions {
	return PVTOptions{
		ElevationMask:        5,
		WeightByElevation:    true,
		CodeSigma:            3,
		MaxIterations:        10,
		ConvergenceThreshold: 1e-3,
		MaxGDOP:              35,
		ChiSquareTest:        true,
		ChiSquareAlpha:       1e-3,
		Tropo:                true,
		Velocity:             true,
		RequireAllSignals:    false,
	}
}

// DOP holds dilution of precision values
type DOP struct {
	GDOP float64
	PDOP float64
	HDOP float64
	VDOP float64
}

// PVTSolution is the result of one epoch
type PVTSolution struct {
	Time        GTime   // Receive time corrected for the receiver clock bias
	Pos         PosXYZ  // Receiver position
	LLH         PosLLH  // Receiver position (geodetic)
	Vel         PosXYZ  // Receiver velocity (ECEF) [m/s]
	ClockBias   float64 // [m]
	ClockDrift  float64 // [m/s]
	HasVelocity bool
	Signals     []SignalID // Signals used in the position solution
	Residuals   map[SignalID]float64
	Elevations  map[SignalID]float64 // [rad]
	Excluded    map[SignalID]error
	DOP         DOP
	Cov         *mat.SymDense // Estimation error covariance ((G^T W G)^-1), XYZ and clock
	WSSR        float64       // Weighted sum of squared residuals
	Iterations  int
}

// PVTSolver aggregates measurements of registered signals to PVT solutions.
// It is safe for concurrent use.
type PVTSolver struct {
	mu      sync.Mutex
	opt     PVTOptions
	log     *slog.Logger
	sids    []SignalID
	ephs    map[SignalID]*Ephemeris
	started bool
	sol     *PVTSolution
}

func NewPVTSolver(opt PVTOptions) *PVTSolver {
	d := DefaultPVTOptions()
	if opt.MaxIterations <= 0 {
		opt.MaxIterations = d.MaxIterations
	}
	if opt.ConvergenceThreshold <= 0 {
		opt.ConvergenceThreshold = d.ConvergenceThreshold
	}
	if opt.CodeSigma <= 0 {
		opt.CodeSigma = d.CodeSigma
	}
	if opt.ChiSquareAlpha <= 0 || opt.ChiSquareAlpha >= 1 {
		opt.ChiSquareAlpha = d.ChiSquareAlpha
	}
	return &PVTSolver{
		opt:  opt,
		log:  loggerOr(opt.Logger),
		ephs: map[SignalID]*Ephemeris{},
	}
}

// AddSignal registers a signal expected to contribute each epoch
func (s *PVTSolver) AddSignal(sid SignalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: can't add %s", ErrSolverStarted, sid)
	}
	if slices.Contains(s.sids, sid) {
		return fmt.Errorf("%w: %s", ErrDuplicateSignal, sid)
	}
	s.sids = append(s.sids, sid)
	slices.SortFunc(s.sids, compareSignalID)
	return nil
}

// Signals returns the registered signals
func (s *PVTSolver) Signals() []SignalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sids)
}

// UpdateEphemeris stores or replaces the ephemeris of a registered signal
func (s *PVTSolver) UpdateEphemeris(sid SignalID, eph *Ephemeris) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.sids, sid) {
		return fmt.Errorf("%w: %s", ErrUnknownSignal, sid)
	}
	if eph == nil {
		delete(s.ephs, sid)
		return nil
	}
	s.ephs[sid] = eph
	s.log.Debug("ephemeris updated", "sid", sid, "iode", eph.Iode, "toe", eph.Toe)
	return nil
}

// Solution returns the last good solution, nil before the first fix
func (s *PVTSolver) Solution() *PVTSolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sol
}

// satState is a signal prepared for the position solution
type satState struct {
	sid  SignalID
	eph  *Ephemeris
	tsv  GTime   // Transmit time in SV time
	pr   float64 // Pseudorange [m]
	dts  float64 // Satellite clock offset [s]
	ddts float64 // Satellite clock drift [s/s]
	pos  PosXYZ
	vel  PosXYZ
	meas Measurement
}

// Update solves one epoch. On error the epoch is skipped and the previous
// solution is kept.
func (s *PVTSolver) Update(meas []Measurement) (*PVTSolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true

	rslt := &PVTSolution{
		Residuals:  map[SignalID]float64{},
		Elevations: map[SignalID]float64{},
		Excluded:   map[SignalID]error{},
	}

	sats, err := s.selectValidSignals(meas, rslt)
	if err != nil {
		return nil, fmt.Errorf("selectValidSignals() failed, err=%w", err)
	}
	tRx := receiveTime(sats)
	for i := range sats {
		sats[i].pr = tRx.Sub(sats[i].tsv) * C
	}

	if err = s.solvePosition(sats, tRx, rslt); err != nil {
		return nil, fmt.Errorf("solvePosition() failed, err=%w", err)
	}
	if err = s.validate(rslt); err != nil {
		return nil, fmt.Errorf("validate() failed, err=%w", err)
	}
	if s.opt.Velocity {
		if err := s.solveVelocity(sats, rslt); err != nil {
			s.log.Debug("velocity unavailable", "err", err)
		}
	}

	s.sol = rslt
	return rslt, nil
}

// selectValidSignals applies the reporting policy and prepares satellite
// states of the signals that can be ranged
func (s *PVTSolver) selectValidSignals(meas []Measurement, rslt *PVTSolution) ([]satState, error) {
	ms := slices.Clone(meas)
	slices.SortFunc(ms, func(a, b Measurement) int { return compareSignalID(a.SID, b.SID) })

	if s.opt.RequireAllSignals {
		n := 0
		for i, m := range ms {
			if (i == 0 || ms[i-1].SID != m.SID) && slices.Contains(s.sids, m.SID) {
				n++
			}
		}
		if n != len(s.sids) {
			return nil, fmt.Errorf("%w: %d of %d registered signals reported", ErrUnderDetermined, n, len(s.sids))
		}
	}

	sats := make([]satState, 0, len(ms))
	for i, m := range ms {
		if i > 0 && ms[i-1].SID == m.SID {
			rslt.Excluded[m.SID] = fmt.Errorf("%w: %s measured twice", ErrDuplicateSignal, m.SID)
			continue
		}
		if !slices.Contains(s.sids, m.SID) {
			rslt.Excluded[m.SID] = fmt.Errorf("%w: %s", ErrUnknownSignal, m.SID)
			continue
		}
		eph, ok := s.ephs[m.SID]
		if !ok {
			rslt.Excluded[m.SID] = fmt.Errorf("%w: %s", ErrEphemerisMissing, m.SID)
			s.log.Debug("signal excluded", "sid", m.SID, "reason", "no ephemeris")
			continue
		}
		week := m.TOW.Week
		if week < 0 {
			week = weekNear(eph.Toe.Week, m.TOW.TOW, eph.Toe.Sec)
		}
		tsv := GTime{Week: week, Sec: m.TOW.TOW}
		if err := eph.Valid(tsv); err != nil {
			rslt.Excluded[m.SID] = err
			s.log.Debug("signal excluded", "sid", m.SID, "err", err)
			continue
		}
		dts := SatClock(eph, tsv)
		pos, vel := SatPosVel(eph, tsv.Add(-dts))
		sats = append(sats, satState{
			sid:  m.SID,
			eph:  eph,
			tsv:  tsv,
			dts:  dts,
			ddts: SatClockDrift(eph, tsv),
			pos:  pos,
			vel:  vel,
			meas: m,
		})
	}
	if len(sats) < minSignals {
		return nil, fmt.Errorf("%w: %d < %d", ErrUnderDetermined, len(sats), minSignals)
	}
	return sats, nil
}

// receiveTime is the latest transmit time plus the nominal flight time
func receiveTime(sats []satState) GTime {
	latest := sats[0].tsv
	for _, st := range sats[1:] {
		if st.tsv.Sub(latest) > 0 {
			latest = st.tsv
		}
	}
	return latest.Add(nominalFlightTime)
}

// solvePosition iterates the linearized pseudorange equations
func (s *PVTSolver) solvePosition(sats []satState, tRx GTime, rslt *PVTSolution) error {

	// Start from the previous fix (or the Earth's center)
	var upos PosXYZ
	var clkb float64
	if s.sol != nil {
		upos, clkb = s.sol.Pos, s.sol.ClockBias
	}

	xs := map[SignalID]bool{} // Signals excluded during the iteration
	var (
		G   *mat.Dense
		dr  *mat.VecDense
		w   []float64
		cov *mat.SymDense
		ids []SignalID
	)
	exitLoop := false
	for loop := 0; loop < s.opt.MaxIterations+1; loop++ {
		G, dr, w, ids = s.setupEquations(sats, upos, clkb, tRx, loop, xs, rslt)
		if len(ids) < minSignals {
			return fmt.Errorf("%w: %d < %d after masking", ErrUnderDetermined, len(ids), minSignals)
		}
		if exitLoop {
			rslt.Iterations = loop
			break
		}
		if loop == s.opt.MaxIterations {
			return fmt.Errorf("%w: %d iterations", ErrNotConverged, loop)
		}

		dx, c, err := SolveLS(G, dr, w)
		if err != nil {
			return fmt.Errorf("SolveLS() failed, err=%w", err)
		}
		cov = c
		if s.log.Enabled(context.Background(), slog.LevelDebug) {
			var sb strings.Builder
			sb.WriteString("G=\n")
			PrintMat(&sb, G)
			sb.WriteString("dr=\n")
			PrintMat(&sb, dr)
			sb.WriteString("dx=\n")
			PrintMat(&sb, dx)
			s.log.Debug("pvt equations", "loop", loop, "mat", sb.String())
		}

		upos = upos.Add(PosXYZ{X: dx.AtVec(0), Y: dx.AtVec(1), Z: dx.AtVec(2)})
		clkb += dx.AtVec(3)

		// Converged when the position update is below the threshold. One more
		// pass refreshes residuals at the final estimate.
		if math.Abs(dx.AtVec(0)) < s.opt.ConvergenceThreshold &&
			math.Abs(dx.AtVec(1)) < s.opt.ConvergenceThreshold &&
			math.Abs(dx.AtVec(2)) < s.opt.ConvergenceThreshold {
			exitLoop = true
		}
	}

	for i, sid := range ids {
		rslt.Residuals[sid] = dr.AtVec(i)
		rslt.WSSR += w[i] * dr.AtVec(i) * dr.AtVec(i)
	}
	rslt.Signals = ids
	rslt.Pos = upos
	rslt.LLH = upos.ToLLH()
	rslt.ClockBias = clkb
	rslt.Time = tRx.Add(-clkb / C)
	rslt.Cov = cov
	rslt.DOP = computeDOP(G, rslt.LLH)
	return nil
}

// setupEquations builds the design matrix, residual vector and weights at
// the current estimate
func (s *PVTSolver) setupEquations(sats []satState, upos PosXYZ, clkb float64, tRx GTime, loop int, xs map[SignalID]bool, rslt *PVTSolution) (*mat.Dense, *mat.VecDense, []float64, []SignalID) {
	G := mat.NewDense(len(sats), minSignals, nil)
	dr := mat.NewVecDense(len(sats), nil)
	w := make([]float64, 0, len(sats))
	ids := make([]SignalID, 0, len(sats))
	late := loop >= earlyLoopSkip

	i := 0
	for _, st := range sats {
		if xs[st.sid] {
			continue
		}
		// Earth rotation during the signal flight
		spos := st.pos.RotateZ(OmegaEGPS * st.pos.Sub(upos).Norm() / C)
		los := spos.Sub(upos)
		ri := los.Norm()
		e := los.Scale(1 / ri)

		elv := math.Pi / 2
		if late {
			elv = upos.Elevation(spos)
			if s.opt.ElevationMask > 0 && ToDeg(elv) < s.opt.ElevationMask {
				xs[st.sid] = true
				rslt.Excluded[st.sid] = fmt.Errorf("%w: %s elev=%.1f", ErrElevationMask, st.sid, ToDeg(elv))
				s.log.Debug("signal excluded", "sid", st.sid, "elev", ToDeg(elv))
				continue
			}
		}
		trop := 0.0
		if late && s.opt.Tropo {
			trop = TropDelay(tRx, upos, elv)
		}

		G.Set(i, 0, -e.X)
		G.Set(i, 1, -e.Y)
		G.Set(i, 2, -e.Z)
		G.Set(i, 3, 1)
		dr.SetVec(i, st.pr+C*st.dts-(ri+clkb)-trop)
		w = append(w, s.weight(elv, late))
		ids = append(ids, st.sid)
		rslt.Elevations[st.sid] = elv
		i++
	}
	if i == 0 {
		return G, dr, w, ids
	}
	return G.Slice(0, i, 0, minSignals).(*mat.Dense), dr.SliceVec(0, i).(*mat.VecDense), w, ids
}

func (s *PVTSolver) weight(elv float64, late bool) float64 {
	if !s.opt.WeightByElevation || !late {
		return 1 / SQ(s.opt.CodeSigma)
	}
	wg := SQ(math.Sin(elv)) / SQ(s.opt.CodeSigma)
	if wg < minWeight {
		wg = minWeight
	}
	return wg
}

// computeDOP derives DOP values from the unweighted geometry, rotating the
// position block into the local frame
func computeDOP(G mat.Matrix, llh PosLLH) DOP {
	var GtG mat.Dense
	GtG.Mul(G.T(), G)
	var Q mat.Dense
	if err := Q.Inverse(&GtG); err != nil {
		return DOP{}
	}
	s1, c1 := math.Sincos(llh.Lon)
	s2, c2 := math.Sincos(llh.Lat)
	R := mat.NewDense(3, 3, []float64{
		-s1, c1, 0,
		-c1 * s2, -s1 * s2, c2,
		c1 * c2, s1 * c2, s2,
	})
	var RQ, Qenu mat.Dense
	RQ.Mul(R, Q.Slice(0, 3, 0, 3))
	Qenu.Mul(&RQ, R.T())
	ee, nn, uu := Qenu.At(0, 0), Qenu.At(1, 1), Qenu.At(2, 2)
	return DOP{
		GDOP: math.Sqrt(ee + nn + uu + Q.At(3, 3)),
		PDOP: math.Sqrt(ee + nn + uu),
		HDOP: math.Sqrt(ee + nn),
		VDOP: math.Sqrt(uu),
	}
}

// validate applies the chi-square residual test and the GDOP gate
func (s *PVTSolver) validate(rslt *PVTSolution) error {
	nM := len(rslt.Signals)
	if s.opt.ChiSquareTest && nM > minSignals {
		vv := rslt.WSSR
		thr := distuv.ChiSquared{K: float64(nM - minSignals)}.Quantile(1 - s.opt.ChiSquareAlpha)
		if vv > thr {
			return fmt.Errorf("%w: chi-square test failed: nM=%d, |w dr|^2=%f > %f", ErrSolutionRejected, nM, vv, thr)
		}
		s.log.Debug("chi-square test", "vv", vv, "thr", thr)
	}
	if s.opt.MaxGDOP > 0 && rslt.DOP.GDOP > s.opt.MaxGDOP {
		return fmt.Errorf("%w: GDOP exceeded threshold, GDOP=%.3f > %f", ErrSolutionRejected, rslt.DOP.GDOP, s.opt.MaxGDOP)
	}
	return nil
}

// solveVelocity estimates receiver velocity and clock drift from doppler
func (s *PVTSolver) solveVelocity(sats []satState, rslt *PVTSolution) error {
	used := map[SignalID]bool{}
	for _, sid := range rslt.Signals {
		used[sid] = true
	}
	G := mat.NewDense(len(sats), minSignals, nil)
	dr := mat.NewVecDense(len(sats), nil)
	lambda := C / L1
	i := 0
	for _, st := range sats {
		if !used[st.sid] || !st.meas.HasDoppler {
			continue
		}
		spos := st.pos.RotateZ(OmegaEGPS * st.pos.Sub(rslt.Pos).Norm() / C)
		los := spos.Sub(rslt.Pos)
		e := los.Scale(1 / los.Norm())
		G.Set(i, 0, -e.X)
		G.Set(i, 1, -e.Y)
		G.Set(i, 2, -e.Z)
		G.Set(i, 3, 1)
		dr.SetVec(i, -st.meas.Doppler*lambda-e.Dot(st.vel)+C*st.ddts)
		i++
	}
	if i < minSignals {
		return fmt.Errorf("%w: %d doppler measurements", ErrUnderDetermined, i)
	}
	dx, _, err := SolveLS(G.Slice(0, i, 0, minSignals), dr.SliceVec(0, i), nil)
	if err != nil {
		return err
	}
	rslt.Vel = PosXYZ{X: dx.AtVec(0), Y: dx.AtVec(1), Z: dx.AtVec(2)}
	rslt.ClockDrift = dx.AtVec(3)
	rslt.HasVelocity = true
	return nil
}

func compareSignalID(a, b SignalID) int {
	if c := cmp.Compare(a.System, b.System); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Band, b.Band); c != 0 {
		return c
	}
	return cmp.Compare(a.PRN, b.PRN)
}
