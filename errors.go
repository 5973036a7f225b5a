// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.9
//

package gosdr

import "errors"

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoDetection      = errors.New("signal not detected")
	ErrFrameSyncLost    = errors.New("frame sync lost")
	ErrParityFailure    = errors.New("parity check failed")
	ErrSignalLost       = errors.New("signal lost")
	ErrEphemerisMissing = errors.New("no ephemeris")
	ErrUnhealthy        = errors.New("satellite unhealthy")
	ErrUnderDetermined  = errors.New("not enough usable signals")
	ErrUnknownSignal    = errors.New("unknown signal")
	ErrDuplicateSignal  = errors.New("signal already registered")
	ErrSolverStarted    = errors.New("solver already started")
	ErrElevationMask    = errors.New("below elevation mask")
	ErrNotConverged     = errors.New("solution not converged")
	ErrSolutionRejected = errors.New("solution rejected")
)
