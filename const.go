// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.9
//

package gosdr

const (
	PI        = 3.1415926535897932  // Pi
	C         = 2.99792458e8        // Speed of light [m/s]
	Re        = 6378137.0           // Earth's radius [m]
	Fe        = 1.0 / 298.257223563 // Earth's flattening
	MuGPS     = 3.986005e14         // Earth gravitational constant for GPS [m^3/s^2]
	OmegaEGPS = 7.2921151467e-5     // Earth rotation angular velocity for GPS [rad/s]
	L1        = 1575420000.0        // L1 frequency of G/J [Hz]
	L2        = 1227600000.0        // L2 frequency of G/J [Hz]
	L5        = 1176450000.0        // L5 frequency of G/J [Hz]
)

// GPS L1 C/A signal structure
const (
	CACodeRate     = 1.023e6 // Chipping rate [chip/s]
	CACodeLength   = 1023    // Chips per code period
	CACodePeriod   = 1e-3    // Code period [s]
	LNAVBitPeriods = 20      // Code periods per navigation data bit
	LNAVWordBits   = 30      // Bits per word
	LNAVWords      = 10      // Words per subframe
	LNAVSubframe   = 300     // Bits per subframe
	LNAVSubframeT  = 6.0     // Subframe duration [s]
)

// Time
const (
	SecondsPerWeek = 604800.0
	HalfWeek       = 302400.0
)
