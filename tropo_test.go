// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTropDelay(t *testing.T) {
	tm := GTime{Week: 2400, Sec: 100800}
	pos := PosLLH{Lat: ToRad(35), Lon: ToRad(139), Hei: 0}.ToXYZ()

	zen := TropDelay(tm, pos, ToRad(90))
	assert.InDelta(t, 2.43, zen, 0.1)
	assert.InDelta(t, 2.0, TropDelay(tm, pos, ToRad(30))/zen, 0.05)
	assert.Greater(t, TropDelay(tm, pos, ToRad(5)), 8*zen)

	assert.Zero(t, TropDelay(tm, pos, 0))
	assert.Zero(t, TropDelay(tm, PosLLH{Hei: 3e4}.ToXYZ(), ToRad(90)))
}
