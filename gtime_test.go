// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGTime(t *testing.T) {
	dt := time.Date(2026, 1, 10, 4, 0, 0, 500_000_000, time.UTC)
	gt := NewGTime(dt)
	assert.Equal(t, GTime{Week: 2400, Sec: 532800.5}, gt)
	assert.True(t, dt.Equal(gt.ToTime()))
	assert.Equal(t, "2400:532800.500000", gt.String())

	next := gt.Add(72000)
	assert.Equal(t, 2401, next.Week)
	assert.InDelta(t, 0.5, next.Sec, 1e-9)
	assert.InDelta(t, 72000, next.Sub(gt), 1e-9)
	assert.True(t, gt.Less(next))
	assert.False(t, next.Less(gt))

	prev := next.Add(-1)
	assert.Equal(t, GTime{Week: 2400, Sec: 604799.5}, prev)
}

func TestTimeOfWeekDiff(t *testing.T) {
	assert.Equal(t, 10.0, TimeOfWeekDiff(100, 90))
	assert.Equal(t, 10.0, TimeOfWeekDiff(5, SecondsPerWeek-5))
	assert.Equal(t, -10.0, TimeOfWeekDiff(SecondsPerWeek-5, 5))
	assert.Equal(t, 5.0, wrapTOW(SecondsPerWeek+5))
	assert.Equal(t, SecondsPerWeek-5, wrapTOW(-5))
}
