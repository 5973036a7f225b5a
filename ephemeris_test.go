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
	"github.com/stretchr/testify/require"
)

func TestEphemerisValid(t *testing.T) {
	e := lnavTestEphemeris()
	assert.NoError(t, e.Valid(e.Toe))
	assert.NoError(t, e.Valid(e.Toe.Add(-7200)))
	assert.ErrorIs(t, e.Valid(e.Toe.Add(7300)), ErrEphemerisMissing)

	e.Svh = 0x3f
	assert.False(t, e.Healthy())
	assert.ErrorIs(t, e.Valid(e.Toe), ErrUnhealthy)
}

func TestNavAddSelect(t *testing.T) {
	e1 := lnavTestEphemeris()
	e2 := lnavTestEphemeris()
	e2.Iode++
	e2.Toe = e1.Toe.Add(7200)
	e2.Tot = e1.Tot.Add(7200)
	dup := lnavTestEphemeris()

	nav := Nav{}
	nav.Add(e2)
	nav.Add(e1)
	nav.Add(dup)
	require.Len(t, nav["G05"], 2)
	assert.Same(t, e1, nav["G05"][0])
	assert.Same(t, e2, nav["G05"][1])

	got, err := nav.Select("G05", e1.Toe.Add(3000))
	require.NoError(t, err)
	assert.Same(t, e1, got)
	got, err = nav.Select("G05", e1.Toe.Add(4000))
	require.NoError(t, err)
	assert.Same(t, e2, got)

	_, err = nav.Select("G05", e2.Toe.Add(8000))
	assert.ErrorIs(t, err, ErrEphemerisMissing)
	_, err = nav.Select("G06", e1.Toe)
	assert.ErrorIs(t, err, ErrEphemerisMissing)

	assert.Contains(t, nav.String(), "G05: ")
}
