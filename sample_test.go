// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestCI16Codec(t *testing.T) {
	in := []CI16{{1, -1}, {32767, -32768}, {-300, 12}}
	buf := EncodeCI16(nil, in)
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x80, 0xd4, 0xfe, 0x0c, 0x00}, buf)

	// A trailing partial sample is dropped
	out := DecodeCI16(nil, append(buf, 0x55))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("decoded samples mismatch (-want +got):\n%s", diff)
	}
}

func TestCI16Conversion(t *testing.T) {
	x := []complex64{complex(1.26, -0.74), complex(1e6, -1e6)}
	got := ToCI16(nil, x, 10)
	assert.Equal(t, []CI16{{13, -7}, {32767, -32768}}, got)

	c := ToComplex64(nil, got)
	assert.Equal(t, []complex64{complex(13, -7), complex(32767, -32768)}, c)
}
