// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestTraceWriter(t *testing.T) {
	assert.Nil(t, newTraceWriter(nil, 1))
	var none *traceWriter
	assert.False(t, none.due(0))

	var buf bytes.Buffer
	tw := newTraceWriter(&buf, 3)
	for p := uint64(0); p < 7; p++ {
		if tw.due(p) {
			require.NoError(t, tw.write(&TraceRecord{SID: "G01-L1", State: "Tracking", Period: p}))
		}
	}

	var periods []uint64
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r TraceRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		assert.Equal(t, "G01-L1", r.SID)
		periods = append(periods, r.Period)
	}
	assert.Equal(t, []uint64{0, 3, 6}, periods)
}

func TestTraceWriterKeepsFirstError(t *testing.T) {
	w := &failWriter{}
	tw := newTraceWriter(w, 0)
	require.True(t, tw.due(5))
	err := tw.write(&TraceRecord{})
	require.Error(t, err)
	assert.False(t, tw.due(6))
	assert.Equal(t, err, tw.write(&TraceRecord{}))
	assert.Equal(t, 1, w.n)
}
