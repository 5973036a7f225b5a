// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.13
//

package gosdr

import (
	"encoding/json"
	"io"
)

// TraceCorrelation is one correlator output in a trace record
type TraceCorrelation struct {
	Offset float64 `json:"offset"`
	I      float64 `json:"i"`
	Q      float64 `json:"q"`
}

// TraceRecord is one JSON line of channel tracking trace
type TraceRecord struct {
	SID          string             `json:"sid"`
	State        string             `json:"state"`
	Period       uint64             `json:"period"`
	Correlations []TraceCorrelation `json:"corr"`
	CodeError    float64            `json:"code_err"`    // [chip]
	CarrierError float64            `json:"carr_err"`    // [cycle] (Tracking) or [Hz] (PullIn)
	CodePhase    float64            `json:"code_phase"`  // [chip]
	CodeRate     float64            `json:"code_rate"`   // [chip/s]
	CarrierPhase float64            `json:"carr_phase"`  // [cycle]
	Doppler      float64            `json:"doppler"`     // [Hz]
	CN0          float64            `json:"cn0"`         // [dB-Hz]
	Lock         float64            `json:"lock"`        // Phase lock indicator
	Decoder      string             `json:"decoder"`
}

// traceWriter writes every n-th record to w
type traceWriter struct {
	enc   *json.Encoder
	every uint64
	err   error
}

func newTraceWriter(w io.Writer, every int) *traceWriter {
	if w == nil {
		return nil
	}
	if every <= 0 {
		every = 1
	}
	return &traceWriter{enc: json.NewEncoder(w), every: uint64(every)}
}

// due reports whether the record of period should be written
func (t *traceWriter) due(period uint64) bool {
	return t != nil && t.err == nil && period%t.every == 0
}

// write encodes r. The first error stops the trace and is kept.
func (t *traceWriter) write(r *TraceRecord) error {
	if t.err != nil {
		return t.err
	}
	t.err = t.enc.Encode(r)
	return t.err
}
