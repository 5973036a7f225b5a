// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Receiver runs one channel per signal over a shared sample stream and
// feeds their measurements and ephemerides to a PVT solver.
// Not safe for concurrent use.
type Receiver struct {
	chs    []*Channel
	solver *PVTSolver
	log    *slog.Logger

	assist Nav               // Ephemerides to load once the week is known
	haveEp map[SignalID]bool // Signals holding an ephemeris
}

// NewReceiver creates the channels of sids and registers them with a new
// solver. traces holds optional per-signal trace writers.
func NewReceiver(cfg Config, sids []SignalID, logger *slog.Logger, traces map[SignalID]io.Writer) (*Receiver, error) {
	r := &Receiver{
		solver: NewPVTSolver(cfg.PVTOptions(logger)),
		log:    loggerOr(logger),
		haveEp: make(map[SignalID]bool),
	}
	for _, sid := range sids {
		sig, err := cfg.NewSignal(sid)
		if err != nil {
			return nil, err
		}
		prm, err := cfg.ChannelParams(logger, traces[sid])
		if err != nil {
			return nil, err
		}
		ch, err := NewChannel(sig, prm)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", sid, err)
		}
		if err := r.solver.AddSignal(sid); err != nil {
			return nil, err
		}
		r.chs = append(r.chs, ch)
	}
	return r, nil
}

func (r *Receiver) Channels() []*Channel { return r.chs }

func (r *Receiver) Solver() *PVTSolver { return r.solver }

// Preload loads, for every signal, the ephemeris of nav nearest to t.
// It returns the number of signals loaded.
func (r *Receiver) Preload(nav Nav, t GTime) int {
	n := 0
	for _, ch := range r.chs {
		if r.load(ch.SID(), nav, t) {
			n++
		}
	}
	return n
}

// Assist keeps nav and loads each signal's ephemeris at the first epoch in
// which the signal reports a full GPS time
func (r *Receiver) Assist(nav Nav) {
	r.assist = nav
}

func (r *Receiver) load(sid SignalID, nav Nav, t GTime) bool {
	eph, err := nav.Select(sid.Sat(), t)
	if err != nil {
		r.log.Debug("no ephemeris to preload", "sid", sid, "t", t, "err", err)
		return false
	}
	if err := r.solver.UpdateEphemeris(sid, eph); err != nil {
		r.log.Warn("ephemeris preload failed", "sid", sid, "err", err)
		return false
	}
	r.haveEp[sid] = true
	r.log.Debug("ephemeris preloaded", "sid", sid, "toe", eph.Toe)
	return true
}

// ProcessBlock runs every channel over block in parallel, then forwards
// the navigation messages they produced
func (r *Receiver) ProcessBlock(block []complex64) {
	var wg sync.WaitGroup
	for _, ch := range r.chs {
		wg.Add(1)
		go func(ch *Channel) {
			defer wg.Done()
			ch.ProcessComplex(block)
		}(ch)
	}
	wg.Wait()

	for _, ch := range r.chs {
		q := ch.MessageQueue()
		for !q.Empty() {
			msg, _ := q.Pop()
			switch msg.Kind {
			case TimeAnchorMessage:
				r.log.Debug("time anchor", "sid", ch.SID(), "tow", msg.Anchor.TOW, "week", msg.Anchor.Week)
			case EphemerisMessage:
				if err := r.solver.UpdateEphemeris(ch.SID(), msg.Ephemeris); err != nil {
					r.log.Warn("ephemeris rejected", "sid", ch.SID(), "err", err)
					continue
				}
				r.haveEp[ch.SID()] = true
			default:
				r.log.Warn("unknown message", "sid", ch.SID(), "kind", msg.Kind)
			}
		}
	}
}

// Measurements returns the measurements of the channels that report one
func (r *Receiver) Measurements() []Measurement {
	var meas []Measurement
	for _, ch := range r.chs {
		if v, ok := ch.Measurement(); ok {
			meas = append(meas, v)
		}
	}
	return meas
}

// Epoch collects the current measurements and solves them
func (r *Receiver) Epoch() (*PVTSolution, error) {
	meas := r.Measurements()
	if len(meas) == 0 {
		return nil, fmt.Errorf("%w: no signal reports a measurement", ErrUnderDetermined)
	}
	if r.assist != nil {
		for _, v := range meas {
			if !r.haveEp[v.SID] && v.TOW.Week >= 0 {
				r.load(v.SID, r.assist, GTime{Week: v.TOW.Week, Sec: v.TOW.TOW})
			}
		}
	}
	return r.solver.Update(meas)
}
