// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

// Implements the signal tracking channel.

package gosdr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
)

// ChannelState is the tracking state of a channel
type ChannelState int

const (
	StateAcquiring ChannelState = iota
	StatePullIn
	StateTracking
	StateLost
)

func (s ChannelState) String() string {
	switch s {
	case StateAcquiring:
		return "Acquiring"
	case StatePullIn:
		return "PullIn"
	case StateTracking:
		return "Tracking"
	case StateLost:
		return "Lost"
	default:
		return fmt.Sprintf("ChannelState(%d)", int(s))
	}
}

// Smoothing factor of the pull-in frequency error
const pullInAlpha = 0.02

// Default gain of the first-order DLL used without a code filter [per period]
const defaultDLLGain = 0.02

// LockParams holds the lock detection tunables
type LockParams struct {
	PullInMinPeriods int     // Periods before pull-in may complete
	PullInFreqTolHz  float64 // Smoothed frequency error that completes pull-in [Hz]
	PullInTimeout    float64 // Time after which an unfinished pull-in is lost [s]
	LostCN0DBHz      float64 // C/N0 below which the signal is considered lost [dB-Hz]
	LostDwell        float64 // Time C/N0 has to stay low before loss [s]
	CN0Window        int     // Prompt periods per C/N0 estimate
}

func DefaultLockParams() LockParams {
	return LockParams{
		PullInMinPeriods: 100,
		PullInFreqTolHz:  10,
		PullInTimeout:    1.5,
		LostCN0DBHz:      25,
		LostDwell:        0.2,
		CN0Window:        100,
	}
}

func (p LockParams) withDefaults() LockParams {
	d := DefaultLockParams()
	if p.PullInMinPeriods <= 0 {
		p.PullInMinPeriods = d.PullInMinPeriods
	}
	if p.PullInFreqTolHz <= 0 {
		p.PullInFreqTolHz = d.PullInFreqTolHz
	}
	if p.PullInTimeout <= 0 {
		p.PullInTimeout = d.PullInTimeout
	}
	if p.LostCN0DBHz <= 0 {
		p.LostCN0DBHz = d.LostCN0DBHz
	}
	if p.LostDwell <= 0 {
		p.LostDwell = d.LostDwell
	}
	if p.CN0Window <= 0 {
		p.CN0Window = d.CN0Window
	}
	return p
}

// ChannelParams configures a channel. Loop filters are owned by the channel.
type ChannelParams struct {
	SampleRate    float64 // [Hz]
	IF            float64 // Intermediate frequency [Hz]
	Acq           AcqParams
	Pfa           float64   // False alarm probability of acquisition
	CorrOffsets   []float64 // Early/late offsets [chip]; the first drives the DLL
	CodeDisc      CodeDiscriminator
	CarrierDisc   CarrierDiscriminator
	CarrierFilter LoopFilter
	CodeFilter    LoopFilter // Optional. nil uses a first-order DLL with DLLGain
	DLLGain       float64
	Lock          LockParams
	Trace         io.Writer // Optional JSON lines trace sink
	TraceEvery    int       // Integrations per trace record
	Logger        *slog.Logger
}

// ChannelStatus summarizes the last events of a channel
type ChannelStatus struct {
	State        ChannelState
	Acq          AcqResult // Last acquisition result
	Decoder      DecoderStatus
	DecoderStats DecoderStats
	Err          error // Last anomaly: ErrNoDetection, ErrSignalLost or nil
}

// Channel acquires and tracks one signal and decodes its navigation data.
// A channel is used by one goroutine at a time.
type Channel struct {
	sig   Signal
	prm   ChannelParams
	log   *slog.Logger
	acq   *AcqEngine
	dec   NavDataDecoder
	queue MessageQueue
	bank  *correlatorBank
	cn0   *cn0Estimator
	trace *traceWriter
	code  []float32
	clen  float64

	state   ChannelState
	acqRslt AcqResult
	err     error

	// Sample buffer; buf[head:] is pending
	buf   []complex64
	head  int
	cbuf  []complex64
	ready bool // Lost channel restarts on the next block

	// NCOs, referring to buf[head]
	carrFreq  float64 // [Hz], IF included
	carrPhase float64 // [cycle]
	codePhase float64 // [chip]
	codeCorr  float64 // Code filter rate correction [chip/s]

	periods     uint64 // Integrated code periods
	pullPeriods int
	pullErr     float64 // Smoothed pull-in frequency error [Hz]
	prevPrompt  complex128
	lastFreq    float64 // NCO frequency of the previous integration [Hz]
	havePrev    bool
	cn0Val      float64
	lockVal     float64
	lowTime     float64 // Time C/N0 has been below the loss threshold [s]

	anchor    TimeAnchor
	hasAnchor bool
}

// NewChannel creates a channel for sig. Misconfiguration is reported as an
// error wrapping ErrInvalidConfig.
func NewChannel(sig Signal, prm ChannelParams) (*Channel, error) {
	if sig == nil {
		return nil, fmt.Errorf("%w: no signal", ErrInvalidConfig)
	}
	if prm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if len(prm.CorrOffsets) == 0 {
		return nil, fmt.Errorf("%w: no correlator offsets", ErrInvalidConfig)
	}
	for _, d := range prm.CorrOffsets {
		if d <= 0 || d >= 1.5 {
			return nil, fmt.Errorf("%w: correlator offset %g out of (0, 1.5) chip", ErrInvalidConfig, d)
		}
	}
	if prm.CarrierFilter == nil {
		return nil, fmt.Errorf("%w: no carrier loop filter", ErrInvalidConfig)
	}
	if prm.Pfa == 0 {
		prm.Pfa = 0.05
	}
	if prm.DLLGain <= 0 {
		prm.DLLGain = defaultDLLGain
	}
	prm.Lock = prm.Lock.withDefaults()
	acq, err := NewAcqEngine(sig, prm.SampleRate, prm.IF, prm.Acq, prm.Pfa)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		sig:   sig,
		prm:   prm,
		log:   loggerOr(prm.Logger).With("sid", sig.ID()),
		acq:   acq,
		dec:   sig.NewDecoder(),
		bank:  newCorrelatorBank(prm.CorrOffsets),
		cn0:   newCN0Estimator(prm.Lock.CN0Window),
		trace: newTraceWriter(prm.Trace, prm.TraceEvery),
		code:  sig.Code(),
		clen:  float64(len(sig.Code())),
	}
	c.restart()
	return c, nil
}

func (c *Channel) SID() SignalID { return c.sig.ID() }

func (c *Channel) State() ChannelState { return c.state }

// Doppler returns the carrier NCO doppler [Hz]
func (c *Channel) Doppler() float64 { return c.carrFreq - c.prm.IF }

// CN0 returns the latest C/N0 estimate [dB-Hz]
func (c *Channel) CN0() float64 { return c.cn0Val }

// MessageQueue returns the queue of decoded messages. It is never cleared
// by the channel.
func (c *Channel) MessageQueue() *MessageQueue { return &c.queue }

func (c *Channel) Status() ChannelStatus {
	return ChannelStatus{
		State:        c.state,
		Acq:          c.acqRslt,
		Decoder:      c.dec.Status(),
		DecoderStats: c.dec.Stats(),
		Err:          c.err,
	}
}

// ProcessSamples applies a block of 16-bit IQ samples
func (c *Channel) ProcessSamples(block []CI16) {
	c.cbuf = ToComplex64(c.cbuf, block)
	c.ProcessComplex(c.cbuf)
}

// ProcessComplex applies a block of samples
func (c *Channel) ProcessComplex(block []complex64) {
	if c.state == StateLost {
		c.restart()
	}
	c.push(block)
	for {
		var ok bool
		switch c.state {
		case StateAcquiring:
			ok = c.acquire()
		case StatePullIn, StateTracking:
			ok = c.integrate()
		default:
			ok = false
		}
		if !ok {
			return
		}
	}
}

// restart resets loop, decoder and NCO state and enters acquisition
func (c *Channel) restart() {
	c.state = StateAcquiring
	c.buf, c.head = c.buf[:0], 0
	c.carrFreq, c.carrPhase = c.prm.IF, 0
	c.codePhase, c.codeCorr = 0, 0
	c.dec.Reset()
	c.cn0.reset()
	c.cn0Val, c.lockVal, c.lowTime = 0, 0, 0
	c.hasAnchor = false
}

func (c *Channel) push(block []complex64) {
	if c.head > 0 {
		n := copy(c.buf, c.buf[c.head:])
		c.buf = c.buf[:n]
		c.head = 0
	}
	c.buf = append(c.buf, block...)
}

func (c *Channel) pending() []complex64 { return c.buf[c.head:] }

// acquire runs one search. It returns true when the state changed and the
// remaining samples should be processed.
func (c *Channel) acquire() bool {
	req := c.acq.RequiredSamples()
	p := c.pending()
	if len(p) < req {
		return false
	}
	r, err := c.acq.Search(p[:req])
	if err != nil {
		c.err = err
		c.head += req
		return true
	}
	c.acqRslt = r
	if !r.Acquired {
		c.err = ErrNoDetection
		c.head += req
		c.log.Debug("acquisition", "acquired", false, "metric", r.Metric, "thr", r.Threshold)
		return true
	}
	c.err = nil
	c.head += r.CodeOffset
	doppler := r.Doppler
	c.carrFreq = c.prm.IF + doppler
	c.carrPhase = 0
	c.codePhase = 0
	c.codeCorr = 0
	c.prm.CarrierFilter.Reset(doppler)
	if c.prm.CodeFilter != nil {
		c.prm.CodeFilter.Reset(0)
	}
	c.pullPeriods, c.pullErr, c.havePrev = 0, 0, false
	c.cn0.reset()
	c.lowTime = 0
	c.dec.Reset()
	c.hasAnchor = false
	c.setState(StatePullIn)
	c.log.Debug("acquisition", "acquired", true, "doppler", doppler, "offset", r.CodeOffset,
		"metric", r.Metric, "thr", r.Threshold, "cn0", r.CN0)
	return true
}

func (c *Channel) setState(s ChannelState) {
	if s == c.state {
		return
	}
	lvl := slog.LevelDebug
	if s == StateLost || (c.state == StateLost && s == StateAcquiring) {
		lvl = slog.LevelWarn
	}
	if s == StateTracking {
		lvl = slog.LevelInfo
	}
	c.log.Log(context.Background(), lvl, "state", "from", c.state, "to", s, "period", c.periods)
	c.state = s
}

// codeRate is the carrier-aided code rate [chip/s]
func (c *Channel) codeRate() float64 {
	return c.sig.CodeRate()*(1+(c.carrFreq-c.prm.IF)/c.sig.CarrierFreq()) + c.codeCorr
}

// codeStep is the code phase increment per sample [chip]
func (c *Channel) codeStep() float64 {
	return c.codeRate() / c.prm.SampleRate
}

// integrate processes one code period. It returns false when the pending
// samples do not cover a full period.
func (c *Channel) integrate() bool {
	step := c.codeStep()
	n := int(math.Ceil((c.clen - c.codePhase) / step))
	if n < 1 {
		n = 1
	}
	p := c.pending()
	if n > len(p) {
		return false
	}
	carrStep := c.carrFreq / c.prm.SampleRate
	c.bank.integrate(p[:n], c.code, c.codePhase, step, c.carrPhase, carrStep)
	c.head += n
	c.codePhase += float64(n)*step - c.clen
	c.carrPhase = frac(c.carrPhase + float64(n)*carrStep)
	c.periods++
	c.update(float64(n) / c.prm.SampleRate)
	return c.state == StatePullIn || c.state == StateTracking
}

// update runs discriminators, loop filters and lock detection after an integration
func (c *Channel) update(dt float64) {
	p, e, l := c.bank.prompt(), c.bank.early(), c.bank.late()
	rec := c.traceRecord()

	// Code loop
	codeErr := c.prm.CodeDisc.Discriminate(e, p, l, c.prm.CorrOffsets[0])
	if c.prm.CodeFilter != nil {
		cmd := c.prm.CodeFilter.Update(LoopInput{Error: codeErr, Kind: PhaseError, Interval: dt})
		c.codeCorr = cmd.Frequency
		c.codePhase += cmd.PhaseStep
	} else {
		c.codePhase += c.prm.DLLGain * codeErr
	}

	// Carrier loop
	var carrErr float64
	curFreq := c.carrFreq
	switch c.state {
	case StatePullIn:
		if c.havePrev {
			// Relative to the NCO frequency of this integration
			carrErr = FrequencyDiscriminator(c.prevPrompt, p, dt) + (c.lastFreq-curFreq)/2
			cmd := c.prm.CarrierFilter.Update(LoopInput{Error: carrErr, Kind: FrequencyError, Interval: dt})
			c.carrFreq = c.prm.IF + cmd.Frequency
			c.pullErr += pullInAlpha * (carrErr - c.pullErr)
		}
	case StateTracking:
		carrErr = c.prm.CarrierDisc.Discriminate(p)
		cmd := c.prm.CarrierFilter.Update(LoopInput{Error: carrErr, Kind: PhaseError, Interval: dt})
		c.carrFreq = c.prm.IF + cmd.Frequency
		c.carrPhase = frac(c.carrPhase + cmd.PhaseStep)
	}
	c.lastFreq, c.prevPrompt, c.havePrev = curFreq, p, true

	// Navigation data
	if c.state == StateTracking {
		for _, m := range c.dec.Decode(Symbol{Value: real(p), Epoch: c.periods}) {
			c.deliver(m)
		}
	}

	// Lock detection
	if c.cn0.add(p, dt) {
		c.cn0Val, c.lockVal = c.cn0.cn0, c.cn0.lock
		if c.cn0Val < c.prm.Lock.LostCN0DBHz {
			c.lowTime += float64(c.prm.Lock.CN0Window) * dt
		} else {
			c.lowTime = 0
		}
	}
	switch {
	case c.lowTime >= c.prm.Lock.LostDwell:
		c.lose(fmt.Sprintf("cn0 %.1f dB-Hz below %.1f", c.cn0Val, c.prm.Lock.LostCN0DBHz))
	case c.state == StatePullIn:
		c.pullPeriods++
		if c.pullPeriods >= c.prm.Lock.PullInMinPeriods && math.Abs(c.pullErr) < c.prm.Lock.PullInFreqTolHz {
			c.setState(StateTracking)
		} else if float64(c.pullPeriods)*dt > c.prm.Lock.PullInTimeout {
			c.lose("pull-in timeout")
		}
	}

	if rec != nil {
		rec.CodeError, rec.CarrierError = codeErr, carrErr
		rec.CN0, rec.Lock = c.cn0Val, c.lockVal
		if err := c.trace.write(rec); err != nil {
			c.log.Warn("trace stopped", "err", err)
		}
	}
}

func (c *Channel) deliver(m NavMessage) {
	switch m.Kind {
	case TimeAnchorMessage:
		if !c.hasAnchor {
			c.log.Debug("frame sync", "tow", m.Anchor.TOW, "subframe", m.Anchor.SubframeID)
		}
		c.anchor, c.hasAnchor = m.Anchor, true
	case EphemerisMessage:
		c.log.Debug("ephemeris", "iode", m.Ephemeris.Iode, "toe", m.Ephemeris.Toe)
	}
	c.queue.Push(m)
}

func (c *Channel) lose(reason string) {
	c.err = fmt.Errorf("%w: %s", ErrSignalLost, reason)
	c.setState(StateLost)
	c.hasAnchor = false
}

func (c *Channel) traceRecord() *TraceRecord {
	if !c.trace.due(c.periods) {
		return nil
	}
	corr := c.bank.correlations()
	tc := make([]TraceCorrelation, len(corr))
	for i, x := range corr {
		tc[i] = TraceCorrelation{Offset: x.Offset, I: real(x.IQ), Q: imag(x.IQ)}
	}
	return &TraceRecord{
		SID:          c.sig.ID().String(),
		State:        c.state.String(),
		Period:       c.periods,
		Correlations: tc,
		CodePhase:    c.codePhase,
		CodeRate:     c.codeRate(),
		CarrierPhase: c.carrPhase,
		Doppler:      c.Doppler(),
		Decoder:      c.dec.Status().String(),
	}
}

// TOW returns the transmit time of the signal at the end of the last
// processed block. It is known only while tracking with frame sync.
func (c *Channel) TOW() (TOWResult, bool) {
	if c.state != StateTracking || !c.hasAnchor || c.dec.Status() != DecoderFrameSync {
		return TOWResult{Week: -1}, false
	}
	chips := c.codePhase + float64(len(c.pending()))*c.codeStep()
	tow := c.anchor.TOW + float64(c.periods-c.anchor.Epoch)*CACodePeriod + chips/c.sig.CodeRate()
	week := c.anchor.Week
	for tow >= SecondsPerWeek {
		tow -= SecondsPerWeek
		if week >= 0 {
			week++
		}
	}
	return TOWResult{TOW: tow, Week: week}, true
}

// Measurement returns the contribution of the channel to the current epoch
func (c *Channel) Measurement() (Measurement, bool) {
	tow, ok := c.TOW()
	if !ok {
		return Measurement{}, false
	}
	return Measurement{
		SID:        c.sig.ID(),
		TOW:        tow,
		Doppler:    c.Doppler(),
		HasDoppler: true,
		CN0:        c.cn0Val,
	}, true
}
