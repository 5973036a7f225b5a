// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.12
//

// Implements parallel code phase search acquisition.

package gosdr

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// AcqParams configures the acquisition search grid
type AcqParams struct {
	NCoherent    int     // Code periods integrated coherently
	NNoncoherent int     // Coherent results accumulated in power
	DopplerStep  float64 // Doppler bin width [Hz]
	DopplerMax   float64 // Search range +-DopplerMax [Hz]
}

// DefaultAcqParams returns a search over +-5 kHz with 6 ms of non-coherent integration
func DefaultAcqParams() AcqParams {
	return AcqParams{
		NCoherent:    1,
		NNoncoherent: 6,
		DopplerStep:  250,
		DopplerMax:   5000,
	}
}

func (p AcqParams) validate() error {
	switch {
	case p.NCoherent <= 0:
		return fmt.Errorf("%w: acquisition coherent count must be positive", ErrInvalidConfig)
	case p.NNoncoherent <= 0:
		return fmt.Errorf("%w: acquisition non-coherent count must be positive", ErrInvalidConfig)
	case p.DopplerStep <= 0:
		return fmt.Errorf("%w: acquisition doppler step must be positive", ErrInvalidConfig)
	case p.DopplerMax < 0:
		return fmt.Errorf("%w: acquisition doppler range must not be negative", ErrInvalidConfig)
	}
	return nil
}

// AcqResult is the outcome of one search
type AcqResult struct {
	Acquired   bool
	CodeOffset int     // Sample index in the searched block where a code period starts
	CodePhase  float64 // Code phase of the first sample of the block [chip]
	Doppler    float64 // Doppler frequency of the peak bin [Hz]
	Metric     float64 // Peak power normalized by the mean power
	Threshold  float64 // Detection threshold on Metric
	PeakRatio  float64 // Peak power over the second peak in the same doppler bin
	CN0        float64 // C/N0 estimate [dB-Hz]
	Confidence float64 // 1 - probability that noise alone produces this peak
	Periods    int     // Code periods integrated
}

// AcqEngine searches code phase x doppler for one signal.
// Not safe for concurrent use; each channel owns one.
type AcqEngine struct {
	prm      AcqParams
	pfa      float64
	fs       float64
	fif      float64
	step     float64 // Code phase increment per sample [chip]
	clen     int
	nsamp    int // Samples per code period
	nchip    int // Samples per chip, at least 1
	fft      *fourier.CmplxFFT
	codeFFT  []complex128 // conj(FFT(code replica))
	dopplers []float64
	power    []float64 // Power surface, dopplers x nsamp
	mix      []complex128
	spec     []complex128
	corr     []complex128
	coh      []complex128
}

// NewAcqEngine creates the engine for sig sampled at fs [Hz] with
// intermediate frequency fif [Hz], declaring detection at false alarm
// probability pfa over the whole grid
func NewAcqEngine(sig Signal, fs, fif float64, prm AcqParams, pfa float64) (*AcqEngine, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if err := prm.validate(); err != nil {
		return nil, err
	}
	if pfa <= 0 || pfa >= 1 {
		return nil, fmt.Errorf("%w: false alarm probability %g out of (0, 1)", ErrInvalidConfig, pfa)
	}
	code := sig.Code()
	step := sig.CodeRate() / fs
	nsamp := int(math.Round(float64(len(code)) / step))
	if nsamp < len(code) {
		return nil, fmt.Errorf("%w: sample rate %.0f Hz is below the chipping rate", ErrInvalidConfig, fs)
	}

	e := &AcqEngine{
		prm:   prm,
		pfa:   pfa,
		fs:    fs,
		fif:   fif,
		step:  step,
		clen:  len(code),
		nsamp: nsamp,
		nchip: max(1, int(math.Round(1/step))),
		fft:   fourier.NewCmplxFFT(nsamp),
		mix:   make([]complex128, nsamp),
		spec:  make([]complex128, nsamp),
		corr:  make([]complex128, nsamp),
		coh:   make([]complex128, nsamp),
	}

	// Code replica spectrum
	rep := make([]float32, nsamp)
	sampleCode(rep, code, 0, step)
	for i, c := range rep {
		e.mix[i] = complex(float64(c), 0)
	}
	e.codeFFT = e.fft.Coefficients(nil, e.mix)
	for i := range e.codeFFT {
		e.codeFFT[i] = cmplx.Conj(e.codeFFT[i])
	}

	nf := int(math.Floor(prm.DopplerMax/prm.DopplerStep + 1e-9))
	for i := -nf; i <= nf; i++ {
		e.dopplers = append(e.dopplers, float64(i)*prm.DopplerStep)
	}
	e.power = make([]float64, len(e.dopplers)*nsamp)
	return e, nil
}

// SamplesPerCode returns the number of samples in one code period
func (e *AcqEngine) SamplesPerCode() int { return e.nsamp }

// RequiredSamples returns the number of samples used by a full search
func (e *AcqEngine) RequiredSamples() int {
	return e.nsamp * e.prm.NCoherent * e.prm.NNoncoherent
}

// Search runs the search over samples. Fewer samples than RequiredSamples
// reduce the non-coherent count; fewer than one coherent period fail with
// ErrInsufficientData. A negative result is returned with Acquired == false.
func (e *AcqEngine) Search(samples []complex64) (AcqResult, error) {
	ncoh := e.prm.NCoherent
	nblk := min(e.prm.NNoncoherent, len(samples)/(e.nsamp*ncoh))
	if nblk < 1 {
		return AcqResult{}, fmt.Errorf("%w: %d samples for a %d sample coherent period", ErrInsufficientData, len(samples), e.nsamp*ncoh)
	}

	for i := range e.power {
		e.power[i] = 0
	}
	for fi, fd := range e.dopplers {
		carrStep := (e.fif + fd) / e.fs
		pw := e.power[fi*e.nsamp : (fi+1)*e.nsamp]
		for b := 0; b < nblk; b++ {
			for i := range e.coh {
				e.coh[i] = 0
			}
			for c := 0; c < ncoh; c++ {
				start := (b*ncoh + c) * e.nsamp
				e.correlate(samples[start:start+e.nsamp], float64(start)*carrStep, carrStep)
				for i, v := range e.corr {
					e.coh[i] += v
				}
			}
			for i, v := range e.coh {
				pw[i] += SQ(real(v)) + SQ(imag(v))
			}
		}
	}
	return e.detect(nblk), nil
}

// correlate computes the circular correlation of one code period with the
// replica into e.corr. Index k peaks when a code period starts at sample k.
func (e *AcqEngine) correlate(x []complex64, phase, step float64) {
	for i, s := range x {
		ps, pc := math.Sincos(-2 * PI * frac(phase+float64(i)*step))
		e.mix[i] = complex128(s) * complex(pc, ps)
	}
	e.spec = e.fft.Coefficients(e.spec, e.mix)
	for i := range e.spec {
		e.spec[i] *= e.codeFFT[i]
	}
	e.corr = e.fft.Sequence(e.corr, e.spec)
}

// detect evaluates the power surface accumulated over nblk blocks
func (e *AcqEngine) detect(nblk int) AcqResult {
	maxi := floats.MaxIdx(e.power)
	maxP := e.power[maxi]
	fi, ci := maxi/e.nsamp, maxi%e.nsamp
	meanP := floats.Sum(e.power) / float64(len(e.power))

	r := AcqResult{
		CodeOffset: ci,
		CodePhase:  math.Mod(float64(e.nsamp-ci)*e.step, float64(e.clen)),
		Doppler:    e.dopplers[fi],
		Periods:    nblk * e.prm.NCoherent,
	}
	if meanP <= 0 {
		return r
	}
	r.Metric = maxP / meanP

	// Under noise only, 2K * power / mean follows chi-squared with 2K degrees of freedom
	k := float64(2 * nblk)
	chi := distuv.ChiSquared{K: k}
	ncell := float64(len(e.power))
	pcell := -math.Expm1(math.Log1p(-e.pfa) / ncell)
	r.Threshold = chi.Quantile(1-pcell) / k
	r.Confidence = math.Max(0, 1-ncell*chi.Survival(k*r.Metric))
	r.Acquired = r.Metric > r.Threshold

	// Second peak and noise floor of the peak bin, excluding +-1 chip around the peak
	pw := e.power[fi*e.nsamp : (fi+1)*e.nsamp]
	var maxP2, sum float64
	var cnt int
	for i, v := range pw {
		d := i - ci
		if d < 0 {
			d = -d
		}
		if d > e.nsamp/2 {
			d = e.nsamp - d
		}
		if d <= e.nchip {
			continue
		}
		maxP2 = math.Max(maxP2, v)
		sum += v
		cnt++
	}
	if maxP2 > 0 {
		r.PeakRatio = maxP / maxP2
	}
	if cnt > 0 && sum > 0 {
		snr := maxP/(sum/float64(cnt)) - 1
		tcoh := float64(e.prm.NCoherent) * float64(e.nsamp) / e.fs
		if snr > 0 {
			r.CN0 = 10 * math.Log10(snr/tcoh)
		}
	}
	return r
}
