// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package gosdr

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the receiver configuration file
type Config struct {
	Receiver    ReceiverConfig    `yaml:"receiver"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	PVT         PVTConfig         `yaml:"pvt"`
	Signals     []string          `yaml:"signals"`
}

type ReceiverConfig struct {
	SampleRateHz  float64 `yaml:"sample_rate_hz"`
	IFHz          float64 `yaml:"if_hz"`
	BlockSize     int     `yaml:"block_size"`  // Samples per processed block
	MeasPeriod    int     `yaml:"meas_period"` // Blocks per measurement epoch
	WeekReference int     `yaml:"week_reference"`
}

type AcquisitionConfig struct {
	NCoherent    int     `yaml:"n_coherent"`
	NNoncoherent int     `yaml:"n_noncoherent"`
	DopplerStep  float64 `yaml:"doppler_step_hz"`
	DopplerMax   float64 `yaml:"doppler_max_hz"`
	Pfa          float64 `yaml:"p_false_alarm"`
}

type TrackingConfig struct {
	CorrOffsets          []float64    `yaml:"corr_offsets"`
	CodeDiscriminator    string       `yaml:"code_discriminator"`
	CarrierDiscriminator string       `yaml:"carrier_discriminator"`
	Filter               string       `yaml:"filter"`      // kalman or pll
	CodeFilter           string       `yaml:"code_filter"` // none or kalman
	DLLGain              float64      `yaml:"dll_gain"`
	Kalman               KalmanConfig `yaml:"kalman"`
	CodeKalman           KalmanConfig `yaml:"code_kalman"`
	PLL                  PLLConfig    `yaml:"pll"`
	Lock                 LockConfig   `yaml:"lock"`
	TraceEvery           int          `yaml:"trace_every"`
}

type KalmanConfig struct {
	Order             int     `yaml:"order"`
	InitPhaseVar      float64 `yaml:"init_phase_var"`
	InitFreqVar       float64 `yaml:"init_freq_var"`
	InitRateVar       float64 `yaml:"init_rate_var"`
	ProcessNoise      float64 `yaml:"process_noise"`
	PhaseProcessNoise float64 `yaml:"phase_process_noise"`
	PhaseMeasVar      float64 `yaml:"phase_meas_var"`
	FreqMeasVar       float64 `yaml:"freq_meas_var"`
}

type PLLConfig struct {
	PLLBandwidthHz float64 `yaml:"pll_bandwidth_hz"`
	FLLBandwidthHz float64 `yaml:"fll_bandwidth_hz"`
}

type LockConfig struct {
	PullInMinPeriods int     `yaml:"pull_in_min_periods"`
	PullInFreqTolHz  float64 `yaml:"pull_in_freq_tol_hz"`
	PullInTimeout    float64 `yaml:"pull_in_timeout_s"`
	LostCN0DBHz      float64 `yaml:"lost_cn0_dbhz"`
	LostDwell        float64 `yaml:"lost_dwell_s"`
	CN0Window        int     `yaml:"cn0_window"`
}

type PVTConfig struct {
	ElevationMaskDeg  float64 `yaml:"elevation_mask_deg"`
	WeightByElevation *bool   `yaml:"weight_by_elevation"`
	CodeSigma         float64 `yaml:"code_sigma_m"`
	MaxIterations     int     `yaml:"max_iterations"`
	MaxGDOP           float64 `yaml:"max_gdop"`
	ChiSquareTest     *bool   `yaml:"chi_square_test"`
	Tropo             *bool   `yaml:"tropo"`
	Velocity          *bool   `yaml:"velocity"`
	RequireAllSignals bool    `yaml:"require_all_signals"`
}

// Load reads the configuration file at path
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader reads a configuration, applies defaults and validates it
func LoadReader(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if cfg.Receiver.SampleRateHz <= 0 {
		return Config{}, fmt.Errorf("receiver.sample_rate_hz must be positive")
	}
	if cfg.Receiver.BlockSize <= 0 {
		cfg.Receiver.BlockSize = 16536
	}
	if cfg.Receiver.MeasPeriod <= 0 {
		cfg.Receiver.MeasPeriod = 100
	}
	if cfg.Receiver.WeekReference <= 0 {
		cfg.Receiver.WeekReference = DefaultLNAVParams().WeekReference
	}

	da := DefaultAcqParams()
	if cfg.Acquisition.NCoherent <= 0 {
		cfg.Acquisition.NCoherent = da.NCoherent
	}
	if cfg.Acquisition.NNoncoherent <= 0 {
		cfg.Acquisition.NNoncoherent = da.NNoncoherent
	}
	if cfg.Acquisition.DopplerStep <= 0 {
		cfg.Acquisition.DopplerStep = da.DopplerStep
	}
	if cfg.Acquisition.DopplerMax <= 0 {
		cfg.Acquisition.DopplerMax = da.DopplerMax
	}
	if cfg.Acquisition.Pfa == 0 {
		cfg.Acquisition.Pfa = 0.05
	}
	if cfg.Acquisition.Pfa < 0 || cfg.Acquisition.Pfa >= 1 {
		return Config{}, fmt.Errorf("acquisition.p_false_alarm must be in (0, 1)")
	}

	t := &cfg.Tracking
	if len(t.CorrOffsets) == 0 {
		t.CorrOffsets = []float64{0.5}
	}
	for _, d := range t.CorrOffsets {
		if d <= 0 || d >= 1.5 {
			return Config{}, fmt.Errorf("tracking.corr_offsets must be in (0, 1.5) chip, got %g", d)
		}
	}
	if t.CodeDiscriminator == "" {
		t.CodeDiscriminator = EMLEnvelope.String()
	}
	if _, err := ParseCodeDiscriminator(t.CodeDiscriminator); err != nil {
		return Config{}, fmt.Errorf("tracking.code_discriminator: %w", err)
	}
	if t.CarrierDiscriminator == "" {
		t.CarrierDiscriminator = ATan.String()
	}
	if _, err := ParseCarrierDiscriminator(t.CarrierDiscriminator); err != nil {
		return Config{}, fmt.Errorf("tracking.carrier_discriminator: %w", err)
	}
	if t.Filter == "" {
		t.Filter = "kalman"
	}
	if t.Filter != "kalman" && t.Filter != "pll" {
		return Config{}, fmt.Errorf("tracking.filter must be kalman or pll, got %q", t.Filter)
	}
	if t.CodeFilter == "" {
		t.CodeFilter = "none"
	}
	if t.CodeFilter != "none" && t.CodeFilter != "kalman" {
		return Config{}, fmt.Errorf("tracking.code_filter must be none or kalman, got %q", t.CodeFilter)
	}
	if t.Kalman.Order != 0 && t.Kalman.Order != 2 && t.Kalman.Order != 3 {
		return Config{}, fmt.Errorf("tracking.kalman.order must be 2 or 3, got %d", t.Kalman.Order)
	}
	if t.CodeKalman.Order != 0 && t.CodeKalman.Order != 2 && t.CodeKalman.Order != 3 {
		return Config{}, fmt.Errorf("tracking.code_kalman.order must be 2 or 3, got %d", t.CodeKalman.Order)
	}
	if t.TraceEvery <= 0 {
		t.TraceEvery = 1
	}

	if cfg.PVT.ElevationMaskDeg < 0 || cfg.PVT.ElevationMaskDeg >= 90 {
		return Config{}, fmt.Errorf("pvt.elevation_mask_deg must be in [0, 90)")
	}

	if _, err := cfg.SignalIDs(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SignalIDs parses the signal list
func (cfg *Config) SignalIDs() ([]SignalID, error) {
	ids := make([]SignalID, 0, len(cfg.Signals))
	for _, s := range cfg.Signals {
		id, err := ParseSignalID(s)
		if err != nil {
			return nil, fmt.Errorf("signals: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NewSignal builds the signal for id
func (cfg *Config) NewSignal(id SignalID) (Signal, error) {
	if id.System != SystemGPS || id.Band != BandL1 {
		return nil, fmt.Errorf("%w: signal %s not supported", ErrInvalidConfig, id)
	}
	sig, err := NewGPSL1CA(int(id.PRN), cfg.Receiver.WeekReference)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// ChannelParams builds channel parameters with fresh loop filter instances
func (cfg *Config) ChannelParams(logger *slog.Logger, trace io.Writer) (ChannelParams, error) {
	t := cfg.Tracking
	codeDisc, err := ParseCodeDiscriminator(t.CodeDiscriminator)
	if err != nil {
		return ChannelParams{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	carrDisc, err := ParseCarrierDiscriminator(t.CarrierDiscriminator)
	if err != nil {
		return ChannelParams{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var carr LoopFilter
	switch t.Filter {
	case "pll":
		carr = NewPLLLoopFilter(PLLParams{PLLBandwidth: t.PLL.PLLBandwidthHz, FLLBandwidth: t.PLL.FLLBandwidthHz})
	default:
		carr = NewKalmanLoopFilter(t.Kalman.params())
	}
	var code LoopFilter
	if t.CodeFilter == "kalman" {
		code = NewKalmanLoopFilter(t.CodeKalman.params())
	}

	return ChannelParams{
		SampleRate: cfg.Receiver.SampleRateHz,
		IF:         cfg.Receiver.IFHz,
		Acq: AcqParams{
			NCoherent:    cfg.Acquisition.NCoherent,
			NNoncoherent: cfg.Acquisition.NNoncoherent,
			DopplerStep:  cfg.Acquisition.DopplerStep,
			DopplerMax:   cfg.Acquisition.DopplerMax,
		},
		Pfa:           cfg.Acquisition.Pfa,
		CorrOffsets:   append([]float64(nil), t.CorrOffsets...),
		CodeDisc:      codeDisc,
		CarrierDisc:   carrDisc,
		CarrierFilter: carr,
		CodeFilter:    code,
		DLLGain:       t.DLLGain,
		Lock: LockParams{
			PullInMinPeriods: t.Lock.PullInMinPeriods,
			PullInFreqTolHz:  t.Lock.PullInFreqTolHz,
			PullInTimeout:    t.Lock.PullInTimeout,
			LostCN0DBHz:      t.Lock.LostCN0DBHz,
			LostDwell:        t.Lock.LostDwell,
			CN0Window:        t.Lock.CN0Window,
		},
		Trace:      trace,
		TraceEvery: t.TraceEvery,
		Logger:     logger,
	}, nil
}

// PVTOptions builds solver options; unset fields keep the solver defaults
func (cfg *Config) PVTOptions(logger *slog.Logger) PVTOptions {
	opt := DefaultPVTOptions()
	p := cfg.PVT
	if p.ElevationMaskDeg > 0 {
		opt.ElevationMask = p.ElevationMaskDeg
	}
	if p.WeightByElevation != nil {
		opt.WeightByElevation = *p.WeightByElevation
	}
	if p.CodeSigma > 0 {
		opt.CodeSigma = p.CodeSigma
	}
	if p.MaxIterations > 0 {
		opt.MaxIterations = p.MaxIterations
	}
	if p.MaxGDOP > 0 {
		opt.MaxGDOP = p.MaxGDOP
	}
	if p.ChiSquareTest != nil {
		opt.ChiSquareTest = *p.ChiSquareTest
	}
	if p.Tropo != nil {
		opt.Tropo = *p.Tropo
	}
	if p.Velocity != nil {
		opt.Velocity = *p.Velocity
	}
	opt.RequireAllSignals = p.RequireAllSignals
	opt.Logger = logger
	return opt
}

func (k KalmanConfig) params() KalmanLoopFilterParams {
	return KalmanLoopFilterParams{
		Order:             k.Order,
		InitPhaseVar:      k.InitPhaseVar,
		InitFreqVar:       k.InitFreqVar,
		InitRateVar:       k.InitRateVar,
		ProcessNoise:      k.ProcessNoise,
		PhaseProcessNoise: k.PhaseProcessNoise,
		PhaseMeasVar:      k.PhaseMeasVar,
		FreqMeasVar:       k.FreqMeasVar,
	}
}
