// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.14
//

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	m "github.com/mkhts/gosdr"
	"github.com/mkhts/gosdr/sim"
)

func main() {

	// Parse command line arguments
	args, err := parseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	// Run the main application
	if err := runApplication(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Structure to hold command line argument information
type cmdOpt struct {
	cfgFn       string
	navFn       string
	sampleFn    string
	posFn       string
	tracePrefix string
	sigs        m.SignalVar
	simPos      m.PosLLH
	simOn       bool
	simOffset   float64
	simCN0      float64
	simSeed     int64
	maxBlocks   int
	noPosHeader bool
	dbg         int
}

// Parse command line arguments
func parseArgs() (a cmdOpt, err error) {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `
[Usage]
	%s [Options] -c receiver.yaml [-nav nav_file.nav] samples.bin     (16-bit IQ file, - for stdin)
	%s [Options] -c receiver.yaml  -nav nav_file.nav -sim "lat lon hei" (simulated samples)

[Options]
`, filepath.Base(os.Args[0]), filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.StringVar(&a.cfgFn, "c", "", "Receiver configuration file (YAML). Required.")
	flag.StringVar(&a.navFn, "nav", "", "RINEX 3 navigation file to preload broadcast ephemerides from.")
	flag.StringVar(&a.posFn, "o", "", "Output pos file path. If not specified, output to stdout.")
	flag.StringVar(&a.tracePrefix, "trace", "", "Write per-channel tracking traces (JSON lines) to <prefix>.<prn>.")
	flag.Var(&a.sigs, "s", "Signals to track, comma-separated without spaces like G01,G11. Overrides the configuration file.")
	flag.Var(&a.simPos, "sim", "Simulate samples for a static receiver at this position instead of reading a file. Enclose in quotes like -sim \"35.68 139.76 40.0\"")
	flag.Float64Var(&a.simOffset, "st", 0, "Simulation start time relative to the earliest ephemeris Toe [s].")
	flag.Float64Var(&a.simCN0, "cn", 45, "Simulated C/N0 [dB-Hz].")
	flag.Int64Var(&a.simSeed, "seed", 1, "Simulation noise seed.")
	flag.IntVar(&a.maxBlocks, "n", 0, "Maximum number of sample blocks to process. 0 for all.")
	flag.BoolVar(&a.noPosHeader, "nh", false, "Do not output header section of pos file.")
	flag.IntVar(&a.dbg, "x", 0, "Debug information display. Specify level value. 0(OFF), 1(display), 2(detailed display), 3(most detailed)")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "sim" {
			a.simOn = true
		}
	})
	if a.cfgFn == "" {
		return a, fmt.Errorf("the configuration file must be specified! (-c option)")
	}
	switch {
	case a.simOn:
		if a.navFn == "" {
			return a, fmt.Errorf("simulation needs a navigation file! (-nav option)")
		}
		if flag.NArg() != 0 {
			return a, fmt.Errorf("no sample file is read in simulation mode")
		}
	case flag.NArg() == 1:
		a.sampleFn = flag.Arg(0)
	default:
		return a, fmt.Errorf("too less or many arguments")
	}
	return
}

// Main application processing
func runApplication(args cmdOpt) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: m.LogLevel(args.dbg)}))

	cfg, err := m.Load(args.cfgFn)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var nav m.Nav
	if args.navFn != "" {
		if nav, err = readNav(args.navFn); err != nil {
			return fmt.Errorf("failed to read navigation file: %w", err)
		}
		if args.dbg >= 3 {
			fmt.Fprintf(os.Stderr, "--- nav data (%s)---\n", filepath.Base(args.navFn))
			fmt.Fprintln(os.Stderr, nav)
		}
	}

	sids := []m.SignalID(args.sigs)
	if len(sids) == 0 {
		if sids, err = cfg.SignalIDs(); err != nil {
			return err
		}
	}

	// Sample source
	var src sampleSource
	var t0 m.GTime
	if args.simOn {
		gen, simSids, start, err := newSimulator(args, cfg, nav, sids)
		if err != nil {
			return fmt.Errorf("failed to start simulation: %w", err)
		}
		if len(sids) == 0 {
			sids = simSids
		}
		src, t0 = &simSource{gen: gen}, start
	} else {
		fs, err := openSamples(args.sampleFn)
		if err != nil {
			return fmt.Errorf("failed to open sample file: %w", err)
		}
		defer fs.Close()
		src = fs
	}
	if len(sids) == 0 {
		return fmt.Errorf("no signals to track (-s option or signals in %s)", args.cfgFn)
	}

	// Channels and solver
	traces, err := openTraces(args.tracePrefix, sids)
	defer traces.close()
	if err != nil {
		return err
	}
	rcv, err := m.NewReceiver(cfg, sids, logger, traces.writers)
	if err != nil {
		return err
	}

	// The simulated start time is known, a recording's only once decoded
	if nav != nil {
		if args.simOn {
			n := rcv.Preload(nav, t0)
			logger.Info("ephemerides preloaded", "signals", n, "time", t0)
		} else {
			rcv.Assist(nav)
		}
	}

	// Prepare output file
	pos, err := prepareOutput(args)
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}
	defer pos.Close()
	if !args.noPosHeader {
		printPosHeader(pos, os.Args[0], args, cfg, sids)
	}

	return processBlocks(args, cfg, src, rcv, pos, logger)
}

// traceFiles holds the per-signal trace outputs of a run
type traceFiles struct {
	files   []*os.File
	bufs    []*bufio.Writer
	writers map[m.SignalID]io.Writer
}

func openTraces(prefix string, sids []m.SignalID) (*traceFiles, error) {
	tf := &traceFiles{writers: make(map[m.SignalID]io.Writer)}
	if prefix == "" {
		return tf, nil
	}
	for _, sid := range sids {
		f, err := os.Create(fmt.Sprintf("%s.%02d", prefix, sid.PRN))
		if err != nil {
			return tf, fmt.Errorf("failed to create trace file: %w", err)
		}
		w := bufio.NewWriter(f)
		tf.files = append(tf.files, f)
		tf.bufs = append(tf.bufs, w)
		tf.writers[sid] = w
	}
	return tf, nil
}

func (tf *traceFiles) close() {
	for _, w := range tf.bufs {
		w.Flush()
	}
	for _, f := range tf.files {
		f.Close()
	}
}

// Process sample blocks
func processBlocks(args cmdOpt, cfg m.Config, src sampleSource, rcv *m.Receiver, pos io.Writer, logger *slog.Logger) error {
	block := make([]complex64, cfg.Receiver.BlockSize)
	for n := 1; args.maxBlocks <= 0 || n <= args.maxBlocks; n++ {
		k, err := src.Read(block)
		if k > 0 {
			rcv.ProcessBlock(block[:k])
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read samples: %w", err)
		}
		if n%cfg.Receiver.MeasPeriod != 0 {
			continue
		}

		// Measurement epoch
		sol, err := rcv.Epoch()
		if err != nil {
			lvl := slog.LevelInfo
			if errors.Is(err, m.ErrUnderDetermined) {
				lvl = slog.LevelDebug
			}
			logger.Log(context.Background(), lvl, "epoch skipped", "block", n, "err", err)
			continue
		}
		printPos(pos, sol)
	}
	return nil
}

// ------------------------------------
// Sample sources
// ------------------------------------

type sampleSource interface {
	// Read fills dst and returns the number of samples read
	Read(dst []complex64) (int, error)
}

// fileSource reads 16-bit interleaved IQ samples
type fileSource struct {
	r   io.ReadCloser
	raw []byte
	iq  []m.CI16
	buf []complex64
}

func openSamples(fn string) (*fileSource, error) {
	if fn == "-" {
		return &fileSource{r: io.NopCloser(os.Stdin)}, nil
	}
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	return &fileSource{r: f}, nil
}

func (s *fileSource) Read(dst []complex64) (int, error) {
	if n := len(dst) * m.CI16Size; cap(s.raw) < n {
		s.raw = make([]byte, n)
	}
	s.raw = s.raw[:len(dst)*m.CI16Size]
	k, err := io.ReadFull(s.r, s.raw)
	s.iq = m.DecodeCI16(s.iq, s.raw[:k])
	s.buf = m.ToComplex64(s.buf, s.iq)
	return copy(dst, s.buf), err
}

func (s *fileSource) Close() error { return s.r.Close() }

type simSource struct {
	gen *sim.Generator
}

func (s *simSource) Read(dst []complex64) (int, error) {
	s.gen.Generate(dst)
	return len(dst), nil
}

// Set up the simulator from the navigation data. With no signals given all
// visible satellites are simulated.
func newSimulator(args cmdOpt, cfg m.Config, nav m.Nav, sids []m.SignalID) (*sim.Generator, []m.SignalID, m.GTime, error) {
	var t0 m.GTime
	first := true
	for _, ephs := range nav {
		for _, e := range ephs {
			if first || e.Toe.Less(t0) {
				t0, first = e.Toe, false
			}
		}
	}
	if first {
		return nil, nil, t0, fmt.Errorf("no GPS ephemeris in %s", args.navFn)
	}
	t0 = t0.Add(args.simOffset)

	var sats []sim.Satellite
	var simSids []m.SignalID
	for _, s := range sim.Visible(nav, args.simPos.ToXYZ(), t0, 5, args.simCN0) {
		sid := m.SignalID{System: m.SystemGPS, Band: m.BandL1, PRN: uint16(s.PRN)}
		if len(sids) > 0 && !containsSignal(sids, sid) {
			continue
		}
		sats = append(sats, s)
		simSids = append(simSids, sid)
	}
	if len(sats) == 0 {
		return nil, nil, t0, fmt.Errorf("no satellite visible at %s", t0)
	}
	gen, err := sim.New(sim.Params{
		SampleRate: cfg.Receiver.SampleRateHz,
		IF:         cfg.Receiver.IFHz,
		TOW:        t0.Sec,
		Seed:       args.simSeed,
	}, sats)
	if err != nil {
		return nil, nil, t0, err
	}
	return gen, simSids, t0, nil
}

func containsSignal(sids []m.SignalID, sid m.SignalID) bool {
	for _, s := range sids {
		if s == sid {
			return true
		}
	}
	return false
}

// ------------------------------------
// Input / output files
// ------------------------------------

// Read navigation file
func readNav(fn string) (m.Nav, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return m.ReadRinexNav(f)
}

// Prepare output file
func prepareOutput(args cmdOpt) (io.WriteCloser, error) {

	// Use stdout if no output file is specified
	if len(args.posFn) == 0 {
		return &nopCloser{os.Stdout}, nil
	}
	posf, err := os.Create(args.posFn)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return posf, nil
}

// nopCloser - WriteCloser that ignores close operations
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Print pos file header
func printPosHeader(pos io.Writer, cmd string, args cmdOpt, cfg m.Config, sids []m.SignalID) {
	fmt.Fprintf(pos, "%% program   : %s\n", filepath.Base(cmd))
	fmt.Fprintf(pos, "%% config    : %s\n", args.cfgFn)
	if args.simOn {
		fmt.Fprintf(pos, "%% simulated : %s\n", args.simPos.String())
	} else {
		fmt.Fprintf(pos, "%% inp file  : %s\n", args.sampleFn)
	}
	if args.navFn != "" {
		fmt.Fprintf(pos, "%% inp file  : %s\n", args.navFn)
	}
	sv := m.SignalVar(sids)
	fmt.Fprintf(pos, "%% signals   : %s\n", sv.String())
	fmt.Fprintf(pos, "%% sampling  : %.0f Hz (IF %.0f Hz)\n", cfg.Receiver.SampleRateHz, cfg.Receiver.IFHz)
	fmt.Fprintf(pos, "%%  GPST                 latitude(deg) longitude(deg)  height(m)   Q  ns      clk_bias(s)     vel_e(m/s)     vel_n(m/s)     vel_u(m/s)       gdop       pdop       hdop       vdop\n")
}

// Output POS file
func printPos(pos io.Writer, sol *m.PVTSolution) {
	rcvt := m.GTime{
		Week: sol.Time.Week,
		Sec:  math.Round(sol.Time.Sec*1000) / 1000,
	}
	rcvtStr := rcvt.ToTime().UTC().Format("2006/01/02 15:04:05.000")
	Q := 5
	var venu m.PosENU
	if sol.HasVelocity {
		venu = sol.Vel.RotateENU(sol.LLH)
	}
	fmt.Fprintf(pos, "%s %13.9f %14.9f %10.4f %3d %3d %16.9f %14.4f %14.4f %14.4f %10.3f %10.3f %10.3f %10.3f\n",
		rcvtStr, m.ToDeg(sol.LLH.Lat), m.ToDeg(sol.LLH.Lon), sol.LLH.Hei, Q, len(sol.Signals), sol.ClockBias/m.C,
		venu.E, venu.N, venu.U, sol.DOP.GDOP, sol.DOP.PDOP, sol.DOP.HDOP, sol.DOP.VDOP)
}
