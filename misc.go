// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.12
//

package gosdr

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ------------------------------------
// Mini functions
// ------------------------------------

func SQ(x float64) float64 {
	return x * x
}

func ToDeg(rad float64) float64 {
	return rad / PI * 180.0
}

func ToRad(deg float64) float64 {
	return deg / 180.0 * PI
}

// frac returns x - floor(x)
func frac(x float64) float64 {
	return x - math.Floor(x)
}

// wrapHalf folds x into [-0.5, 0.5)
func wrapHalf(x float64) float64 {
	return x - math.Floor(x+0.5)
}

// ------------------------------------
// Debug print function
// ------------------------------------

// PrintMat writes a matrix with its dimensions
func PrintMat(w io.Writer, X mat.Matrix) {
	r, c := X.Dims()
	fmt.Fprintf(w, "(%d x %d)\n", r, c)
	fmt.Fprintf(w, "%v\n", mat.Formatted(X, mat.Prefix(""), mat.Squeeze()))
}

// LogLevel maps a debug display level (0: quiet .. 3: most verbose) onto slog
func LogLevel(dbg int) slog.Level {
	switch {
	case dbg <= 0:
		return slog.LevelWarn
	case dbg == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ------------------------------------
// For command argument parsing
// ------------------------------------

// SignalVar is a comma-separated signal list, e.g. "G01,G11,G17"
type SignalVar []SignalID

func (p *SignalVar) Set(s string) error {
	*p = SignalVar{}
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		id, err := ParseSignalID(a)
		if err != nil {
			return err
		}
		*p = append(*p, id)
	}
	return nil
}

func (p *SignalVar) String() string {
	if p == nil {
		return ""
	}
	s := make([]string, len(*p))
	for i, id := range *p {
		s[i] = id.String()
	}
	return strings.Join(s, ",")
}
