// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ipm implements IPMDriver (§4.8), the outer major-iteration loop
// tying together kktassembly, kktsolve, kktstep, barrier, linesearch, and
// fracbound into a complete parallel primal-dual interior-point solver.
// Logger/LogLevel/Options/StepError follow lbfgsb/optimize.go's shapes
// directly (Logger as a plain io.Writer pair + integer level, Options as a
// validated plain struct), the idiom this whole module's ambient stack is
// built on.
package ipm

import (
	"fmt"
	"io"
)

// IterLogLevel controls the frequency and type of logger output, mirroring
// lbfgsb.LogLevel.
type IterLogLevel int

const (
	LogNoop    IterLogLevel = -1
	LogLast    IterLogLevel = 0
	LogEval    IterLogLevel = 1
	LogTrace   IterLogLevel = 99
	LogVerbose IterLogLevel = 101
)

// Logger handles IPMDriver output; the writers must be thread-safe (they
// are only ever touched from the root rank, per §7 "Logs go to a
// configurable output stream on the root rank only").
type Logger struct {
	Level IterLogLevel
	Msg   io.Writer
	Out   io.Writer
}

func (l *Logger) enable(level IterLogLevel) bool {
	return l != nil && l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if l == nil || l.Msg == nil {
		return
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if l == nil || l.Out == nil {
		return
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}
