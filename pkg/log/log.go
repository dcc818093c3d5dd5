// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is the gateway's leveled logger. Messages at or above the
// configured level are written with a bracketed level tag; debug and info
// go to stdout, warnings and worse to stderr so an init system or
// container runtime can split the streams. Timestamps are off by default
// (the supervisor usually adds its own) and enabled with SetLogDateTime.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// Level orders the gateway's log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

var levelTags = [...]string{"[debug]", "[info ]", "[warn ]", "[error]", "[crit ]"}

var (
	mu        sync.Mutex
	threshold = LevelDebug
	withTime  bool

	// OutWriter receives debug and info lines, ErrWriter everything from
	// warn upward. Tests may swap them to capture output.
	OutWriter io.Writer = os.Stdout
	ErrWriter io.Writer = os.Stderr
)

// SetLogLevel sets the minimum severity that gets written. Unknown names
// fall back to debug so a typo surfaces everything rather than nothing.
func SetLogLevel(lvl string) {
	mu.Lock()
	defer mu.Unlock()

	switch lvl {
	case "debug":
		threshold = LevelDebug
	case "info":
		threshold = LevelInfo
	case "warn":
		threshold = LevelWarn
	case "err", "error", "fatal":
		threshold = LevelError
	case "crit":
		threshold = LevelCrit
	default:
		threshold = LevelDebug
		emit(LevelWarn, fmt.Sprintf("log: unknown level %q, using debug", lvl))
	}
}

// SetLogDateTime toggles RFC3339 timestamps on every line.
func SetLogDateTime(on bool) {
	mu.Lock()
	defer mu.Unlock()
	withTime = on
}

// emit writes one line. Caller must hold mu. Error and worse carry the
// call site so a report from deep inside a driver adapter can be traced
// back without grepping for the message text.
func emit(lvl Level, msg string) {
	if lvl < threshold {
		return
	}

	w := OutWriter
	if lvl >= LevelWarn {
		w = ErrWriter
	}

	line := levelTags[lvl] + " " + msg
	if lvl >= LevelError {
		if _, file, no, ok := runtime.Caller(3); ok {
			line = fmt.Sprintf("%s (%s:%d)", line, file, no)
		}
	}
	if withTime {
		line = time.Now().Format(time.RFC3339) + " " + line
	}
	fmt.Fprintln(w, line)
}

func write(lvl Level, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	emit(lvl, fmt.Sprint(v...))
}

func writef(lvl Level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	emit(lvl, fmt.Sprintf(format, v...))
}

func Debug(v ...interface{}) { write(LevelDebug, v...) }
func Info(v ...interface{})  { write(LevelInfo, v...) }
func Warn(v ...interface{})  { write(LevelWarn, v...) }
func Error(v ...interface{}) { write(LevelError, v...) }
func Crit(v ...interface{})  { write(LevelCrit, v...) }

func Debugf(format string, v ...interface{}) { writef(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { writef(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { writef(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { writef(LevelError, format, v...) }
func Critf(format string, v ...interface{})  { writef(LevelCrit, format, v...) }

// Fatal logs at error severity and stops the process.
func Fatal(v ...interface{}) {
	write(LevelError, v...)
	os.Exit(1)
}

// Fatalf logs at error severity and stops the process.
func Fatalf(format string, v ...interface{}) {
	writef(LevelError, format, v...)
	os.Exit(1)
}
