// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of vusb-analyzer.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is a small leveled logger for the CLI. Time/date are
// omitted by default since systemd adds them for us when run as a unit;
// pass -logdate to turn them back on.
//
// Uses these prefixes: https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNote
	LevelWarn
	LevelError
	LevelCrit
)

type level struct {
	prefix    string
	flags     int
	writer    io.Writer
	plain     *log.Logger
	withDate  *log.Logger
}

var levels = map[Level]*level{
	LevelDebug: {prefix: "<7>[DEBUG]    ", flags: 0},
	LevelInfo:  {prefix: "<6>[INFO]     ", flags: 0},
	LevelNote:  {prefix: "<5>[NOTICE]   ", flags: log.Lshortfile},
	LevelWarn:  {prefix: "<4>[WARNING]  ", flags: log.Lshortfile},
	LevelError: {prefix: "<3>[ERROR]    ", flags: log.Llongfile},
	LevelCrit:  {prefix: "<2>[CRITICAL] ", flags: log.Llongfile},
}

var logDateTime bool

func init() {
	for _, l := range levels {
		l.writer = os.Stderr
		l.plain = log.New(l.writer, l.prefix, l.flags)
		l.withDate = log.New(l.writer, l.prefix, l.flags|log.LstdFlags)
	}
}

// SetLogLevel discards output below lvl ("debug", "info", "notice",
// "warn", "err"/"fatal", "crit"); unrecognized values fall back to debug.
func SetLogLevel(lvl string) {
	order := []Level{LevelDebug, LevelInfo, LevelNote, LevelWarn, LevelError, LevelCrit}
	threshold, ok := map[string]Level{
		"debug": LevelDebug, "info": LevelInfo, "notice": LevelNote,
		"warn": LevelWarn, "err": LevelError, "fatal": LevelError, "crit": LevelCrit,
	}[lvl]
	if !ok {
		fmt.Printf("pkg/log: flag 'loglevel' has invalid value %#v, using 'debug'\n", lvl)
		threshold = LevelDebug
	}
	for _, lv := range order {
		if lv < threshold {
			levels[lv].writer = io.Discard
		}
	}
}

func SetLogDateTime(logdate bool) { logDateTime = logdate }

func output(lvl Level, s string) {
	l := levels[lvl]
	if l.writer == io.Discard {
		return
	}
	if logDateTime {
		l.withDate.Output(3, s)
	} else {
		l.plain.Output(3, s)
	}
}

func Debug(v ...interface{}) { output(LevelDebug, fmt.Sprint(v...)) }
func Info(v ...interface{})  { output(LevelInfo, fmt.Sprint(v...)) }
func Print(v ...interface{}) { Info(v...) }
func Note(v ...interface{})  { output(LevelNote, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { output(LevelWarn, fmt.Sprint(v...)) }
func Error(v ...interface{}) { output(LevelError, fmt.Sprint(v...)) }
func Crit(v ...interface{})  { output(LevelCrit, fmt.Sprint(v...)) }

// Panic logs at error level, then panics, so a deferred recover() further
// up can keep the process alive.
func Panic(v ...interface{}) {
	Error(v...)
	panic("log.Panic triggered")
}

// Fatal logs at error level and terminates the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Debugf(format string, v ...interface{}) { output(LevelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { output(LevelInfo, fmt.Sprintf(format, v...)) }
func Printf(format string, v ...interface{}) { Infof(format, v...) }
func Notef(format string, v ...interface{})  { output(LevelNote, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { output(LevelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { output(LevelError, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...interface{})  { output(LevelCrit, fmt.Sprintf(format, v...)) }

func Panicf(format string, v ...interface{}) {
	Errorf(format, v...)
	panic("log.Panic triggered")
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
