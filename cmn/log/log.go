// Package log provides the single structured-logging sink used across
// this module, replacing the teacher's vendored 3rdparty/glog with
// github.com/rs/zerolog (spec.md §6 "syslog-style severity levels
// through a single sink").
/*
 * Copyright (c) 2024-2025, JHUAPL DTNMA Contributors. All rights reserved.
 */
package log

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// L is the process-wide logger, the direct analogue of the teacher's
// package-level glog calls: every other package logs through it rather
// than constructing its own sink.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()

// SetLevel parses a config-file severity string ("debug", "info",
// "warn", "error") into the equivalent zerolog level and installs it as
// the sink's minimum, the way the teacher's cmn.LogConf.Level gates
// glog's verbosity.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	L = L.Level(lvl)
	zerolog.SetGlobalLevel(lvl)
}

// Debugf, Infof, Warnf, and Errorf are thin convenience wrappers over
// the leveled event builders, matching the teacher's glog.Infof-style
// call sites one for one so the rest of the tree reads the same way it
// did against glog.
func Debugf(format string, args ...interface{}) { L.Debug().Msgf(format, args...) }
func Infof(format string, args ...interface{})  { L.Info().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { L.Warn().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { L.Error().Msgf(format, args...) }

// WithComponent returns a child logger tagged with a "component" field,
// used the way the teacher tags log lines with the originating
// subsystem (target, proxy, mirror, ...) so multiplexed output stays
// attributable.
func WithComponent(name string) zerolog.Logger {
	return L.With().Str("component", name).Logger()
}
