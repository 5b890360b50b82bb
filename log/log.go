// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log reproduces the small pluggable Logger/Helper seam the teacher
// threads through its File type (github.com/saferwall/pe/log, referenced
// but not vendored in the retrieval pack), backed here by zap rather than a
// bare stdlib log.Logger.
package log

import "fmt"

// Level is a logging severity, ordered low to high.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Logger is the minimal seam dex.Options/orchestrator.Config carry: a
// single structured log call, keyed value pairs after the message.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// Helper wraps a Logger with level-named convenience methods, the same
// shape as the teacher's *log.Helper.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) Debug(args ...interface{}) { h.log(LevelDebug, args...) }
func (h *Helper) Info(args ...interface{})  { h.log(LevelInfo, args...) }
func (h *Helper) Warn(args ...interface{})  { h.log(LevelWarn, args...) }
func (h *Helper) Error(args ...interface{}) { h.log(LevelError, args...) }

func (h *Helper) Debugf(format string, args ...interface{}) { h.logf(LevelDebug, format, args...) }
func (h *Helper) Infof(format string, args ...interface{})  { h.logf(LevelInfo, format, args...) }
func (h *Helper) Warnf(format string, args ...interface{})  { h.logf(LevelWarn, format, args...) }
func (h *Helper) Errorf(format string, args ...interface{}) { h.logf(LevelError, format, args...) }

func (h *Helper) log(level Level, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", fmt.Sprint(args...))
}

func (h *Helper) logf(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", fmt.Sprintf(format, args...))
}

// filter wraps a Logger, dropping any record below its configured level,
// mirroring the teacher's log.NewFilter(logger, log.FilterLevel(...)).
type filter struct {
	logger Logger
	level  Level
}

// FilterOption configures a filter built by NewFilter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a filter passes through.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter returns a Logger that only forwards records at or above its
// configured level (LevelInfo by default) to logger.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{logger: logger, level: LevelInfo}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}
