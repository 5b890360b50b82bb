// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger backs the default Logger implementation with a structured zap
// SugaredLogger, the ecosystem's answer to structured logging that the rest
// of the retrieval pack (yellowstone-faithful) leans on heavily.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewStdLogger builds a Logger writing JSON-structured records to w, the
// direct analogue of the teacher's log.NewStdLogger(os.Stdout).
func NewStdLogger(w io.Writer) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	logger := zap.New(core)
	return &zapLogger{sugar: logger.Sugar()}
}

func (z *zapLogger) Log(level Level, keyvals ...interface{}) error {
	switch level {
	case LevelDebug:
		z.sugar.Debugw("", keyvals...)
	case LevelInfo:
		z.sugar.Infow("", keyvals...)
	case LevelWarn:
		z.sugar.Warnw("", keyvals...)
	case LevelError:
		z.sugar.Errorw("", keyvals...)
	case LevelFatal:
		z.sugar.Errorw("", keyvals...)
	default:
		z.sugar.Infow("", keyvals...)
	}
	return nil
}
