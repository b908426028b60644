// Package unsutil carries the ambient logging and readiness-reporting
// conventions shared by every daemon component: a zap-based logger with a
// caller-aware encoder, a throttled-logger helper for noisy call sites, and
// a lifecycle state reporter.
package unsutil

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ThrottledLogger wraps a sugared logger to limit the rate of redundant
// messages from one call site, doubling its backoff on every emission up to
// maxDelay.
type ThrottledLogger struct {
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

var (
	atomicLevel = zap.NewAtomicLevel()
	daemonName  string

	tloggersMu sync.Mutex
	tloggers   = make(map[string]*ThrottledLogger)
)

// Clear resets the logger's backoff to its base delay.
func (t *ThrottledLogger) Clear() {
	t.next = time.Now()
	t.curDelay = t.baseDelay
}

func (t *ThrottledLogger) ready() bool {
	now := time.Now()
	if !now.After(t.next) {
		return false
	}
	t.next = now.Add(t.curDelay)
	t.curDelay *= 2
	if t.curDelay > t.maxDelay {
		t.curDelay = t.maxDelay
	}
	return true
}

// Errorw issues an ERROR message if the throttle allows it.
func (t *ThrottledLogger) Errorw(msg string, kv ...interface{}) {
	if t.ready() {
		t.slog.Errorw(msg, kv...)
	}
}

// Warnw issues a WARN message if the throttle allows it.
func (t *ThrottledLogger) Warnw(msg string, kv ...interface{}) {
	if t.ready() {
		t.slog.Warnw(msg, kv...)
	}
}

// Infow issues an INFO message if the throttle allows it.
func (t *ThrottledLogger) Infow(msg string, kv ...interface{}) {
	if t.ready() {
		t.slog.Infow(msg, kv...)
	}
}

// GetThrottledLogger returns the ThrottledLogger unique to the call site one
// frame up the stack, allocating it on first use.
func GetThrottledLogger(slog *zap.SugaredLogger, start, max time.Duration) *ThrottledLogger {
	var key string
	if _, file, line, ok := runtime.Caller(1); ok {
		key = file + ":" + strconv.Itoa(line)
	} else {
		key = "unknown"
	}

	tloggersMu.Lock()
	defer tloggersMu.Unlock()
	t, ok := tloggers[key]
	if !ok {
		l := slog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
		t = &ThrottledLogger{
			slog:      l,
			next:      time.Now(),
			baseDelay: start,
			curDelay:  start,
			maxDelay:  max,
		}
		tloggers[key] = t
	}
	return t
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000"))
}

func zapCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	dir, fileName := filepath.Split(caller.File)
	dir = filepath.Base(dir)
	if dir != daemonName {
		fileName = filepath.Join(dir, fileName)
	}
	enc.AppendString(fmt.Sprintf("%s:%s:%d", daemonName, fileName, caller.Line))
}

// LogSetLevel changes the running process's log level, for wiring to a
// SIGHUP/config-reload handler.
func LogSetLevel(level string) error {
	var newLevel zapcore.Level
	if err := (&newLevel).UnmarshalText([]byte(level)); err != nil {
		return err
	}
	atomicLevel.SetLevel(newLevel)
	return nil
}

// NewLogger returns a sugared zap logger that tags each line with name and
// enough caller context to find the source of the message.
func NewLogger(name string) *zap.SugaredLogger {
	daemonName = name

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = atomicLevel
	zapConfig.DisableStacktrace = true
	zapConfig.EncoderConfig.EncodeTime = zapTimeEncoder
	zapConfig.EncoderConfig.EncodeCaller = zapCallerEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		log.Panicf("can't build logger: %s", err)
	}
	return logger.Sugar()
}
