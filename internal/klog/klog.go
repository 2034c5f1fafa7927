// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog provides the kernel's structured logging, following
// gcsfuse/internal/logger's move from a plain *log.Logger (what
// jacobsa/fuse's Connection carries as debugLogger/errorLogger) to
// log/slog with rotation via lumberjack.
package klog

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the kernel logs.
type Config struct {
	// FilePath is the log file to rotate through lumberjack. If empty, logs
	// go to stderr and are not rotated.
	FilePath string
	// Debug enables verbose per-operation logging (analogous to
	// jacobsa/fuse's debugLogger being non-nil).
	Debug bool
	// MaxSizeMB is the lumberjack rotation threshold.
	MaxSizeMB int
}

// Logger is the kernel-wide logger. A nil *Logger is valid and behaves as
// if logging were disabled, mirroring jacobsa/fuse's nil-safe loggers.
type Logger struct {
	base      *slog.Logger
	debug     bool
	bootID    string
}

// New builds a Logger from cfg. Each call mints a fresh uuid boot ID
// (available through BootID), attached to every record so concurrent syscalls across
// processes can be told apart in the log stream (gcsfuse and lxd mint a
// uuid per request the same way).
func New(cfg Config) *Logger {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 64
		}
		w = &lumberjack.Logger{
			Filename: cfg.FilePath,
			MaxSize:  maxSize,
			Compress: true,
		}
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	bootID := uuid.NewString()
	base := slog.New(handler).With("boot_id", bootID)

	return &Logger{base: base, debug: cfg.Debug, bootID: bootID}
}

// BootID returns the correlation id minted for this kernel instance.
func (l *Logger) BootID() string {
	if l == nil {
		return ""
	}
	return l.bootID
}

// Debugf logs an operation trace line. It is a no-op when l is nil or debug
// logging was not enabled, the same contract jacobsa/fuse's Connection
// applies to its debugLogger.
func (l *Logger) Debugf(msg string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.base.Debug(msg, args...)
}

// Errorf logs an unexpected failure. A nil Logger discards the message.
func (l *Logger) Errorf(msg string, args ...any) {
	if l == nil {
		return
	}
	l.base.Error(msg, args...)
}

// Infof logs a routine lifecycle event (boot, mount, process spawn/exit).
func (l *Logger) Infof(msg string, args ...any) {
	if l == nil {
		return
	}
	l.base.Info(msg, args...)
}

// With returns a Logger that attaches the given key/value pairs to every
// subsequent record, e.g. klog.With("attachment", path).
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.base = l.base.With(args...)
	return &cp
}
