// Package audit appends restore reports to a rotating JSONL log.
//
// The log is fire-and-forget: a restore never fails because its report
// could not be written.
package audit

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grafton-io/grafton/internal/types"
)

// Logger writes one JSON line per restore operation.
type Logger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// New creates a rotating audit log at path. Rotation limits can be
// tuned through GRAFTON_AUDIT_MAX_SIZE (MB), GRAFTON_AUDIT_MAX_BACKUPS
// and GRAFTON_AUDIT_MAX_AGE (days).
func New(path string) *Logger {
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    getEnvInt("GRAFTON_AUDIT_MAX_SIZE", 10),
			MaxBackups: getEnvInt("GRAFTON_AUDIT_MAX_BACKUPS", 3),
			MaxAge:     getEnvInt("GRAFTON_AUDIT_MAX_AGE", 30),
			Compress:   true,
		},
	}
}

// RecordRestore appends the report as one JSON line. Errors are
// swallowed.
func (l *Logger) RecordRestore(report *types.RestoreReport) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(data)
}

// Close flushes and closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
