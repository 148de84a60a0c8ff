package meridian

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	versionMajor = 0
	versionMinor = 1
	versionPatch = 0
)

// logLevelEnv is the environment variable that sets the level of the logger
// activated by EnableLogger.
const logLevelEnv = "MERIDIAN_DIAG_LEVEL"

var (
	loggerActive     atomic.Bool
	diagnosticLogger atomic.Pointer[slog.Logger]
	discardLogger    = slog.New(slog.DiscardHandler)
)

var binaryDirectory = sync.OnceValue(func() string {
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	if executable, err := os.Executable(); err == nil {
		return filepath.Dir(executable)
	}
	return ""
})

// Version returns the engine's semantic version.
func Version() (major, minor, patch int) {
	return versionMajor, versionMinor, versionPatch
}

// VersionString returns the engine's version as a string, e.g. 0.1.0.
func VersionString() string {
	return fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
}

// BinaryDirectory returns the process's working directory, or the directory of
// its executable if the working directory cannot be determined. It is resolved
// once, on first call.
func BinaryDirectory() string {
	return binaryDirectory()
}

// EnableLogger activates the process-wide diagnostic logger, writing text to
// standard error at the level named by $MERIDIAN_DIAG_LEVEL (default INFO). It
// succeeds exactly once per process; later calls return ErrAlreadyActive.
func EnableLogger() error {
	var level slog.Level
	if value := strings.TrimSpace(os.Getenv(logLevelEnv)); value != "" {
		if err := level.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("%s: %w", logLevelEnv, err)
		}
	}
	return EnableLoggerWithHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// EnableLoggerWithHandler activates the process-wide diagnostic logger with
// handler.
func EnableLoggerWithHandler(handler slog.Handler) error {
	if !loggerActive.CompareAndSwap(false, true) {
		return ErrAlreadyActive
	}
	diagnosticLogger.Store(slog.New(handler))
	return nil
}

// LoggerActive returns whether the diagnostic logger has been activated.
func LoggerActive() bool {
	return loggerActive.Load()
}

// Logger returns the diagnostic logger. Until EnableLogger is called it
// discards everything.
func Logger() *slog.Logger {
	if logger := diagnosticLogger.Load(); logger != nil {
		return logger
	}
	return discardLogger
}
