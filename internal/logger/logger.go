package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.Nop()

	DebugEnabled = false

	logFile *os.File
)

// InitLogging sets up logging based on configuration. Records go to logPath
// when set; debug mode also mirrors them to stderr.
func InitLogging(debugMode bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = debugMode

	level := zerolog.InfoLevel
	if debugMode {
		level = zerolog.DebugLevel
	}

	var writers []io.Writer

	if logPath != "" {
		logDir := filepath.Dir(logPath)
		err := os.MkdirAll(logDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		logFile = f
		writers = append(writers, f)
	}

	if debugMode {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	if len(writers) == 0 {
		log = zerolog.Nop()
		return nil
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()

	return nil
}

// SetOutput replaces the destination of all records. Used by tests.
func SetOutput(w io.Writer, debugMode bool) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if debugMode {
		level = zerolog.DebugLevel
	}

	DebugEnabled = debugMode
	log = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	log = zerolog.Nop()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := log
	return &l
}

func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}
