package internal

import (
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	logLevel = LogLevelInfo
	logger   = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	logLevel = level
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LogLevelDebug)
	} else {
		SetLogLevel(LogLevelInfo)
	}
}

// SetLogOutput redirects log output, e.g. to a buffer in tests.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLogFile sends log output to a rotating file. An empty config keeps stderr.
func SetLogFile(cfg LoggingConfig) {
	if cfg.Logfile == "" {
		return
	}
	logger.SetOutput(&lumberjack.Logger{
		Filename: cfg.Logfile,
		MaxSize:  cfg.MaxSize, // megabytes
		MaxAge:   cfg.MaxAge,  // days
	})
}

var levelTags = [...]string{
	LogLevelError: "[ERROR] ",
	LogLevelWarn:  "[WARN] ",
	LogLevelInfo:  "[INFO] ",
	LogLevelDebug: "[DEBUG] ",
}

func logf(level LogLevel, format string, args ...interface{}) {
	if logLevel >= level {
		logger.Printf(levelTags[level]+format, args...)
	}
}

// LogError logs an error message
func LogError(format string, args ...interface{}) { logf(LogLevelError, format, args...) }

// LogWarn logs a warning message
func LogWarn(format string, args ...interface{}) { logf(LogLevelWarn, format, args...) }

// LogInfo logs an info message
func LogInfo(format string, args ...interface{}) { logf(LogLevelInfo, format, args...) }

// LogDebug logs a debug message. Datasets a session does not have are
// reported here and never above.
func LogDebug(format string, args ...interface{}) { logf(LogLevelDebug, format, args...) }
