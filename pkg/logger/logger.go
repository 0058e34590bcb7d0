// This package is a tiny wrapper on top of standard log.Logger interface
// and creates logs in the style of the other daemons shipped by this addon:
//
//	technitium-dhcp[PID]: <timestamp> <LEVEL> <Message>
package logger

import (
	"fmt"
	"log"
	"os"
	"time"
)

type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	FATAL LogLevel = "FATAL"
)

type CustomLogger struct {
	logger *log.Logger
	pid    int
	prefix string

	// DEBUG messages are dropped unless explicitly enabled
	debugEnabled bool
}

func NewCustomLogger(prefix string) *CustomLogger {
	pid := os.Getpid()
	logger := log.New(os.Stdout, "", 0) // No flags here, we'll add timestamp manually
	return &CustomLogger{
		logger: logger,
		pid:    pid,
		prefix: prefix,
	}
}

// EnableDebug turns the DEBUG log level on/off; it's off by default.
func (l *CustomLogger) EnableDebug(enable bool) {
	l.debugEnabled = enable
}

func (l *CustomLogger) Log(level LogLevel, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	logMessage := fmt.Sprintf("%s[%d]: %s %s %s", l.prefix, l.pid, timestamp, level, message)
	l.logger.Print(logMessage)
}

// Debug
func (l *CustomLogger) Debug(message string) {
	if l.debugEnabled {
		l.Log(DEBUG, message)
	}
}

// Debugf
// Arguments are handled in the manner of [fmt.Printf].
func (l *CustomLogger) Debugf(format string, v ...any) {
	if l.debugEnabled {
		l.Debug(fmt.Sprintf(format, v...))
	}
}

// Info
func (l *CustomLogger) Info(message string) {
	l.Log(INFO, message)
}

// Infof
// Arguments are handled in the manner of [fmt.Printf].
func (l *CustomLogger) Infof(format string, v ...any) {
	l.Info(fmt.Sprintf(format, v...))
}

// Warn
func (l *CustomLogger) Warn(message string) {
	l.Log(WARN, message)
}

// Warnf
// Arguments are handled in the manner of [fmt.Printf].
func (l *CustomLogger) Warnf(format string, v ...any) {
	l.Warn(fmt.Sprintf(format, v...))
}

// Fatal
func (l *CustomLogger) Fatal(s string) {
	l.Log(FATAL, s)
}

// Fatalf
// Arguments are handled in the manner of [fmt.Printf].
func (l *CustomLogger) Fatalf(format string, v ...any) {
	l.Fatal(fmt.Sprintf(format, v...))
}
