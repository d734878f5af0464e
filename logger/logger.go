package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields type alias for logrus.Fields to maintain compatibility
type Fields map[string]interface{}

// Log wraps logrus.Logger with additional functionality
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry with additional functionality
type Entry struct {
	*logrus.Entry
}

var globalLogger *Log

func init() {
	globalLogger = Logger()
}

// Logger builds a JSON logger at the LOG_LEVEL level (info when unset).
func Logger() *Log {
	logger := logrus.New()
	logger.SetReportCaller(true)

	lvl, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	formatter, _ := newFormatter("json")
	logger.SetFormatter(formatter)
	logger.AddHook(&callerHook{})
	return &Log{Logger: logger}
}

func GetLogger() *Log {
	return globalLogger
}

func parseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return logrus.InfoLevel, nil
	case "report":
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level '%s'", level)
	}
	return lvl, nil
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch format {
	case "json", "":
		return &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: callerPrettyfier,
		}, nil
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		}, nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) Info(args ...interface{}) {
	e.Entry.Info(args...)
}

func (e *Entry) Debug(args ...interface{}) {
	e.Entry.Debug(args...)
}

// Warn also counts the warning against the entry's component for the runtime report.
func (e *Entry) Warn(args ...interface{}) {
	if component, ok := e.Entry.Data["component"].(string); ok {
		recordWarn(component)
	}
	e.Entry.Warn(args...)
}

// Error also counts the error against the entry's component for the runtime report.
func (e *Entry) Error(args ...interface{}) {
	if component, ok := e.Entry.Data["component"].(string); ok {
		recordError(component)
	}
	e.Entry.Error(args...)
}

// Configure sets up the logger with the provided configuration. LOG_LEVEL
// overrides level when set.
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	formatter, err := newFormatter(format)
	if err != nil {
		return err
	}
	l.SetFormatter(formatter)

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		// anything else is a file path
		if maxAge > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAge,
				MaxSize:  100,
				Compress: true,
			})
			return nil
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file '%s': %w", output, err)
		}
		l.SetOutput(file)
	}
	return nil
}

// LogPerformanceEntry logs how long an operation took.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	if fields == nil {
		fields = make(Fields)
	}
	fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields["operation"] = operation

	entry.WithFields(fields).WithComponent(component).Info("performance metric")
}

// LogDataFlowEntry logs records moving between two stages and counts them
// for the runtime report.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	RecordFlow(source+"->"+destination, recordCount)
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Info("data flow metric")
}

func (l *Log) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

func (l *Log) SetLevel(level logrus.Level) {
	l.Logger.SetLevel(level)
}

func (l *Log) SetFormatter(formatter logrus.Formatter) {
	l.Logger.SetFormatter(formatter)
}
