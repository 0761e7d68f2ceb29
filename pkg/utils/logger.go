package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const logFilePath = ".codemind/codemind.log"

// Logger represents a process logger. Components receive one at construction.
type Logger struct {
	mu            sync.Mutex
	logger        *log.Logger
	closer        io.Closer
	console       io.Writer // optional echo target for process steps
	jsonMode      bool
	correlationID string
}

var (
	globalLogger *Logger
	once         sync.Once
)

// GetLogger returns the process default logger, backed by a rotating file.
// JSON mode and the correlation id are re-read from the environment on every
// call so they can be toggled before the first log line.
func GetLogger() *Logger {
	once.Do(func() {
		logFile := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		globalLogger = &Logger{
			logger: log.New(logFile, "", log.LstdFlags),
			closer: logFile,
		}
	})
	globalLogger.applyEnv()
	return globalLogger
}

// NewLogger builds a logger writing to w. Tests pass io.Discard or a buffer.
func NewLogger(w io.Writer) *Logger {
	l := &Logger{logger: log.New(w, "", log.LstdFlags)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	l.applyEnv()
	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{logger: log.New(io.Discard, "", 0)}
}

func (w *Logger) applyEnv() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if os.Getenv("CODEMIND_JSON_LOGS") == "1" {
		w.jsonMode = true
	}
	if cid := os.Getenv("CODEMIND_CORRELATION_ID"); cid != "" {
		w.correlationID = cid
	}
}

// SetJSON toggles JSON line output.
func (w *Logger) SetJSON(enabled bool) {
	w.mu.Lock()
	w.jsonMode = enabled
	w.mu.Unlock()
}

// SetCorrelationID tags every subsequent JSON line with cid.
func (w *Logger) SetCorrelationID(cid string) {
	w.mu.Lock()
	w.correlationID = cid
	w.mu.Unlock()
}

// SetConsole echoes process steps to out as well as the log file. Pass nil to
// disable.
func (w *Logger) SetConsole(out io.Writer) {
	w.mu.Lock()
	w.console = out
	w.mu.Unlock()
}

// Close closes the logger resources.
func (w *Logger) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// LogProcessStep logs the current step in a process and echoes it to the
// console writer when one is set.
func (w *Logger) LogProcessStep(step string) {
	if w == nil {
		return
	}
	w.emit("info", "msg", "Process Step: "+step)
	w.mu.Lock()
	out := w.console
	w.mu.Unlock()
	if out != nil {
		fmt.Fprintln(out, step)
	}
}

// Log logs a general message only to the log file.
func (w *Logger) Log(message string) {
	w.emit("info", "msg", message)
}

// Logf logs a formatted general message only to the log file.
func (w *Logger) Logf(format string, v ...interface{}) {
	w.emit("info", "msg", fmt.Sprintf(format, v...))
}

// Warnf logs a formatted warning.
func (w *Logger) Warnf(format string, v ...interface{}) {
	w.emit("warn", "msg", fmt.Sprintf(format, v...))
}

func (w *Logger) LogError(err error) {
	if err == nil {
		return
	}
	w.emit("error", "error", err.Error())
}

func (w *Logger) emit(level, field, text string) {
	if w == nil || w.logger == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jsonMode {
		_ = json.NewEncoder(w.logger.Writer()).Encode(map[string]any{"level": level, field: text, "cid": w.correlationID})
		return
	}
	switch level {
	case "error":
		w.logger.Printf("Error: %s", text)
	case "warn":
		w.logger.Printf("Warning: %s", text)
	default:
		w.logger.Print(text)
	}
}
