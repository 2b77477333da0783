package logger

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccie14019/shadow-ai-signatures/internal/matcher"
)

// LogEntry represents a single log entry: one session's detection
// outcome, or its localized failure.
type LogEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	ResultID       string    `json:"result_id,omitempty"`
	Session        string    `json:"session"`
	CaptureFile    string    `json:"capture_file,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Logger handles structured JSON logging
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	writers []io.Writer
}

// Config holds logger configuration
type Config struct {
	LogDir   string // Directory for log files
	FileName string // Log file name (default: detections.jsonl)
	Stdout   bool   // Also write to stdout
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		LogDir:   "logs",
		FileName: "detections.jsonl",
		Stdout:   false,
	}
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, err
	}

	// Open log file in append mode
	logPath := filepath.Join(cfg.LogDir, cfg.FileName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{file}
	if cfg.Stdout {
		writers = append(writers, os.Stdout)
	}

	// Create multi-writer if needed
	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	return &Logger{
		file:    file,
		encoder: json.NewEncoder(writer),
		writers: writers,
	}, nil
}

// Log writes an entry to the log
func (l *Logger) Log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(entry)
}

// LogResult logs a DetectionResult with its session identifier
func (l *Logger) LogResult(result matcher.DetectionResult, session, captureFile string) error {
	entry := LogEntry{
		Timestamp:      result.Timestamp,
		ResultID:       result.ResultID,
		Session:        session,
		CaptureFile:    captureFile,
		Signature:      result.Signature,
		Classification: result.Classification,
		Confidence:     result.Confidence,
		Reason:         result.Reason,
	}
	return l.Log(entry)
}

// LogSessionError logs a localized per-session failure; batch
// processing continues past it
func (l *Logger) LogSessionError(session, captureFile string, err error) error {
	entry := LogEntry{
		Timestamp:   time.Now().UTC(),
		Session:     session,
		CaptureFile: captureFile,
		Error:       err.Error(),
	}
	return l.Log(entry)
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	if l.file != nil {
		return l.file.Name()
	}
	return ""
}
