package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ccie14019/shadow-ai-signatures/internal/matcher"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := New(Config{LogDir: t.TempDir(), FileName: "detections.jsonl"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func readEntries(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal log line: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLogResult(t *testing.T) {
	l := newTestLogger(t)

	result := matcher.DetectionResult{
		ResultID:       "11111111-2222-3333-4444-555555555555",
		Timestamp:      time.Now().UTC(),
		Signature:      "t13d1516h2_8daaf6152771_02713d6af862",
		Classification: matcher.ClassificationExactMatch,
		Confidence:     0.93,
		Reason:         "matches openai 1.54.0 with 3 consistent verification run(s)",
	}
	if err := l.LogResult(result, "10.0.0.5:52044->93.184.216.34:443", "openai_run1.pcap"); err != nil {
		t.Fatalf("LogResult: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, l.LogPath())
	if len(entries) != 1 {
		t.Fatalf("log has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Signature != result.Signature || e.Classification != result.Classification {
		t.Errorf("entry = %+v", e)
	}
	if e.Session != "10.0.0.5:52044->93.184.216.34:443" || e.CaptureFile != "openai_run1.pcap" {
		t.Errorf("session metadata lost: %+v", e)
	}
}

func TestLogSessionError(t *testing.T) {
	l := newTestLogger(t)

	err := errors.New("reassembly: incomplete session")
	if logErr := l.LogSessionError("10.0.0.5:52044->93.184.216.34:443", "run.pcap", err); logErr != nil {
		t.Fatalf("LogSessionError: %v", logErr)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, l.LogPath())
	if len(entries) != 1 {
		t.Fatalf("log has %d entries, want 1", len(entries))
	}
	if entries[0].Error != "reassembly: incomplete session" {
		t.Errorf("Error = %q", entries[0].Error)
	}
	if entries[0].Classification != "" {
		t.Errorf("error entry carries a classification: %+v", entries[0])
	}
}

func TestLog_AppendsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{LogDir: dir, FileName: "detections.jsonl"}

	for i := 0; i < 2; i++ {
		l, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := l.Log(LogEntry{Timestamp: time.Now().UTC(), Session: "s"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()
	if entries := readEntries(t, l.LogPath()); len(entries) != 2 {
		t.Errorf("log has %d entries, want 2 (append mode)", len(entries))
	}
}
