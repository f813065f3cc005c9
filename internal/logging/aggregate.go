package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of debug.log.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries; zero-valued fields do not filter.
type LogFilter struct {
	Level           string // minimum level
	StartTime       time.Time
	EndTime         time.Time
	SessionID       string
	WorkerID        string
	Phase           string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// knownFields are lifted out of the raw record into LogEntry fields.
var knownFields = map[string]bool{
	"time":       true,
	"level":      true,
	"msg":        true,
	"session_id": true,
	"worker_id":  true,
	"phase":      true,
}

// AggregateLogs reads debug.log in dir. See ReadLogFile.
func AggregateLogs(dir string) ([]LogEntry, error) {
	return ReadLogFile(filepath.Join(dir, LogFileName))
}

// ReadLogFile parses every JSON line in path, skipping malformed lines, and
// returns the entries sorted by timestamp.
func ReadLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseLogs(f)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseLogs parses JSON log lines from r.
func ParseLogs(r io.Reader) ([]LogEntry, error) {
	const maxLine = 1024 * 1024

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	if s, ok := raw["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			entry.Timestamp = ts
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.SessionID, _ = raw["session_id"].(string)
	entry.WorkerID, _ = raw["worker_id"].(string)
	entry.Phase, _ = raw["phase"].(string)

	for k, v := range raw {
		if !knownFields[k] {
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching every criterion in filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		floor, okMin := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[e.Level]
		if okMin && okGot && got < floor {
			return false
		}
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.WorkerID != "" && e.WorkerID != f.WorkerID {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// WriteLogs renders entries to w as "json" (an indented array) or "text".
func WriteLogs(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		for _, e := range entries {
			if _, err := io.WriteString(w, FormatEntry(e)+"\n"); err != nil {
				return fmt.Errorf("failed to write log entry: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported log format: %s (supported: json, text)", format)
	}
}

// FormatEntry renders one entry as
// "[timestamp] LEVEL - message (session=..., worker=..., phase=...) {attrs}".
func FormatEntry(e LogEntry) string {
	parts := []string{
		"[" + e.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
		e.Level,
		"-",
		e.Message,
	}

	var ctx []string
	if e.SessionID != "" {
		ctx = append(ctx, "session="+e.SessionID)
	}
	if e.WorkerID != "" {
		ctx = append(ctx, "worker="+e.WorkerID)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}
