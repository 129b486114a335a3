package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var logFileMutex sync.Mutex

// DispatchLogEntry records the outcome of one action dispatch.
type DispatchLogEntry struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventID     uint64         `json:"event_id"`
	Fingerprint string         `json:"fingerprint"`
	RuleID      uint64         `json:"rule_id,omitempty"`
	RuleName    string         `json:"rule_name,omitempty"`
	ActionType  string         `json:"action_type"`
	Target      string         `json:"target,omitempty"` // recipients or URL
	Result      string         `json:"result"`           // sent, failed, skipped
	Error       string         `json:"error,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// InitDispatchLog creates the audit log directory.
func InitDispatchLog(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func dispatchLogPath(logDir string, day time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("dispatch-%s.jsonl", day.Format("2006-01-02")))
}

// WriteDispatchLog appends entry to logs/dispatch-YYYY-MM-DD.jsonl.
func WriteDispatchLog(logDir string, entry *DispatchLogEntry) error {
	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	file, err := os.OpenFile(dispatchLogPath(logDir, entry.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// DispatchLogQuery filters dispatch audit entries.
type DispatchLogQuery struct {
	EventID    *uint64    `json:"event_id,omitempty"`
	ActionType string     `json:"action_type,omitempty"`
	Result     string     `json:"result,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// DispatchLogResult is one page of matching entries, newest first.
type DispatchLogResult struct {
	Total int                 `json:"total"`
	Logs  []*DispatchLogEntry `json:"logs"`
}

// QueryDispatchLogs scans the daily files covering the query range (last 7
// days by default).
func QueryDispatchLogs(logDir string, q *DispatchLogQuery) (*DispatchLogResult, error) {
	end := time.Now()
	if q.EndTime != nil {
		end = *q.EndTime
	}
	start := end.AddDate(0, 0, -7)
	if q.StartTime != nil {
		start = *q.StartTime
	}

	matched := make([]*DispatchLogEntry, 0)
	for d := start; !d.After(end.AddDate(0, 0, 1)); d = d.AddDate(0, 0, 1) {
		path := dispatchLogPath(logDir, d)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		entries, err := readDispatchLog(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if q.matches(e) {
				matched = append(matched, e)
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	from := min(q.Offset, len(matched))
	to := min(from+limit, len(matched))

	return &DispatchLogResult{Total: len(matched), Logs: matched[from:to]}, nil
}

func readDispatchLog(path string) ([]*DispatchLogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make([]*DispatchLogEntry, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry DispatchLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (q *DispatchLogQuery) matches(e *DispatchLogEntry) bool {
	if q.EventID != nil && e.EventID != *q.EventID {
		return false
	}
	if q.ActionType != "" && e.ActionType != q.ActionType {
		return false
	}
	if q.Result != "" && e.Result != q.Result {
		return false
	}
	if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}
