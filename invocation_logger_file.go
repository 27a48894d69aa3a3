package director

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileInvocationLogger logs invocations to a file per run, formatted as
// newline-delimited JSON.
type FileInvocationLogger struct {
	directory string
	mutex     sync.Mutex
}

func NewFileInvocationLogger(directory string) *FileInvocationLogger {
	return &FileInvocationLogger{directory: directory}
}

func (l *FileInvocationLogger) runLogPath(runID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", runID))
}

func (l *FileInvocationLogger) LogInvocation(ctx context.Context, entry *InvocationLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	filePath := l.runLogPath(entry.RunID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileInvocationLogger) GetInvocationHistory(ctx context.Context, runID string) ([]*InvocationLogEntry, error) {
	data, err := os.ReadFile(l.runLogPath(runID))
	if errors.Is(err, os.ErrNotExist) {
		// A run that made no tool calls never writes a log file.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []*InvocationLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry InvocationLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
