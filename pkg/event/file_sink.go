package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var errSinkClosed = errors.New("event: file sink closed")

// FileSink appends events as JSON lines and syncs after every write.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string) (*FileSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("event: file sink path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("event: create dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("event: open transcript: %w", err)
	}
	return &FileSink{path: path, file: file}, nil
}

// Path returns the transcript file.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Append(evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("event: marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errSinkClosed
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("event: append: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("event: sync: %w", err)
	}
	return nil
}

// Close releases the file. Further appends fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadFile loads a transcript. Lines that do not decode are skipped.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("event: read transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	var events []Event
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("event: scan transcript: %w", err)
	}
	return events, nil
}

// ReadSince returns the events recorded after the event with ID afterID.
// An empty afterID returns everything.
func ReadSince(path, afterID string) ([]Event, error) {
	events, err := ReadFile(path)
	if err != nil || afterID == "" {
		return events, err
	}
	out := events[:0]
	for _, evt := range events {
		if evt.ID > afterID {
			out = append(out, evt)
		}
	}
	return out, nil
}
