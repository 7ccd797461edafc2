package joblog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"jobkeeper/internal/storage"
	"jobkeeper/internal/task/model"
)

// Record is one execution attempt.
type Record = model.Execution

// Logger persists execution records.
type Logger interface {
	Record(ctx context.Context, r Record) error
}

// LoggerFunc adapts a plain function to Logger.
type LoggerFunc func(ctx context.Context, r Record) error

func (f LoggerFunc) Record(ctx context.Context, r Record) error { return f(ctx, r) }

// Nop drops every record.
var Nop Logger = LoggerFunc(func(context.Context, Record) error { return nil })

// StoreSink appends records to the catalog store.
type StoreSink struct {
	Store storage.Store
}

func (s StoreSink) Record(ctx context.Context, r Record) error {
	if s.Store == nil {
		return storage.ErrDisabled
	}
	return s.Store.AppendExecution(ctx, r)
}

// FileSink appends records as JSON Lines.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFile opens (creating when needed) an append-only JSONL file.
func OpenFile(path string) (*FileSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("execution log file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Record(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("execution log file closed")
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Multi writes to every logger and joins their errors.
type Multi []Logger

func (m Multi) Record(ctx context.Context, r Record) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
