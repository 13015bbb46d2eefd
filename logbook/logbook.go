// Package logbook provides the audit sinks and the alert service used by the
// distribution engine.
package logbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ruteri/storage-distribution/interfaces"
)

// SlogSink writes audit records as structured log lines.
type SlogSink struct {
	log *slog.Logger
}

var _ interfaces.AuditSink = (*SlogSink)(nil)

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log.With(slog.String("component", "logbook"))}
}

func (s *SlogSink) Append(ctx context.Context, record *interfaces.StorageLogbookParameters) error {
	level := slog.LevelInfo
	if record.Outcome != interfaces.OutcomeOK {
		level = slog.LevelWarn
	}
	s.log.Log(ctx, level, "Storage event",
		slog.String("event", record.EventType),
		slog.Time("event_time", record.EventDateTime),
		slog.Int("tenant", record.Tenant),
		slog.String("object", record.ObjectID),
		slog.String("category", string(record.Category)),
		slog.String("digest", record.Digest),
		slog.String("digest_algorithm", string(record.DigestAlgorithm)),
		slog.Int64("size", record.Size),
		slog.Any("agents", record.Agents),
		slog.String("requester", record.Requester),
		slog.String("outcome", string(record.Outcome)),
		slog.String("detail", record.OutcomeDetail))
	return nil
}

// FileSink appends audit records as JSON lines to a file. Records are
// written in append order and synced before Append returns.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

var _ interfaces.AuditSink = (*FileSink)(nil)

// OpenFileSink opens (or creates) the JSON-lines file at path.
func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create logbook directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open logbook: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

func (s *FileSink) Append(ctx context.Context, record *interfaces.StorageLogbookParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("%w: logbook %s is closed", interfaces.ErrIllegalState, s.path)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append to logbook: %w", err)
	}
	return s.f.Sync()
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

// Multi appends every record to all sinks. Every sink is attempted; the
// errors are joined.
type Multi []interfaces.AuditSink

func (m Multi) Append(ctx context.Context, record *interfaces.StorageLogbookParameters) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
