package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
)

// DefaultOfferLogLimit bounds offer log windows when the caller passes no limit.
const DefaultOfferLogLimit = 100

// offerJournal records writes and deletes per container with a sequence
// number that is strictly increasing across the offer.
type offerJournal interface {
	append(ctx context.Context, container, fileName string, action interfaces.OfferLogAction) error
	read(ctx context.Context, container string, offset *int64, limit int, order interfaces.Order) ([]interfaces.OfferLog, error)
	close() error
}

// selectLogs applies the offset/limit/order window to entries sorted by
// ascending sequence.
func selectLogs(entries []interfaces.OfferLog, offset *int64, limit int, order interfaces.Order) []interfaces.OfferLog {
	if limit <= 0 {
		limit = DefaultOfferLogLimit
	}
	out := make([]interfaces.OfferLog, 0, min(limit, len(entries)))
	if order == interfaces.OrderDescending {
		for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
			if offset != nil && entries[i].Sequence > *offset {
				continue
			}
			out = append(out, entries[i])
		}
		return out
	}
	start := 0
	if offset != nil {
		start = sort.Search(len(entries), func(i int) bool { return entries[i].Sequence >= *offset })
	}
	for i := start; i < len(entries) && len(out) < limit; i++ {
		out = append(out, entries[i])
	}
	return out
}

// memoryJournal keeps the offer log in process memory. Remote offers without
// a native journal use it, so their log covers the lifetime of the process.
type memoryJournal struct {
	mu      sync.Mutex
	seq     int64
	entries map[string][]interfaces.OfferLog
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{entries: make(map[string][]interfaces.OfferLog)}
}

func (j *memoryJournal) append(_ context.Context, container, fileName string, action interfaces.OfferLogAction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	j.entries[container] = append(j.entries[container], interfaces.OfferLog{
		Sequence:  j.seq,
		Container: container,
		FileName:  fileName,
		Action:    action,
		Time:      time.Now().UTC(),
	})
	return nil
}

func (j *memoryJournal) read(_ context.Context, container string, offset *int64, limit int, order interfaces.Order) ([]interfaces.OfferLog, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return selectLogs(j.entries[container], offset, limit, order), nil
}

func (j *memoryJournal) close() error {
	return nil
}

// fileJournal appends JSON lines to one file per container and keeps a
// mirror in memory for reads.
type fileJournal struct {
	dir string
	mem *memoryJournal
	mu  sync.Mutex
}

func openFileJournal(dir string) (*fileJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	j := &fileJournal{dir: dir, mem: newMemoryJournal()}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if err := j.load(name); err != nil {
			return nil, err
		}
	}
	for container := range j.mem.entries {
		entries := j.mem.entries[container]
		sort.Slice(entries, func(a, b int) bool { return entries[a].Sequence < entries[b].Sequence })
	}
	return j, nil
}

func (j *fileJournal) load(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry interfaces.OfferLog
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("corrupted journal %s: %w", name, err)
		}
		j.mem.entries[entry.Container] = append(j.mem.entries[entry.Container], entry)
		if entry.Sequence > j.mem.seq {
			j.mem.seq = entry.Sequence
		}
	}
	return scanner.Err()
}

func (j *fileJournal) append(ctx context.Context, container, fileName string, action interfaces.OfferLogAction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.mem.append(ctx, container, fileName, action); err != nil {
		return err
	}
	j.mem.mu.Lock()
	entries := j.mem.entries[container]
	entry := entries[len(entries)-1]
	j.mem.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(j.dir, container+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func (j *fileJournal) read(ctx context.Context, container string, offset *int64, limit int, order interfaces.Order) ([]interfaces.OfferLog, error) {
	return j.mem.read(ctx, container, offset, limit, order)
}

func (j *fileJournal) close() error {
	return nil
}
