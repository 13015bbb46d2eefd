package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

const (
	badgerDataPrefix = "d/"
	badgerMetaPrefix = "m/"
	badgerLogPrefix  = "l/"
	badgerSeqKey     = "seq/offerlog"
)

type badgerMeta struct {
	Size         int64                  `json:"size"`
	Digest       string                 `json:"digest,omitempty"`
	DigestType   cryptoutils.DigestType `json:"digest_type,omitempty"`
	LastModified time.Time              `json:"last_modified"`
}

// badgerStore implements a blob store and a durable offer journal on an
// embedded Badger database. Data and metadata are written in one transaction.
type badgerStore struct {
	db   *badger.DB
	dir  string
	seq  *badger.Sequence
	log  *slog.Logger
	open bool
}

// NewBadgerOffer opens (or creates) a Badger database in dir and returns an
// offer backed by it. An empty dir keeps the database in memory.
func NewBadgerOffer(id, dir string, log *slog.Logger) (*Offer, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(badgerSeqKey), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open offer log sequence: %w", err)
	}

	store := &badgerStore{db: db, dir: dir, seq: seq, log: log, open: true}
	return newOffer(id, "badger://"+dir, store, store, log), nil
}

func badgerErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return interfaces.ErrObjectNotFound
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return err
}

func (s *badgerStore) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	data, err := bufferBody(body, size)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	meta, err := json.Marshal(badgerMeta{Size: int64(len(data)), LastModified: time.Now().UTC()})
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerDataPrefix+key), data); err != nil {
			return err
		}
		return txn.Set([]byte(badgerMetaPrefix+key), meta)
	})
	if err != nil {
		return 0, badgerErr(err)
	}
	return int64(len(data)), nil
}

func (s *badgerStore) readMeta(txn *badger.Txn, key string) (*badgerMeta, error) {
	item, err := txn.Get([]byte(badgerMetaPrefix + key))
	if err != nil {
		return nil, err
	}
	var meta badgerMeta
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: corrupted metadata for %s: %v", interfaces.ErrInconsistentState, key, err)
	}
	return &meta, nil
}

func (s *badgerStore) setDigest(_ context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		meta, err := s.readMeta(txn, key)
		if err != nil {
			return err
		}
		meta.Digest = digest
		meta.DigestType = dt
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set([]byte(badgerMetaPrefix+key), raw)
	})
	return badgerErr(err)
}

func (s *badgerStore) get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerDataPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, 0, badgerErr(err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *badgerStore) stat(_ context.Context, key string) (*blobInfo, error) {
	var meta *badgerMeta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = s.readMeta(txn, key)
		return err
	})
	if err != nil {
		return nil, badgerErr(err)
	}
	return &blobInfo{
		Key:          key,
		Size:         meta.Size,
		Digest:       meta.Digest,
		DigestType:   meta.DigestType,
		LastModified: meta.LastModified,
	}, nil
}

func (s *badgerStore) remove(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(badgerMetaPrefix + key)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(badgerDataPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(badgerMetaPrefix + key))
	})
	return badgerErr(err)
}

func (s *badgerStore) list(_ context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	prefix := []byte(badgerMetaPrefix + container + "/")
	var infos []blobInfo
	next := ""

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		start := prefix
		if cursor != "" {
			// Seek to the first key strictly after the cursor.
			start = append([]byte(string(prefix)+cursor), 0)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.KeyCopy(nil)), badgerMetaPrefix)
			if len(infos) == limit {
				next = strings.TrimPrefix(infos[len(infos)-1].Key, container+"/")
				return nil
			}
			var meta badgerMeta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				return err
			}
			infos = append(infos, blobInfo{Key: key, Size: meta.Size, LastModified: meta.LastModified})
		}
		return nil
	})
	if err != nil {
		return nil, "", badgerErr(err)
	}
	return infos, next, nil
}

func (s *badgerStore) capacity(context.Context) (*interfaces.Capacity, error) {
	lsm, vlog := s.db.Size()
	used := lsm + vlog
	if s.dir == "" {
		return &interfaces.Capacity{UsableSpace: UnboundedCapacity, UsedSpace: used}, nil
	}
	_, available, err := volumeStats(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return &interfaces.Capacity{UsableSpace: available, UsedSpace: used}, nil
}

// append records one offer log entry under "l/<container>/<sequence>".
func (s *badgerStore) append(_ context.Context, container, fileName string, action interfaces.OfferLogAction) error {
	seq, err := s.seq.Next()
	if err != nil {
		return badgerErr(err)
	}
	// Badger sequences start at zero; offer log sequences start at one.
	entry := interfaces.OfferLog{
		Sequence:  int64(seq) + 1,
		Container: container,
		FileName:  fileName,
		Action:    action,
		Time:      time.Now().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return badgerErr(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fmt.Sprintf("%s%s/%020d", badgerLogPrefix, container, entry.Sequence)), raw)
	}))
}

func (s *badgerStore) read(_ context.Context, container string, offset *int64, limit int, order interfaces.Order) ([]interfaces.OfferLog, error) {
	prefix := []byte(badgerLogPrefix + container + "/")
	var entries []interfaces.OfferLog
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry interfaces.OfferLog
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, badgerErr(err)
	}
	return selectLogs(entries, offset, limit, order), nil
}

// close is shared by the blob store and journal halves; it runs once.
func (s *badgerStore) close() error {
	if !s.open {
		return nil
	}
	s.open = false
	return errors.Join(s.seq.Release(), s.db.Close())
}
