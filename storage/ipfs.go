package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

// ipfsStore implements a blob store on the mutable file system (MFS) of an
// IPFS node. Objects keep stable paths while their content is addressed by
// the node; digests live in a sidecar tree under the same root.
type ipfsStore struct {
	shell *shell.Shell
	host  string
	port  string
	root  string
	log   *slog.Logger
}

// NewIPFSOffer creates a new IPFS offer connected to the node API at host:port.
// Objects are stored below root in the node's MFS.
func NewIPFSOffer(id, host, port, root string, timeout time.Duration, log *slog.Logger) (*Offer, error) {
	if port == "" {
		port = "5001" // Default IPFS API port
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)
	root = "/" + strings.Trim(root, "/")

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	store := &ipfsStore{
		shell: sh,
		host:  host,
		port:  port,
		root:  root,
		log:   log,
	}
	uri := fmt.Sprintf("ipfs://%s%s", apiURL, root)
	return newOffer(id, uri, store, newMemoryJournal(), log), nil
}

func (s *ipfsStore) objectPath(key string) string {
	return path.Join(s.root, key)
}

func (s *ipfsStore) digestPath(key string) string {
	return path.Join(s.root, ".digests", key)
}

func ipfsErr(op string, err error) error {
	if strings.Contains(err.Error(), "file does not exist") || strings.Contains(err.Error(), "no link named") {
		return interfaces.ErrObjectNotFound
	}
	return fmt.Errorf("%w: ipfs %s: %v", interfaces.ErrBackendUnavailable, op, err)
}

func (s *ipfsStore) available() error {
	if !s.shell.IsUp() {
		s.log.Warn("IPFS node unavailable",
			slog.String("host", s.host),
			slog.String("port", s.port))
		return interfaces.ErrBackendUnavailable
	}
	return nil
}

func (s *ipfsStore) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	if err := s.available(); err != nil {
		return 0, err
	}
	counter := &countingReader{r: body}
	err := s.shell.FilesWrite(ctx, s.objectPath(key), counter,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return counter.n, ipfsErr("write", err)
	}
	_ = s.shell.FilesRm(ctx, s.digestPath(key), true)
	return counter.n, nil
}

func (s *ipfsStore) setDigest(ctx context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	err := s.shell.FilesWrite(ctx, s.digestPath(key), strings.NewReader(string(dt)+":"+digest),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return ipfsErr("write digest", err)
	}
	return nil
}

func (s *ipfsStore) get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	st, err := s.shell.FilesStat(ctx, s.objectPath(key))
	if err != nil {
		return nil, 0, ipfsErr("stat", err)
	}
	rc, err := s.shell.FilesRead(ctx, s.objectPath(key))
	if err != nil {
		return nil, 0, ipfsErr("read", err)
	}
	return rc, int64(st.Size), nil
}

func (s *ipfsStore) stat(ctx context.Context, key string) (*blobInfo, error) {
	st, err := s.shell.FilesStat(ctx, s.objectPath(key))
	if err != nil {
		return nil, ipfsErr("stat", err)
	}
	info := &blobInfo{Key: key, Size: int64(st.Size)}

	rc, err := s.shell.FilesRead(ctx, s.digestPath(key))
	if err != nil {
		return info, nil
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		s.log.Warn("Failed to read digest sidecar", slog.String("key", key), "err", err)
		return info, nil
	}
	if dt, digest, ok := strings.Cut(string(raw), ":"); ok {
		info.DigestType = cryptoutils.DigestType(dt)
		info.Digest = digest
	}
	return info, nil
}

func (s *ipfsStore) remove(ctx context.Context, key string) error {
	if _, err := s.shell.FilesStat(ctx, s.objectPath(key)); err != nil {
		return ipfsErr("stat", err)
	}
	if err := s.shell.FilesRm(ctx, s.objectPath(key), true); err != nil {
		return ipfsErr("rm", err)
	}
	_ = s.shell.FilesRm(ctx, s.digestPath(key), true)
	return nil
}

func (s *ipfsStore) list(ctx context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	entries, err := s.shell.FilesLs(ctx, s.objectPath(container), shell.FilesLs.Stat(true))
	if err != nil {
		mapped := ipfsErr("ls", err)
		if errors.Is(mapped, interfaces.ErrObjectNotFound) {
			return nil, "", nil
		}
		return nil, "", mapped
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	infos := make([]blobInfo, 0, limit)
	next := ""
	for _, e := range entries {
		if e.Name <= cursor {
			continue
		}
		if len(infos) == limit {
			next = strings.TrimPrefix(infos[len(infos)-1].Key, container+"/")
			break
		}
		infos = append(infos, blobInfo{Key: container + "/" + e.Name, Size: int64(e.Size)})
	}
	return infos, next, nil
}

func (s *ipfsStore) capacity(context.Context) (*interfaces.Capacity, error) {
	if err := s.available(); err != nil {
		return nil, err
	}
	return &interfaces.Capacity{UsableSpace: UnboundedCapacity, UsedSpace: -1}, nil
}

func (s *ipfsStore) close() error {
	return nil
}
