package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

const (
	// DefaultListLimit bounds listing pages when the caller passes no limit.
	DefaultListLimit = 1000

	// UnboundedCapacity is reported as usable space by offers without a quota.
	UnboundedCapacity int64 = math.MaxInt64
)

// blobInfo describes one stored blob.
type blobInfo struct {
	Key          string
	Size         int64
	Digest       string
	DigestType   cryptoutils.DigestType
	LastModified time.Time
}

// blobStore is the backend-specific half of an offer. Keys have the form
// "<container>/<objectID>". Implementations map a missing key to
// interfaces.ErrObjectNotFound.
type blobStore interface {
	put(ctx context.Context, key string, body io.Reader, size int64) (int64, error)
	setDigest(ctx context.Context, key string, dt cryptoutils.DigestType, digest string) error
	get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	stat(ctx context.Context, key string) (*blobInfo, error)
	remove(ctx context.Context, key string) error
	// list returns keys of container strictly after cursor, in key order.
	list(ctx context.Context, container, cursor string, limit int) ([]blobInfo, string, error)
	capacity(ctx context.Context) (*interfaces.Capacity, error)
	close() error
}

// Offer is a synchronous offer built from a blob store and an offer journal.
// It implements interfaces.OfferConnection; the digest of every written object
// is computed while streaming and persisted next to the object.
type Offer struct {
	id          string
	locationURI string
	store       blobStore
	journal     offerJournal
	log         *slog.Logger
}

func newOffer(id, locationURI string, store blobStore, journal offerJournal, log *slog.Logger) *Offer {
	return &Offer{
		id:          id,
		locationURI: locationURI,
		store:       store,
		journal:     journal,
		log:         log.With(slog.String("offer", id)),
	}
}

// ID returns the offer identifier.
func (o *Offer) ID() string {
	return o.id
}

// LocationURI returns the URI the offer was created from.
func (o *Offer) LocationURI() string {
	return o.locationURI
}

// Container returns the container name of a tenant and category.
func Container(tenant int, category interfaces.DataCategory) string {
	return fmt.Sprintf("%d_%s", tenant, category.Folder())
}

func objectKey(ref interfaces.ObjectRef) string {
	return Container(ref.Tenant, ref.Category) + "/" + ref.ObjectID
}

func validateRef(ref interfaces.ObjectRef) error {
	if ref.ObjectID == "" || strings.ContainsAny(ref.ObjectID, "/\\") || ref.ObjectID == "." || ref.ObjectID == ".." {
		return fmt.Errorf("%w: invalid object id %q", interfaces.ErrPreconditionFailed, ref.ObjectID)
	}
	if err := ref.Category.Validate(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrPreconditionFailed, err)
	}
	return nil
}

// PutObject streams the body into the offer and records its digest.
func (o *Offer) PutObject(ctx context.Context, req interfaces.PutObjectRequest) (*interfaces.PutObjectResult, error) {
	if err := validateRef(req.Ref); err != nil {
		return nil, err
	}
	dt := req.DigestType
	if dt == "" {
		dt = cryptoutils.DefaultDigestType
	}
	digest, err := cryptoutils.NewDigest(dt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrPreconditionFailed, err)
	}

	start := time.Now()
	key := objectKey(req.Ref)
	n, err := o.store.put(ctx, key, io.TeeReader(req.Body, digest), req.Size)
	if err != nil {
		o.log.Error("Failed to write object", slog.String("key", key), "err", err)
		return nil, err
	}
	if req.Size >= 0 && n != req.Size {
		o.log.Warn("Written size differs from declared size",
			slog.String("key", key),
			slog.Int64("declared", req.Size),
			slog.Int64("written", n))
	}

	hexDigest := digest.Hex()
	if err := o.store.setDigest(ctx, key, dt, hexDigest); err != nil {
		return nil, fmt.Errorf("failed to record digest: %w", err)
	}
	if err := o.journal.append(ctx, Container(req.Ref.Tenant, req.Ref.Category), req.Ref.ObjectID, interfaces.OfferLogWrite); err != nil {
		o.log.Warn("Failed to append offer log", slog.String("key", key), "err", err)
	}

	o.log.Debug("Stored object",
		slog.String("key", key),
		slog.Int64("size", n),
		slog.Duration("duration", time.Since(start)))

	return &interfaces.PutObjectResult{ObjectID: req.Ref.ObjectID, Digest: hexDigest, Size: n}, nil
}

// GetObject opens the object for reading.
func (o *Offer) GetObject(ctx context.Context, ref interfaces.ObjectRef) (*interfaces.GetObjectResult, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	body, size, err := o.store.get(ctx, objectKey(ref))
	if err != nil {
		return nil, err
	}
	return &interfaces.GetObjectResult{OfferID: o.id, Body: body, Size: size}, nil
}

// RemoveObject deletes the object. It returns ErrObjectNotFound when the
// object was already absent.
func (o *Offer) RemoveObject(ctx context.Context, ref interfaces.ObjectRef) (bool, error) {
	if err := validateRef(ref); err != nil {
		return false, err
	}
	key := objectKey(ref)
	if err := o.store.remove(ctx, key); err != nil {
		return false, err
	}
	if err := o.journal.append(ctx, Container(ref.Tenant, ref.Category), ref.ObjectID, interfaces.OfferLogDelete); err != nil {
		o.log.Warn("Failed to append offer log", slog.String("key", key), "err", err)
	}
	o.log.Debug("Removed object", slog.String("key", key))
	return true, nil
}

// ObjectExists reports whether the object is present.
func (o *Offer) ObjectExists(ctx context.Context, ref interfaces.ObjectRef) (bool, error) {
	if err := validateRef(ref); err != nil {
		return false, err
	}
	_, err := o.store.stat(ctx, objectKey(ref))
	if errors.Is(err, interfaces.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetMetadata returns the stored digest and size. With noCache, or when no
// digest was recorded, the digest is recomputed from the stored bytes.
func (o *Offer) GetMetadata(ctx context.Context, ref interfaces.ObjectRef, noCache bool) (*interfaces.ObjectMetadata, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	info, err := o.store.stat(ctx, objectKey(ref))
	if err != nil {
		return nil, err
	}
	if noCache || info.Digest == "" {
		dt := info.DigestType
		if dt == "" {
			dt = cryptoutils.DefaultDigestType
		}
		digest, err := o.computeDigest(ctx, ref, dt)
		if err != nil {
			return nil, err
		}
		info.Digest = digest
		info.DigestType = dt
	}
	return &interfaces.ObjectMetadata{
		ObjectID:     ref.ObjectID,
		Digest:       info.Digest,
		DigestType:   info.DigestType,
		Size:         info.Size,
		LastModified: info.LastModified,
	}, nil
}

// CheckObjectDigest compares the offer-side digest with expected. The stored
// digest is used when it was computed with digestType, otherwise the object
// is re-read.
func (o *Offer) CheckObjectDigest(ctx context.Context, ref interfaces.ObjectRef, digestType cryptoutils.DigestType, expected string) (bool, error) {
	if err := validateRef(ref); err != nil {
		return false, err
	}
	info, err := o.store.stat(ctx, objectKey(ref))
	if err != nil {
		return false, err
	}
	actual := info.Digest
	if actual == "" || info.DigestType != digestType {
		actual, err = o.computeDigest(ctx, ref, digestType)
		if err != nil {
			return false, err
		}
	}
	return cryptoutils.EqualDigests(actual, expected), nil
}

func (o *Offer) computeDigest(ctx context.Context, ref interfaces.ObjectRef, dt cryptoutils.DigestType) (string, error) {
	body, _, err := o.store.get(ctx, objectKey(ref))
	if err != nil {
		return "", err
	}
	defer body.Close()
	digest, _, err := cryptoutils.DigestReader(dt, body)
	if err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", ref, err)
	}
	return digest, nil
}

// ListObjects returns one page of the category container.
func (o *Offer) ListObjects(ctx context.Context, tenant int, category interfaces.DataCategory, cursor string, limit int) (*interfaces.ObjectPage, error) {
	if err := category.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrPreconditionFailed, err)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	container := Container(tenant, category)
	infos, next, err := o.store.list(ctx, container, cursor, limit)
	if err != nil {
		return nil, err
	}
	page := &interfaces.ObjectPage{Entries: make([]interfaces.ObjectEntry, 0, len(infos)), NextCursor: next}
	for _, info := range infos {
		page.Entries = append(page.Entries, interfaces.ObjectEntry{
			ObjectID:     strings.TrimPrefix(info.Key, container+"/"),
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	return page, nil
}

// GetOfferLogs returns a window of the offer journal.
func (o *Offer) GetOfferLogs(ctx context.Context, req interfaces.OfferLogRequest) ([]interfaces.OfferLog, error) {
	if err := req.Category.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrPreconditionFailed, err)
	}
	return o.journal.read(ctx, Container(req.Tenant, req.Category), req.Offset, req.Limit, req.Order)
}

// GetCapacity reports usable and used space.
func (o *Offer) GetCapacity(ctx context.Context, tenant int) (*interfaces.Capacity, error) {
	return o.store.capacity(ctx)
}

// CreateReadOrder is not supported by synchronous offers.
func (o *Offer) CreateReadOrder(ctx context.Context, tenant int, category interfaces.DataCategory, objectIDs []string) (string, error) {
	return "", fmt.Errorf("%w: offer %s serves objects synchronously", interfaces.ErrOperationUnsupported, o.id)
}

// IsReadOrderComplete is not supported by synchronous offers.
func (o *Offer) IsReadOrderComplete(ctx context.Context, tenant int, orderID string) (bool, error) {
	return false, fmt.Errorf("%w: offer %s serves objects synchronously", interfaces.ErrOperationUnsupported, o.id)
}

// Close is a no-op; connections to an offer share its backend client.
func (o *Offer) Close() error {
	return nil
}

// Shutdown releases the backend client.
func (o *Offer) Shutdown() error {
	return errors.Join(o.store.close(), o.journal.close())
}

// bufferBody buffers a body for backends that need the full payload
// before writing.
func bufferBody(body io.Reader, size int64) ([]byte, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
