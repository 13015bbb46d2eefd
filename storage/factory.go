package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
	"go.uber.org/atomic"
)

// OfferLocator resolves an offer id to its location URI.
type OfferLocator interface {
	OfferLocation(ctx context.Context, offerID string) (string, error)
}

// Driver is the set of operations every offer created by the factory supports.
type Driver interface {
	interfaces.OfferConnection
	ID() string
	LocationURI() string
	Shutdown() error
}

// OfferFactory creates offer drivers from URI strings.
type OfferFactory struct {
	log      *slog.Logger
	resolver *SRVResolver
	getenv   func(string) string
}

// NewOfferFactory creates a new factory instance. resolver may be nil when
// no offer URI uses ?srv=true.
func NewOfferFactory(logger *slog.Logger, resolver *SRVResolver) *OfferFactory {
	return &OfferFactory{
		log:      logger,
		resolver: resolver,
		getenv:   os.Getenv,
	}
}

// OfferFor creates an offer driver from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - mem://name?max_bytes=N - In-memory offer
//   - file:///path - Local filesystem offer
//   - s3://[key:secret@]bucket/prefix?region=&endpoint=&path_style=true - S3 offer
//   - ipfs://host:port/root?timeout=30s - IPFS MFS offer
//   - vault://host:port/mount/path?insecure=true - Vault KV v2 offer, token from VAULT_TOKEN
//   - badger:///path - Embedded Badger offer; an empty path keeps it in memory
//
// Every scheme accepts async=true (with optional staging_delay) to require read
// orders before reads, and ipfs/vault accept srv=true to resolve the host
// through DNS SRV records.
func (f *OfferFactory) OfferFor(ctx context.Context, offerID, locationURI string) (Driver, error) {
	loc, err := interfaces.NewOfferLocation(locationURI)
	if err != nil {
		return nil, err
	}

	if loc.GetParamBool("srv") {
		if loc.Scheme != "ipfs" && loc.Scheme != "vault" {
			return nil, fmt.Errorf("%w: srv resolution is not supported for %s offers", interfaces.ErrInvalidLocationURI, loc.Scheme)
		}
		if f.resolver == nil {
			return nil, fmt.Errorf("%w: srv=true but no resolver configured", interfaces.ErrInvalidLocationURI)
		}
		hostport, err := f.resolver.Resolve(ctx, loc.Host)
		if err != nil {
			return nil, err
		}
		f.log.Debug("Resolved offer endpoint", slog.String("offer", offerID), slog.String("name", loc.Host), slog.String("endpoint", hostport))
		loc.Host = hostport
	}

	var offer *Offer
	switch loc.Scheme {
	case "mem":
		offer, err = f.createMemoryOffer(offerID, loc)
	case "file":
		offer, err = f.createFileOffer(offerID, loc)
	case "s3":
		offer, err = f.createS3Offer(offerID, loc)
	case "ipfs":
		offer, err = f.createIPFSOffer(offerID, loc)
	case "vault":
		offer, err = f.createVaultOffer(offerID, loc)
	case "badger":
		offer, err = f.createBadgerOffer(offerID, loc)
	default:
		return nil, fmt.Errorf("%w: unsupported offer scheme: %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if loc.GetParamBool("async") {
		delay := DefaultStagingDelay
		if raw := loc.GetParam("staging_delay"); raw != "" {
			delay, err = time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: staging_delay: %v", interfaces.ErrInvalidLocationURI, err)
			}
		}
		return NewColdOffer(offer, delay), nil
	}
	return offer, nil
}

// createMemoryOffer creates an in-memory offer.
// URI format: mem://name?max_bytes=1048576
func (f *OfferFactory) createMemoryOffer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	var maxBytes int64
	if raw := loc.GetParam("max_bytes"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: max_bytes: %v", interfaces.ErrInvalidLocationURI, err)
		}
		maxBytes = n
	}
	return NewMemoryOffer(offerID, maxBytes, f.log), nil
}

// createFileOffer creates a file system offer.
// URI format: file:///absolute/path/ or file://./relative/path/
func (f *OfferFactory) createFileOffer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	p := loc.Path
	if loc.Host != "" {
		p = loc.Host + "/" + strings.TrimPrefix(p, "/")
	}
	if p == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileOffer(offerID, p, f.log)
}

// createS3Offer creates an S3 or S3-compatible offer.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (f *OfferFactory) createS3Offer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}
	opts := S3Options{
		Bucket:    loc.Host,
		Prefix:    strings.TrimPrefix(loc.Path, "/"),
		Region:    loc.GetParam("region"),
		Endpoint:  loc.GetParam("endpoint"),
		PathStyle: loc.GetParamBool("path_style"),
	}
	if opts.Region == "" {
		opts.Region = "us-east-1" // Default region
	}
	if loc.Auth != nil {
		opts.AccessKey = loc.Auth.Username()
		opts.SecretKey, _ = loc.Auth.Password()
	}
	return NewS3Offer(offerID, opts, f.log)
}

// createIPFSOffer creates an IPFS offer.
// URI format: ipfs://host:port/root?timeout=30s
func (f *OfferFactory) createIPFSOffer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	host, port, _ := strings.Cut(loc.Host, ":")
	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		var err error
		timeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout: %v", interfaces.ErrInvalidLocationURI, err)
		}
	}
	root := loc.Path
	if root == "" || root == "/" {
		root = "/" + offerID
	}
	return NewIPFSOffer(offerID, host, port, root, timeout, f.log)
}

// createVaultOffer creates a Vault KV v2 offer.
// URI format: vault://host:port/mount/path?insecure=true
func (f *OfferFactory) createVaultOffer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	parts := strings.SplitN(strings.TrimPrefix(loc.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: missing mount in Vault URI", interfaces.ErrInvalidLocationURI)
	}
	mount := parts[0]
	dataPath := offerID
	if len(parts) == 2 && parts[1] != "" {
		dataPath = path.Clean(parts[1])
	}
	scheme := "https"
	if loc.GetParamBool("insecure") {
		scheme = "http"
	}
	token := f.getenv("VAULT_TOKEN")
	return NewVaultOffer(offerID, scheme+"://"+loc.Host, mount, dataPath, token, f.log)
}

// createBadgerOffer creates an embedded Badger offer.
// URI format: badger:///var/lib/offers/badger-1
func (f *OfferFactory) createBadgerOffer(offerID string, loc interfaces.OfferLocation) (*Offer, error) {
	dir := loc.Path
	if loc.Host != "" {
		dir = loc.Host + "/" + strings.TrimPrefix(dir, "/")
	}
	return NewBadgerOffer(offerID, dir, f.log)
}

// Connector opens connections to offers by id. Drivers are created lazily
// on first use and shared by every connection to the same offer.
type Connector struct {
	factory *OfferFactory
	locator OfferLocator
	log     *slog.Logger

	mu      sync.Mutex
	drivers map[string]Driver
	active  atomic.Int64
}

// NewConnector creates a connector resolving offer ids through locator.
func NewConnector(factory *OfferFactory, locator OfferLocator, log *slog.Logger) *Connector {
	return &Connector{
		factory: factory,
		locator: locator,
		log:     log,
		drivers: make(map[string]Driver),
	}
}

// Register installs a ready driver, bypassing URI resolution.
func (c *Connector) Register(driver Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[driver.ID()] = driver
}

// Connect returns a connection to offerID. The caller must Close it.
func (c *Connector) Connect(ctx context.Context, offerID string) (interfaces.OfferConnection, error) {
	driver, err := c.driver(ctx, offerID)
	if err != nil {
		return nil, err
	}
	c.active.Inc()
	return &connection{Driver: driver, active: &c.active}, nil
}

func (c *Connector) driver(ctx context.Context, offerID string) (Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.drivers[offerID]; ok {
		return d, nil
	}
	if c.locator == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrOfferNotFound, offerID)
	}
	uri, err := c.locator.OfferLocation(ctx, offerID)
	if err != nil {
		return nil, err
	}
	d, err := c.factory.OfferFor(ctx, offerID, uri)
	if err != nil {
		c.log.Warn("Failed to create offer driver",
			"err", err,
			slog.String("offer", offerID))
		return nil, err
	}
	c.drivers[offerID] = d
	return d, nil
}

// ActiveConnections returns the number of connections not yet closed.
func (c *Connector) ActiveConnections() int64 {
	return c.active.Load()
}

// Close shuts every driver down.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for id, d := range c.drivers {
		if err := d.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("offer %s: %w", id, err))
		}
		delete(c.drivers, id)
	}
	return errors.Join(errs...)
}

// connection is one task-scoped handle on a shared driver.
type connection struct {
	Driver
	active *atomic.Int64
	closed atomic.Bool
}

func (c *connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.active.Dec()
	}
	return nil
}
