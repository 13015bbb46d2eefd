package distribution

import (
	"fmt"
	"math"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

// Config tunes the distribution engine. Zero values are replaced by the
// defaults below in New.
type Config struct {
	// MaxAttempts bounds the write waves of one store operation.
	MaxAttempts int
	// MillisecondsPerKB scales the wave deadline with the object size.
	MillisecondsPerKB int64
	// MinimumTimeout is the lower bound of a wave deadline.
	MinimumTimeout time.Duration
	// MaximumTimeout caps a wave deadline; zero disables the cap.
	MaximumTimeout time.Duration
	// CancelGracePeriod is how long cancelled tasks get to report.
	CancelGracePeriod time.Duration

	// TransferWorkers sizes the pool shared by transfer, delete and read-order
	// tasks. A write wave starts all of its offers together, since they read
	// one fan-out: a wave targeting more offers than TransferWorkers takes the
	// whole pool and still runs one transfer per offer.
	TransferWorkers int
	// BatchWorkers sizes the metadata pool.
	BatchWorkers int
	// BatchTimeout bounds one batch metadata query.
	BatchTimeout time.Duration

	DigestType     cryptoutils.DigestType
	ChunkSize      int
	BufferedChunks int

	// ReadOnly rejects every mutating operation.
	ReadOnly bool
}

const (
	DefaultMaxAttempts       = 3
	DefaultMillisecondsPerKB = 100
	DefaultMinimumTimeout    = 60 * time.Second
	DefaultCancelGracePeriod = 5 * time.Second
	DefaultTransferWorkers   = 32
	DefaultBatchWorkers      = 16
	DefaultBatchTimeout      = 30 * time.Second
	DefaultChunkSize         = 64 * 1024
	DefaultBufferedChunks    = 16
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       DefaultMaxAttempts,
		MillisecondsPerKB: DefaultMillisecondsPerKB,
		MinimumTimeout:    DefaultMinimumTimeout,
		CancelGracePeriod: DefaultCancelGracePeriod,
		TransferWorkers:   DefaultTransferWorkers,
		BatchWorkers:      DefaultBatchWorkers,
		BatchTimeout:      DefaultBatchTimeout,
		DigestType:        cryptoutils.DefaultDigestType,
		ChunkSize:         DefaultChunkSize,
		BufferedChunks:    DefaultBufferedChunks,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MillisecondsPerKB <= 0 {
		c.MillisecondsPerKB = d.MillisecondsPerKB
	}
	if c.MinimumTimeout <= 0 {
		c.MinimumTimeout = d.MinimumTimeout
	}
	if c.CancelGracePeriod <= 0 {
		c.CancelGracePeriod = d.CancelGracePeriod
	}
	if c.TransferWorkers <= 0 {
		c.TransferWorkers = d.TransferWorkers
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = d.BatchWorkers
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.DigestType == "" {
		c.DigestType = d.DigestType
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.BufferedChunks <= 0 {
		c.BufferedChunks = d.BufferedChunks
	}
	return c
}

// Validate rejects settings New cannot repair.
func (c Config) Validate() error {
	if !c.DigestType.Valid() {
		return fmt.Errorf("%w: %s", cryptoutils.ErrUnsupportedDigestType, c.DigestType)
	}
	if c.MaximumTimeout < 0 {
		return fmt.Errorf("%w: negative maximum timeout", interfaces.ErrIllegalArgument)
	}
	return nil
}

// transferTimeout is the deadline of one write wave for an object of size
// bytes: max(MinimumTimeout, size/1024 * MillisecondsPerKB), capped by
// MaximumTimeout when set.
func (c Config) transferTimeout(size int64) time.Duration {
	if size < 0 {
		size = interfaces.DefaultObjectSize
	}
	timeout := time.Duration(math.MaxInt64)
	if kb := size / 1024; c.MillisecondsPerKB <= 0 || kb <= int64(timeout/time.Millisecond)/c.MillisecondsPerKB {
		timeout = time.Duration(kb*c.MillisecondsPerKB) * time.Millisecond
	}
	if timeout < c.MinimumTimeout {
		timeout = c.MinimumTimeout
	}
	if c.MaximumTimeout > 0 && timeout > c.MaximumTimeout {
		timeout = c.MaximumTimeout
	}
	return timeout
}
