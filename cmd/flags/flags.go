package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/storage-distribution/api"
	"github.com/ruteri/storage-distribution/common"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/distribution"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             0,
		MaxObjectSize:            cCtx.Int64(MaxObjectSizeFlag.Name),
		SpoolDir:                 cCtx.String(SpoolDirFlag.Name),
	}
}

// ConfigureDistribution builds the engine configuration from DistributionFlags.
func ConfigureDistribution(cCtx *cli.Context) (distribution.Config, error) {
	digestType, err := cryptoutils.ParseDigestType(cCtx.String(DigestTypeFlag.Name))
	if err != nil {
		return distribution.Config{}, err
	}
	cfg := distribution.Config{
		MaxAttempts:       cCtx.Int(MaxAttemptsFlag.Name),
		MillisecondsPerKB: cCtx.Int64(MillisecondsPerKBFlag.Name),
		MinimumTimeout:    cCtx.Duration(MinimumTimeoutFlag.Name),
		MaximumTimeout:    cCtx.Duration(MaximumTimeoutFlag.Name),
		CancelGracePeriod: cCtx.Duration(CancelGracePeriodFlag.Name),
		TransferWorkers:   cCtx.Int(TransferWorkersFlag.Name),
		BatchWorkers:      cCtx.Int(BatchWorkersFlag.Name),
		BatchTimeout:      cCtx.Duration(BatchTimeoutFlag.Name),
		DigestType:        digestType,
		ReadOnly:          cCtx.Bool(ReadOnlyFlag.Name),
	}
	return cfg, cfg.Validate()
}

var ServerAddrFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"STORAGE_SERVER"},
	Usage:   "storage distribution server base URL",
}

var ReferentialFlag = &cli.StringFlag{
	Name:     "referential",
	Required: true,
	Usage:    "YAML file declaring offers and strategies; reloaded on SIGHUP",
}

var WorkspaceRootFlag = &cli.StringFlag{
	Name:  "workspace-root",
	Value: "./workspace",
	Usage: "directory holding workspace objects to store, laid out as <tenant>/<container>/<uri>",
}

var LogbookFileFlag = &cli.StringFlag{
	Name:  "logbook-file",
	Usage: "append storage logbook records as JSON lines to this file (in addition to the log)",
}

var DNSResolverFlag = &cli.StringFlag{
	Name:  "dns-resolver",
	Usage: "DNS server (host:port) used for offers declared with srv=true; defaults to the local stub resolver",
}

var ReadOnlyFlag = &cli.BoolFlag{
	Name:  "read-only",
	Value: false,
	Usage: "reject every write and delete, raising a critical alert on each attempt",
}

var MaxObjectSizeFlag = &cli.Int64Flag{
	Name:  "max-object-size",
	Value: 0,
	Usage: "maximum size in bytes of uploaded objects, 0 for unbounded",
}

var SpoolDirFlag = &cli.StringFlag{
	Name:  "spool-dir",
	Usage: "directory holding uploads while they are replicated; defaults to the system temporary directory",
}

var MaxAttemptsFlag = &cli.IntFlag{
	Name:  "max-attempts",
	Value: distribution.DefaultMaxAttempts,
	Usage: "write waves per store operation",
}

var MillisecondsPerKBFlag = &cli.Int64Flag{
	Name:  "ms-per-kb",
	Value: distribution.DefaultMillisecondsPerKB,
	Usage: "transfer deadline growth per KiB of object",
}

var MinimumTimeoutFlag = &cli.DurationFlag{
	Name:  "min-transfer-timeout",
	Value: distribution.DefaultMinimumTimeout,
	Usage: "lower bound of a transfer deadline",
}

var MaximumTimeoutFlag = &cli.DurationFlag{
	Name:  "max-transfer-timeout",
	Value: 0,
	Usage: "upper bound of a transfer deadline, 0 for none",
}

var CancelGracePeriodFlag = &cli.DurationFlag{
	Name:  "cancel-grace-period",
	Value: distribution.DefaultCancelGracePeriod,
	Usage: "time cancelled transfers get to report",
}

var TransferWorkersFlag = &cli.IntFlag{
	Name:  "transfer-workers",
	Value: distribution.DefaultTransferWorkers,
	Usage: "concurrent transfer, delete and read order tasks",
}

var BatchWorkersFlag = &cli.IntFlag{
	Name:  "batch-workers",
	Value: distribution.DefaultBatchWorkers,
	Usage: "concurrent metadata queries",
}

var BatchTimeoutFlag = &cli.DurationFlag{
	Name:  "batch-timeout",
	Value: distribution.DefaultBatchTimeout,
	Usage: "deadline of one batch metadata query",
}

var DigestTypeFlag = &cli.StringFlag{
	Name:  "digest-type",
	Value: string(cryptoutils.DefaultDigestType),
	Usage: "digest algorithm computed while storing objects",
}

var DistributionFlags = []cli.Flag{
	ReadOnlyFlag,
	MaxAttemptsFlag,
	MillisecondsPerKBFlag,
	MinimumTimeoutFlag,
	MaximumTimeoutFlag,
	CancelGracePeriodFlag,
	TransferWorkersFlag,
	BatchWorkersFlag,
	BatchTimeoutFlag,
	DigestTypeFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
