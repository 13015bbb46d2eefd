package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/storage-distribution/cmd/flags"
	"github.com/ruteri/storage-distribution/common"
	"github.com/ruteri/storage-distribution/distribution"
	"github.com/ruteri/storage-distribution/httpserver"
	"github.com/ruteri/storage-distribution/logbook"
	"github.com/ruteri/storage-distribution/metrics"
	"github.com/ruteri/storage-distribution/registry"
	"github.com/ruteri/storage-distribution/storage"
	"github.com/ruteri/storage-distribution/workspace"
	"github.com/urfave/cli/v2"
)

var serverFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	flags.ReferentialFlag,
	flags.WorkspaceRootFlag,
	flags.LogbookFileFlag,
	flags.DNSResolverFlag,
	flags.MaxObjectSizeFlag,
	flags.SpoolDirFlag,
	flags.LogServiceFlagFn("storage-distribution"),
}

func main() {
	app := &cli.App{
		Name:  "distribution-server",
		Usage: "Serve the storage distribution API",
		Flags: append(append(serverFlags, flags.DistributionFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))

			distCfg, err := flags.ConfigureDistribution(cCtx)
			if err != nil {
				logger.Error("Invalid distribution settings", "err", err)
				return err
			}

			referentialPath := cCtx.String(flags.ReferentialFlag.Name)
			reg, err := registry.LoadFile(referentialPath)
			if err != nil {
				logger.Error("Failed to load referential", "err", err, "file", referentialPath)
				return err
			}
			logger.Info("Referential loaded",
				"strategies", reg.StrategyIDs(),
				"offers", reg.OfferIDs())

			resolver := storage.NewSRVResolver(cCtx.String(flags.DNSResolverFlag.Name))
			connector := storage.NewConnector(storage.NewOfferFactory(logger, resolver), reg, logger)
			defer connector.Close()

			ws, err := workspace.NewFileWorkspace(cCtx.String(flags.WorkspaceRootFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open workspace", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			audit := logbook.Multi{logbook.NewSlogSink(logger)}
			if path := cCtx.String(flags.LogbookFileFlag.Name); path != "" {
				fileSink, err := logbook.OpenFileSink(path)
				if err != nil {
					logger.Error("Failed to open logbook file", "err", err, "file", path)
					return err
				}
				defer fileSink.Close()
				audit = append(audit, fileSink)
			}

			dist, err := distribution.NewFromConfig(distCfg, distribution.Dependencies{
				Strategies: reg,
				Connector:  connector,
				Source:     ws,
				Audit:      audit,
				Alerts:     logbook.NewAlertLogger(logger, common.PackageName, metricsSrv.Registry()),
				Metrics:    metrics.NewDistributionMetrics(common.PackageName, metricsSrv.Registry()),
				Log:        logger,
			})
			if err != nil {
				logger.Error("Failed to create distribution", "err", err)
				return err
			}
			if distCfg.ReadOnly {
				logger.Warn("Running read-only, writes and deletes are rejected")
			}

			handler := httpserver.NewHandler(dist, cfg.SpoolDir, cfg.MaxObjectSize, logger)
			server, err := httpserver.New(cfg, handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "listenAddr", cfg.ListenAddr)
			server.RunInBackground()

			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-reload:
					if err := reg.Reload(referentialPath); err != nil {
						logger.Error("Referential reload failed, keeping the current one", "err", err)
						continue
					}
					logger.Info("Referential reloaded", "strategies", reg.StrategyIDs())
				case <-exit:
					logger.Info("Shutdown signal received")
					server.Shutdown()
					logger.Info("Server shutdown complete")
					return nil
				}
			}
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
