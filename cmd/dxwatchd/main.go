package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dxwatch/dxwatch/internal/config"
	"github.com/dxwatch/dxwatch/internal/controller"
	"github.com/dxwatch/dxwatch/internal/geocache"
	"github.com/dxwatch/dxwatch/internal/natsio"
	"github.com/dxwatch/dxwatch/internal/qrz"
	"github.com/dxwatch/dxwatch/internal/session"
	"github.com/dxwatch/dxwatch/internal/spotstore"
	"github.com/dxwatch/dxwatch/internal/stats"
	"github.com/dxwatch/dxwatch/internal/transcript"
	"github.com/dxwatch/dxwatch/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var clusterFlag string
	var debug bool

	cmd := &cobra.Command{
		Use:   "dxwatchd",
		Short: "Headless DX-cluster client: connects, logs in, parses spots, republishes them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(clusterFlag, debug)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&clusterFlag, "cluster", "", "cluster directory name or host:port (overrides CLUSTER)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func run(clusterFlag string, debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if clusterFlag != "" {
		cfg.Cluster = clusterFlag
	}
	if cfg.Cluster == "" {
		return fmt.Errorf("no cluster given: set CLUSTER or pass --cluster")
	}

	zapCfg := zap.NewProductionConfig()
	if debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Cluster directory, optionally file-backed and hot-reloaded.
	var nodes []config.Cluster
	if cfg.ClustersFile != "" {
		nodes, err = config.LoadClusters(cfg.ClustersFile)
		if err != nil {
			return err
		}
	}
	directory := config.NewDirectory(nodes)

	st := stats.New()
	store := spotstore.New()

	sessCfg := session.Config{Operator: cfg.Operator}

	var tr *transcript.Transcript
	if cfg.TranscriptDir != "" {
		tr = transcript.New(cfg.TranscriptDir)
		if err := tr.Start(); err != nil {
			return err
		}
		defer func() {
			if err := tr.Stop(); err != nil {
				logger.Warn("transcript close failed", zap.Error(err))
			}
		}()
		sessCfg.RawTap = func(line string) {
			if err := tr.WriteLine(line); err != nil {
				logger.Warn("transcript write failed", zap.Error(err))
			}
		}
	}

	sess := session.New(sessCfg, transport.NewTCPDialer(logger), logger, st)
	defer sess.Close()

	var lookup controller.Lookup
	if cfg.QRZUsername != "" {
		var cache *geocache.Client
		if cfg.RedisAddr != "" {
			cache, err = geocache.New(cfg.RedisAddr)
			if err != nil {
				logger.Warn("lookup cache unavailable, continuing without it", zap.Error(err))
			} else {
				defer func() { _ = cache.Close() }()
			}
		}
		q := qrz.New(cfg.QRZUsername, cfg.QRZPassword, cache, logger)
		if err := q.RequestSessionKey(ctx); err != nil {
			logger.Warn("lookup service login failed, overlays disabled until retry", zap.Error(err))
		}
		lookup = q
	}

	var publisher controller.Publisher
	if cfg.NATSURL != "" {
		nc, err := natsio.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to create NATS client: %w", err)
		}
		defer nc.Close()
		publisher = nc
	}

	ctrl := controller.New(sess, store, directory, lookup, publisher, logger, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error {
		st.LogPeriodically(gctx, logger, 5*time.Minute)
		return nil
	})
	if cfg.ClustersFile != "" {
		g.Go(func() error { return config.WatchClusters(gctx, cfg.ClustersFile, directory, logger) })
	}

	logger.Info("connecting", zap.String("cluster", cfg.Cluster))
	if err := ctrl.Connect(ctx, cfg.Cluster); err != nil {
		logger.Warn("initial connect failed, reconnect scheduled", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}
