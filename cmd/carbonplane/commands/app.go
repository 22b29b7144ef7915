// Package commands implements the carbonplane subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"

	"github.com/example/carbonplane/internal/backup"
	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/calc"
	"github.com/example/carbonplane/internal/config"
	"github.com/example/carbonplane/internal/factors"
	"github.com/example/carbonplane/internal/ingest"
	"github.com/example/carbonplane/internal/observability"
	"github.com/example/carbonplane/internal/reduction"
	"github.com/example/carbonplane/internal/registry"
	"github.com/example/carbonplane/internal/scheduler"
	"github.com/example/carbonplane/internal/storage"
	"github.com/example/carbonplane/internal/summary"
)

// app is the assembled data plane: every collaborator wired per the loaded
// configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	stores   *storage.Stores
	postgres *storage.Postgres
	natsBus  *bus.NATS
	redis    *redis.Client

	publisher    bus.Publisher
	catalogue    *factors.Catalogue
	engine       *calc.Engine
	registry     *registry.Registry
	materialiser *summary.Materialiser
	ledger       *reduction.Ledger
	pipeline     *ingest.Pipeline
	scheduler    *scheduler.Scheduler
	backups      *backup.Service
}

// buildApp loads configuration and assembles the stack.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if err = a.wireStorage(ctx); err != nil {
		return nil, err
	}

	if err = a.wireBus(); err != nil {
		a.Close()

		return nil, err
	}

	a.wireCore()

	if err = a.wireBackup(ctx); err != nil {
		a.Close()

		return nil, err
	}

	return a, nil
}

func (a *app) wireStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		stores, pg, err := storage.NewPostgresStores(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}

		a.stores, a.postgres = stores, pg
	default:
		a.stores, _ = storage.NewMemoryStores()
		a.logger.Warn("using in-memory storage; data will not survive a restart")
	}

	return nil
}

func (a *app) wireBus() error {
	if a.cfg.Bus.URL == "" {
		a.publisher = bus.Logging{Next: bus.NewMemory(), Logger: a.logger}

		return nil
	}

	natsBus, err := bus.Connect(a.cfg.Bus.URL, a.cfg.Bus.SubjectPrefix)
	if err != nil {
		return err
	}

	a.natsBus = natsBus
	a.publisher = bus.Logging{Next: natsBus, Logger: a.logger}

	return nil
}

func (a *app) wireCore() {
	tz := a.cfg.Location()

	a.catalogue = factors.NewCatalogue(factors.WithLogger(a.logger))
	a.engine = calc.NewEngine(a.catalogue, a.logger)
	a.registry = registry.New(a.stores.Flowcharts, a.publisher, a.logger)

	folder := reduction.NewFolder(a.stores.Reductions, a.stores.Clients)
	a.ledger = reduction.NewLedger(a.stores.Reductions, a.publisher, a.logger)

	a.materialiser = summary.NewMaterialiser(a.stores, tz, a.logger,
		summary.WithReduction(folder))

	a.pipeline = ingest.New(ingest.Config{
		Stores:    a.stores,
		Registry:  a.registry,
		Engine:    a.engine,
		Catalogue: a.catalogue,
		Publisher: a.publisher,
		Invalid:   a.materialiser,
		Logger:    a.logger,
		Timezone:  tz,
	})

	// Allocation edits ripple into every summary of the client.
	a.registry.SetAllocationChangeHook(func(ctx context.Context, clientID string) {
		if err := a.materialiser.RecomputeAll(ctx, clientID, time.Now(), false); err != nil {
			a.logger.Error("allocation-change recompute failed",
				"client", clientID, "error", err)
		}
	})

	var dedupe scheduler.Deduper
	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		dedupe = scheduler.NewRedisDeduper(a.redis, "")
	}

	a.scheduler = scheduler.New(scheduler.Config{
		Stores:    a.stores,
		Summaries: a.materialiser,
		Publisher: a.publisher,
		Dedupe:    dedupe,
		Logger:    a.logger,
		Timezone:  tz,
		Timeout:   a.cfg.Scheduler.JobTimeout,
	})
}

func (a *app) wireBackup(ctx context.Context) error {
	var sink backup.Sink

	if a.cfg.Backup.Sink == "s3" {
		opts := []func(*awsconfig.LoadOptions) error{}
		if a.cfg.Backup.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(a.cfg.Backup.S3Region))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if a.cfg.Backup.S3Endpoint != "" {
				o.BaseEndpoint = &a.cfg.Backup.S3Endpoint
			}
		})

		sink = backup.NewS3Sink(client, a.cfg.Backup.S3Bucket, a.cfg.Backup.S3Prefix)
	} else {
		sink = backup.NewFileSink(a.cfg.Backup.Directory)
	}

	a.backups = backup.NewService(a.stores.Summaries, sink, a.logger)

	return nil
}

func (a *app) compression() backup.Compression {
	if a.cfg.Backup.Compression == "lz4" {
		return backup.CompressLZ4
	}

	return backup.CompressGzip
}

// Close releases every external connection in reverse wiring order.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}

	if a.natsBus != nil {
		a.natsBus.Close()
	}

	if a.postgres != nil {
		a.postgres.Close()
	}
}
