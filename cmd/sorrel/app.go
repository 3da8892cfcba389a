package main

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/graph"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/startup"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
	"github.com/Ramsey-B/sorrel/pkg/tracing/exporters"
)

// app holds the process-wide dependencies of one command invocation.
type app struct {
	cfg         *config.Config
	log         ectologger.Logger
	zap         *zap.Logger
	startup     *startup.Startup
	stopTracing func(context.Context) error

	source   database.DB
	output   database.DB
	graph    *graph.Client
	producer *kafka.Producer
}

// needs selects which dependencies a command starts.
type needs struct {
	source bool
	output bool
	graph  bool
	events bool
	// skipMigrations leaves the output schema alone; the migrate command runs them itself.
	skipMigrations bool
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	zl, err := newZapLogger(cfg)
	if err != nil {
		return nil, err
	}
	log := zapadapter.NewZapEctoLogger(zl, nil)

	stopTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.AppName,
		Exporter:    cfg.TracingExporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: true,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		log:         log,
		zap:         zl,
		startup:     startup.NewStartup(log, cfg.StartupMaxAttempts),
		stopTracing: stopTracing,
	}, nil
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid LOG_LEVEL %q", cfg.LogLevel)
	}

	zc := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build(zap.Fields(zap.String("app", cfg.AppName)))
}

// connect registers and starts the requested dependencies with retry. The
// output store is migrated before use.
func (a *app) connect(ctx context.Context, n needs) error {
	cfg := a.cfg

	if n.source {
		a.startup.AddDependency(startup.Dependency{
			Name: "source-db",
			StartFn: func(ctx context.Context) error {
				db, err := database.Open(ctx, database.Config{Driver: cfg.SourceDatabaseDriver, DSN: cfg.SourceDatabaseDSN}, a.log)
				if err != nil {
					return err
				}
				a.source = db
				return nil
			},
			StopFn: func(context.Context) error { return closeDB(a.source) },
		})
	}

	if n.output {
		a.startup.AddDependency(startup.Dependency{
			Name: "output-db",
			StartFn: func(ctx context.Context) error {
				db, err := database.Open(ctx, a.outputConfig(), a.log)
				if err != nil {
					return err
				}
				a.output = db
				return nil
			},
			StopFn: func(context.Context) error { return closeDB(a.output) },
		})
	}
	if n.output && !n.skipMigrations {
		a.startup.AddDependency(startup.Dependency{
			Name:     "migrations",
			Requires: []string{"output-db"},
			StartFn: func(context.Context) error {
				return a.migrationService(0, 0).MigrateDB(a.output)
			},
		})
	}

	if n.graph && cfg.GraphEnabled {
		a.startup.AddDependency(startup.Dependency{
			Name: "graph",
			StartFn: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
					Database: cfg.GraphDBName,
				}, a.log)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return errors.Wrap(err, "graph database unreachable")
				}
				a.graph = client
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if a.graph == nil {
					return nil
				}
				return a.graph.Close(ctx)
			},
		})
	}

	if n.events && cfg.KafkaEnabled {
		a.startup.AddDependency(startup.Dependency{
			Name: "kafka",
			StartFn: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaOutputTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
				}, a.log)
				return nil
			},
			StopFn: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}

	return a.startup.Start(ctx)
}

func (a *app) outputConfig() database.Config {
	cfg := a.cfg
	return database.Config{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseDSN,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

// migrationService uses the configured version and force unless overridden.
func (a *app) migrationService(version uint, force int) *database.MigrationService {
	if version == 0 && a.cfg.DatabaseMigrationVersion > 0 {
		version = uint(a.cfg.DatabaseMigrationVersion)
	}
	if force == 0 {
		force = a.cfg.DatabaseMigrationForce
	}
	return database.NewMigrationService(a.log, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             version,
		Force:               force,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
}

// close stops dependencies in reverse order, flushes spans and writes the
// metrics textfile.
func (a *app) close(ctx context.Context) {
	if err := a.startup.Stop(ctx); err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("Failed to stop dependencies")
	}
	if err := metrics.WriteToTextfile(a.cfg.MetricsTextfilePath); err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("Failed to write metrics")
	}
	if err := a.stopTracing(ctx); err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("Failed to flush traces")
	}
	_ = a.zap.Sync()
}

func closeDB(db database.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
