package domainfx

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/yurykabanov/pgbackuper/pkg/destination"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
	"github.com/yurykabanov/pgbackuper/pkg/dump"
	"github.com/yurykabanov/pgbackuper/pkg/metrics"
	"github.com/yurykabanov/pgbackuper/pkg/staging"
)

const (
	ConfigStagingDirectory       = "staging.directory"
	ConfigExecutorTimeout        = "executor.timeout"
	ConfigExecutorPgDumpPath     = "executor.pg_dump_path"
	ConfigExecutorConnectTimeout = "executor.connect_timeout"
	ConfigRetentionSweepInterval = "retention.sweep_interval"
)

type EngineConfig struct {
	StagingDirectory string
	Timeout          time.Duration
	PgDumpPath       string
	ConnectTimeout   time.Duration
	SweepInterval    time.Duration
}

func EngineConfigProvider(v *viper.Viper) *EngineConfig {
	return &EngineConfig{
		StagingDirectory: v.GetString(ConfigStagingDirectory),
		Timeout:          v.GetDuration(ConfigExecutorTimeout),
		PgDumpPath:       v.GetString(ConfigExecutorPgDumpPath),
		ConnectTimeout:   v.GetDuration(ConfigExecutorConnectTimeout),
		SweepInterval:    v.GetDuration(ConfigRetentionSweepInterval),
	}
}

func ConfigStore(logger *logrus.Logger, repository domain.SettingsRepository) *domain.ConfigStore {
	return domain.NewConfigStore(logger, repository)
}

func StagingArea(config *EngineConfig) *staging.Manager {
	return staging.New(config.StagingDirectory)
}

func DestinationProvider() domain.DestinationProvider {
	return destination.NewProvider()
}

func Dumper(logger *logrus.Logger, config *EngineConfig) domain.Dumper {
	return dump.NewPgDumper(logger, config.PgDumpPath, config.ConnectTimeout)
}

func Observer(registry prometheus.Registerer) domain.Observer {
	return metrics.NewRecorder(registry)
}

func Catalog(
	logger *logrus.Logger,
	repository domain.RecordRepository,
	destinations domain.DestinationProvider,
	config *domain.ConfigStore,
	observer domain.Observer,
) *domain.Catalog {
	return domain.NewCatalog(logger, repository, destinations, config, observer)
}

func Executor(
	logger *logrus.Logger,
	catalog *domain.Catalog,
	config *domain.ConfigStore,
	dumper domain.Dumper,
	destinations domain.DestinationProvider,
	stagingArea *staging.Manager,
	observer domain.Observer,
	engineConfig *EngineConfig,
) *domain.Executor {
	return domain.NewExecutor(logger, catalog, config, dumper, destinations, stagingArea, observer, engineConfig.Timeout)
}

func Scheduler(
	logger *logrus.Logger,
	repository domain.JobRepository,
	executor *domain.Executor,
	observer domain.Observer,
) *domain.Scheduler {
	return domain.NewScheduler(logger, repository, executor, observer)
}

func RetentionSweeper(logger *logrus.Logger, catalog *domain.Catalog, config *EngineConfig) *domain.RetentionSweeper {
	return domain.NewRetentionSweeper(logger, catalog, config.SweepInterval)
}

func Orchestrator(
	logger *logrus.Logger,
	config *domain.ConfigStore,
	executor *domain.Executor,
	scheduler *domain.Scheduler,
	catalog *domain.Catalog,
	sweeper *domain.RetentionSweeper,
	stagingArea *staging.Manager,
) *domain.Orchestrator {
	return domain.NewOrchestrator(logger, config, executor, scheduler, catalog, sweeper, stagingArea)
}

func RunOrchestrator(
	lc fx.Lifecycle,
	config *domain.ConfigStore,
	defaults DefaultSettings,
	orchestrator *domain.Orchestrator,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := config.Load(ctx, domain.Settings(defaults)); err != nil {
				return err
			}
			return orchestrator.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return orchestrator.Stop(ctx)
		},
	})
}
