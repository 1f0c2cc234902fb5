package httpfx

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
	"github.com/yurykabanov/pgbackuper/pkg/http/handler"
)

func MetricsRegistry() (*prometheus.Registry, prometheus.Registerer) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry, registry
}

func Handlers(logger *logrus.Logger, orchestrator *domain.Orchestrator) (
	*handler.JobHandler,
	*handler.BackupHandler,
	*handler.ConfigHandler,
	*handler.StatusHandler,
	*handler.BackupMetricHandler,
) {
	return handler.NewJobHandler(logger, orchestrator),
		handler.NewBackupHandler(logger, orchestrator),
		handler.NewConfigHandler(logger, orchestrator),
		handler.NewStatusHandler(logger, orchestrator),
		handler.NewBackupMetricHandler(logger, orchestrator)
}

func RegisterHandlers(
	router *mux.Router,
	registry *prometheus.Registry,
	jobs *handler.JobHandler,
	backups *handler.BackupHandler,
	config *handler.ConfigHandler,
	status *handler.StatusHandler,
	latest *handler.BackupMetricHandler,
) {
	jobs.Register(router)
	backups.Register(router)
	config.Register(router)
	status.Register(router)

	router.Handle("/metrics/backups", latest)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
