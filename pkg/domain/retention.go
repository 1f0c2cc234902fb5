package domain

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type retentionEnforcer interface {
	EnforceRetention(context.Context) (RetentionReport, error)
}

// RetentionSweeper runs retention periodically, independently of backups
// finishing, so horizons shrinking through a config update take effect.
type RetentionSweeper struct {
	logger   logrus.FieldLogger
	catalog  retentionEnforcer
	interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewRetentionSweeper(logger logrus.FieldLogger, catalog retentionEnforcer, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		logger:   logger,
		catalog:  catalog,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *RetentionSweeper) Start() {
	if s.interval <= 0 {
		s.logger.Info("Periodic retention sweep disabled")
		return
	}

	s.wg.Add(1)
	go s.run()
}

func (s *RetentionSweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *RetentionSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RetentionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	report, err := s.catalog.EnforceRetention(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Retention sweep failed")
		return
	}

	if report.Deleted > 0 || len(report.ArtifactErrors) > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted":         report.Deleted,
			"artifact_errors": len(report.ArtifactErrors),
		}).Info("Retention sweep finished")
	}
}
