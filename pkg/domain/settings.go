package domain

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type DatabaseSettings struct {
	Host     string `json:"host" mapstructure:"host" validate:"required"`
	Port     int    `json:"port" mapstructure:"port" validate:"required"`
	Database string `json:"database" mapstructure:"database" validate:"required"`
	Username string `json:"username" mapstructure:"username" validate:"required"`
	Password string `json:"password" mapstructure:"password"`
}

// LocalSettings also carries the deployment-wide compression and verification
// flags, which apply to object store runs as well.
type LocalSettings struct {
	BackupPath    string `json:"backupPath" mapstructure:"backup_path" validate:"required"`
	Compression   bool   `json:"compression" mapstructure:"compression"`
	RetentionDays int    `json:"retentionDays" mapstructure:"retention_days" validate:"gte=0"`
	VerifyContent bool   `json:"verifyContent" mapstructure:"verify_content"`
}

type ObjectStoreSettings struct {
	Endpoint      string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `json:"accessKey" mapstructure:"access_key" validate:"required_with=Bucket SecretKey"`
	SecretKey     string `json:"secretKey" mapstructure:"secret_key" validate:"required_with=AccessKey"`
	Bucket        string `json:"bucket" mapstructure:"bucket" validate:"required_with=AccessKey Endpoint"`
	Region        string `json:"region" mapstructure:"region"`
	RetentionDays int    `json:"retentionDays" mapstructure:"retention_days" validate:"gte=0"`
}

func (s ObjectStoreSettings) Configured() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

// Settings is the single engine configuration document. RetentionDays of 0
// means records are kept forever.
type Settings struct {
	Database    DatabaseSettings    `json:"database" mapstructure:"database"`
	Local       LocalSettings       `json:"local" mapstructure:"local"`
	ObjectStore ObjectStoreSettings `json:"objectStore" mapstructure:"object_store"`

	Version   int64     `json:"version" mapstructure:"-"`
	UpdatedAt time.Time `json:"updatedAt" mapstructure:"-"`
}

func (s Settings) RetentionDays(t DestinationType) int {
	switch t {
	case DestinationLocal:
		return s.Local.RetentionDays
	case DestinationObjectStore:
		return s.ObjectStore.RetentionDays
	}
	return 0
}

func DefaultSettings() Settings {
	return Settings{
		Database: DatabaseSettings{
			Host:     "localhost",
			Port:     5432,
			Database: "postgres",
			Username: "postgres",
		},
		Local: LocalSettings{
			BackupPath:    "/var/backups/postgresql",
			Compression:   true,
			RetentionDays: 30,
			VerifyContent: true,
		},
		ObjectStore: ObjectStoreSettings{
			Region: "us-east-1",
		},
	}
}

type SettingsRepository interface {
	Load(context.Context) (Settings, bool, error)
	Save(context.Context, Settings) error
}

// SettingsReader is what executions see: a consistent copy of the current settings.
type SettingsReader interface {
	Current() Settings
}

// ConfigStore keeps the live settings. Reads are concurrent, writes go
// through Update one at a time.
type ConfigStore struct {
	logger logrus.FieldLogger
	repo   SettingsRepository
	now    func() time.Time

	mu      sync.RWMutex
	current Settings
	writeMu sync.Mutex
}

func NewConfigStore(logger logrus.FieldLogger, repo SettingsRepository) *ConfigStore {
	return &ConfigStore{
		logger: logger,
		repo:   repo,
		now:    time.Now,
	}
}

// Load reads the persisted settings, seeding them from defaults on first start.
func (s *ConfigStore) Load(ctx context.Context, defaults Settings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	settings, ok, err := s.repo.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to load settings")
	}

	if !ok {
		s.logger.Info("No stored settings found, seeding from defaults")

		settings = defaults
		settings.Version = 1
		settings.UpdatedAt = s.now().UTC()

		if err := s.repo.Save(ctx, settings); err != nil {
			return errors.Wrap(err, "unable to store default settings")
		}
	}

	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()

	return nil
}

func (s *ConfigStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Update replaces the settings. A non-zero Version must match the stored one,
// otherwise ErrStaleConfig is returned and nothing is written. Version 0 is an
// unconditional last-write-wins update.
func (s *ConfigStore) Update(ctx context.Context, next Settings) (Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.Current()

	if next.Version != 0 && next.Version != current.Version {
		return current, errors.Wrapf(ErrStaleConfig, "submitted version %d, current version %d", next.Version, current.Version)
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.Save(ctx, next); err != nil {
		return current, errors.Wrap(err, "unable to store settings")
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.logger.WithField("version", next.Version).Info("Settings updated")

	return next, nil
}
