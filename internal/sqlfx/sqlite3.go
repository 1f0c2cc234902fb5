package sqlfx

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/yurykabanov/pgbackuper/pkg/storage"
	"github.com/yurykabanov/pgbackuper/pkg/util"
)

const (
	ConfigSqliteDSN = "sqlite.dsn"
)

type SqliteConfig struct {
	DSN          string
	DatabaseName string
}

func SqliteConfigProvider(v *viper.Viper) (*SqliteConfig, error) {
	config := &SqliteConfig{
		DSN:          v.GetString(ConfigSqliteDSN),
		DatabaseName: "pgbackuper",
	}

	if config.DSN == "" {
		return nil, errors.New("sqlite.dsn must not be empty")
	}

	return config, nil
}

func OpenSqliteDatabase(config *SqliteConfig, logger *logrus.Logger) (*sqlx.DB, error) {
	logger.WithField("dsn", config.DSN).Debug("Connecting to DB with DSN")

	if err := ensureDirectory(config.DSN); err != nil {
		return nil, errors.Wrap(err, "Unable to create DB directory")
	}

	db, err := sqlx.Open("sqlite3", config.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to connect to DB")
	}

	// sqlite has a single writer; one connection also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)
	db.MapperFunc(util.CamelToSnakeCase)

	if err := storage.Migrate(db, config.DatabaseName); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func CloseSqliteDatabase(lc fx.Lifecycle, db *sqlx.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
}

func ensureDirectory(dsn string) error {
	file := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}

	if file == "" || strings.HasPrefix(file, ":memory:") {
		return nil
	}

	return os.MkdirAll(filepath.Dir(file), 0750)
}
