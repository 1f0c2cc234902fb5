package configfx

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.timeout.read", 30*time.Second)
	v.SetDefault("server.timeout.write", 0)
	v.SetDefault("server.log.requests", true)

	v.SetDefault("sqlite.dsn", "./db/pgbackuper.db?_busy_timeout=5000")

	v.SetDefault("staging.directory", filepath.Join(os.TempDir(), "pgbackuper"))

	v.SetDefault("executor.timeout", 2*time.Hour)
	v.SetDefault("executor.pg_dump_path", "pg_dump")
	v.SetDefault("executor.connect_timeout", 10*time.Second)

	v.SetDefault("retention.sweep_interval", time.Hour)

	// Seed for the engine settings on the very first start only.
	v.SetDefault("defaults.database.host", "localhost")
	v.SetDefault("defaults.database.port", 5432)
	v.SetDefault("defaults.database.database", "postgres")
	v.SetDefault("defaults.database.username", "postgres")
	v.SetDefault("defaults.database.password", "")
	v.SetDefault("defaults.local.backup_path", "/var/backups/postgresql")
	v.SetDefault("defaults.local.compression", true)
	v.SetDefault("defaults.local.retention_days", 30)
	v.SetDefault("defaults.local.verify_content", true)
	v.SetDefault("defaults.object_store.endpoint", "")
	v.SetDefault("defaults.object_store.access_key", "")
	v.SetDefault("defaults.object_store.secret_key", "")
	v.SetDefault("defaults.object_store.bucket", "")
	v.SetDefault("defaults.object_store.region", "us-east-1")
	v.SetDefault("defaults.object_store.retention_days", 0)
}
