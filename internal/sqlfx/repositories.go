package sqlfx

import (
	"github.com/jmoiron/sqlx"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
	"github.com/yurykabanov/pgbackuper/pkg/storage"
)

func RecordRepository(db *sqlx.DB) domain.RecordRepository {
	return storage.NewRecordRepository(db)
}

func JobRepository(db *sqlx.DB) domain.JobRepository {
	return storage.NewJobRepository(db)
}

func SettingsRepository(db *sqlx.DB) domain.SettingsRepository {
	return storage.NewSettingsRepository(db)
}
