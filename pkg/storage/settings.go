package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const (
	settingsSelectQuery = `SELECT document, version, updated_at FROM settings WHERE id = 1`

	settingsUpsertQuery = `
		INSERT INTO settings (id, document, version, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
)

type settingsRow struct {
	Document  string
	Version   int64
	UpdatedAt time.Time
}

// SettingsRepository keeps the engine configuration as a single JSON document
// next to its version.
type SettingsRepository struct {
	db *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{
		db: db,
	}
}

func (r *SettingsRepository) Load(ctx context.Context) (domain.Settings, bool, error) {
	var row settingsRow

	err := r.db.GetContext(ctx, &row, settingsSelectQuery)
	if err == sql.ErrNoRows {
		return domain.Settings{}, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, err
	}

	var settings domain.Settings
	if err := json.Unmarshal([]byte(row.Document), &settings); err != nil {
		return domain.Settings{}, false, errors.Wrap(err, "Unable to decode stored settings")
	}

	settings.Version = row.Version
	settings.UpdatedAt = row.UpdatedAt.UTC()

	return settings, true, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.Settings) error {
	document, err := json.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "Unable to encode settings")
	}

	_, err = r.db.ExecContext(ctx, settingsUpsertQuery, string(document), settings.Version, settings.UpdatedAt.UTC())

	return err
}
