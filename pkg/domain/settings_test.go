package domain

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settingsNow = time.Date(2025, 5, 26, 9, 30, 0, 0, time.UTC)

func newTestConfigStore(t *testing.T, repo *memSettingsRepository) *ConfigStore {
	s := NewConfigStore(discardLogger(), repo)
	s.now = fixedClock(settingsNow)

	require.NoError(t, s.Load(context.Background(), DefaultSettings()))

	return s
}

func TestConfigStore_Load_SeedsDefaults(t *testing.T) {
	repo := &memSettingsRepository{}

	s := newTestConfigStore(t, repo)

	current := s.Current()
	assert.Equal(t, int64(1), current.Version)
	assert.Equal(t, settingsNow, current.UpdatedAt)
	assert.Equal(t, "localhost", current.Database.Host)
	assert.Equal(t, 1, repo.saves)
}

func TestConfigStore_Load_PrefersStored(t *testing.T) {
	stored := DefaultSettings()
	stored.Database.Host = "db.internal"
	stored.Version = 7

	repo := &memSettingsRepository{stored: &stored}

	s := newTestConfigStore(t, repo)

	assert.Equal(t, "db.internal", s.Current().Database.Host)
	assert.Equal(t, int64(7), s.Current().Version)
	assert.Equal(t, 0, repo.saves)
}

func TestConfigStore_Update(t *testing.T) {
	repo := &memSettingsRepository{}
	s := newTestConfigStore(t, repo)

	next := s.Current()
	next.Local.RetentionDays = 14

	updated, err := s.Update(context.Background(), next)

	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 14, s.Current().Local.RetentionDays)
	assert.Equal(t, updated, *repo.stored)
}

func TestConfigStore_Update_StaleVersion(t *testing.T) {
	repo := &memSettingsRepository{}
	s := newTestConfigStore(t, repo)

	first := s.Current()
	second := s.Current()

	first.Local.BackupPath = "/srv/a"
	_, err := s.Update(context.Background(), first)
	require.NoError(t, err)

	second.Local.BackupPath = "/srv/b"
	current, err := s.Update(context.Background(), second)

	assert.True(t, errors.Is(err, ErrStaleConfig))
	assert.Equal(t, "/srv/a", current.Local.BackupPath)
	assert.Equal(t, "/srv/a", repo.stored.Local.BackupPath)
	assert.Equal(t, 2, repo.saves)
}

func TestConfigStore_Update_UnversionedLastWriteWins(t *testing.T) {
	s := newTestConfigStore(t, &memSettingsRepository{})

	for _, path := range []string{"/srv/a", "/srv/b"} {
		next := DefaultSettings()
		next.Local.BackupPath = path

		_, err := s.Update(context.Background(), next)
		require.NoError(t, err)
	}

	assert.Equal(t, "/srv/b", s.Current().Local.BackupPath)
	assert.Equal(t, int64(3), s.Current().Version)
}
