// Package staging hands out scratch directories where a run assembles its
// dump before anything reaches a destination.
package staging

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const dirPrefix = "pgbackuper-"

type Manager struct {
	base string
}

func New(base string) *Manager {
	if base == "" {
		base = os.TempDir()
	}

	return &Manager{
		base: base,
	}
}

func (m *Manager) Allocate() (string, error) {
	dir := filepath.Join(m.base, dirPrefix+uuid.NewString())

	err := os.Mkdir(dir, 0700)
	if err != nil {
		return "", errors.Wrap(err, "unable to allocate staging directory")
	}
	return dir, nil
}

func (m *Manager) Release(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// Sweep removes directories left behind by runs of a previous process.
func (m *Manager) Sweep() (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.base, dirPrefix+"*"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			return removed, err
		}
		removed++
	}

	return removed, nil
}
