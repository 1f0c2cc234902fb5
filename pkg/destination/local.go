package destination

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const partialSuffix = ".partial"

// Local keeps artifacts as files under a base directory. The locator is the
// absolute file path.
type Local struct {
	base string
}

func NewLocal(base string) *Local {
	return &Local{
		base: base,
	}
}

// Write copies r into a ".partial" file next to the target and renames it
// into place, so the final name only ever holds a complete artifact.
func (l *Local) Write(ctx context.Context, name string, r io.Reader) (locator string, err error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	base, err := filepath.Abs(l.base)
	if err != nil {
		return "", errors.Wrapf(err, "invalid backup path %s", l.base)
	}

	if err := os.MkdirAll(base, 0750); err != nil {
		return "", errors.Wrapf(err, "unable to create backup path %s", base)
	}

	dst := filepath.Join(base, name)

	if _, err := os.Stat(dst); err == nil {
		return "", errors.Errorf("artifact %s already exists", dst)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	tmp := dst + partialSuffix

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return "", errors.Wrap(err, "unable to create artifact")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	_, err = io.Copy(out, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = out.Close()
		return "", err
	}

	err = out.Sync()
	if err != nil {
		_ = out.Close()
		return "", err
	}

	err = out.Close()
	if err != nil {
		return "", err
	}

	err = os.Rename(tmp, dst)
	if err != nil {
		return "", err
	}

	return dst, nil
}

func (l *Local) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if !filepath.IsAbs(locator) {
		return nil, errors.Errorf("local locator %q is not an absolute path", locator)
	}

	return os.Open(locator)
}

// Delete removes the artifact. A missing file is not an error.
func (l *Local) Delete(ctx context.Context, locator string) error {
	if !filepath.IsAbs(locator) {
		return errors.Errorf("local locator %q is not an absolute path", locator)
	}

	err := os.Remove(locator)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
