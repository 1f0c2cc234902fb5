// Package dump produces plain SQL dumps with pg_dump.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/pgbackuper/pkg/appcontext"
	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const maxStderr = 4096

type PgDumper struct {
	logger         logrus.FieldLogger
	binary         string
	connectTimeout time.Duration
}

func NewPgDumper(logger logrus.FieldLogger, binary string, connectTimeout time.Duration) *PgDumper {
	if binary == "" {
		binary = "pg_dump"
	}

	return &PgDumper{
		logger:         logger,
		binary:         binary,
		connectTimeout: connectTimeout,
	}
}

// Dump checks the database is reachable, then streams pg_dump's plain output
// into w.
func (d *PgDumper) Dump(ctx context.Context, db domain.DatabaseSettings, w io.Writer) error {
	if err := d.Probe(ctx, db); err != nil {
		return err
	}

	logger := appcontext.LoggerFromContext(d.logger, ctx)

	cmd := exec.CommandContext(ctx, d.binary, d.args(db)...)
	cmd.Env = append(os.Environ(),
		"PGPASSWORD="+db.Password,
		"PGCONNECT_TIMEOUT="+strconv.Itoa(d.connectTimeoutSeconds()),
	)
	cmd.Stdout = w

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxStderr}

	logger.WithFields(logrus.Fields{
		"host":     db.Host,
		"database": db.Database,
	}).Debug("Running pg_dump")

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return errors.Wrap(err, "pg_dump failed")
		}
		return errors.Wrapf(err, "pg_dump failed: %s", msg)
	}

	return nil
}

// Probe opens and pings a connection, reporting any failure as a
// *domain.ConnectionError.
func (d *PgDumper) Probe(ctx context.Context, db domain.DatabaseSettings) error {
	target := fmt.Sprintf("postgres://%s@%s:%d/%s", db.Username, db.Host, db.Port, db.Database)

	config, err := pgx.ParseConfig(d.connString(db))
	if err != nil {
		return &domain.ConnectionError{Target: target, Err: err}
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return &domain.ConnectionError{Target: target, Err: err}
	}
	defer conn.Close(context.Background())

	if err := conn.Ping(ctx); err != nil {
		return &domain.ConnectionError{Target: target, Err: err}
	}

	return nil
}

func (d *PgDumper) connString(db domain.DatabaseSettings) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:     "/" + db.Database,
		RawQuery: "connect_timeout=" + strconv.Itoa(d.connectTimeoutSeconds()),
	}
	return u.String()
}

func (d *PgDumper) args(db domain.DatabaseSettings) []string {
	return []string{
		"-h", db.Host,
		"-p", strconv.Itoa(db.Port),
		"-U", db.Username,
		"-d", db.Database,
		"--format=plain",
		"--no-password",
	}
}

func (d *PgDumper) connectTimeoutSeconds() int {
	s := int(d.connectTimeout / time.Second)
	if s < 1 {
		s = 10
	}
	return s
}

type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
