package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used for fire-and-forget writes.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SQLRunner executes marker-tagged statements and logs them by marker.
// Every statement must start with a `--sql <uuid>` line.
type SQLRunner struct {
	db     Execer
	logger *Logger
}

func NewSQLRunner(db Execer, logger *Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: LoggerOrDiscard(logger)}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) error {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("sql", marker).Msg("exec")
	if _, err := r.db.Exec(ctx, trimmed, args...); err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("exec failed")
		return err
	}
	return nil
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	lines := strings.Split(trimmed, "\n")
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimPrefix(markerLine, "--sql "), strings.Join(lines[1:], "\n"), nil
}
