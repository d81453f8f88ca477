package tracking

import (
	"context"
	"fmt"
	"strings"

	"detectpd/domain/core"
	"detectpd/internal"
	"detectpd/internal/errors"
	"detectpd/internal/migration"
	"detectpd/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is a run tracker that can also read its runs back.
type Store interface {
	ports.RunTrackerPort
	ports.RunReaderPort
}

// IsDatabaseURI reports whether uri names a PostgreSQL database rather than
// a directory.
func IsDatabaseURI(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

// Open returns the store named by uri: a PostgreSQL tracker for
// postgres:// URIs (schema migrated on connect) and a JSON directory store
// otherwise. The returned close function releases the connection.
func Open(ctx context.Context, uri string, logger *internal.Logger) (Store, func() error, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, nil, errors.ConfigInvalid("invalid tracking configuration", core.NewConfigurationError("tracking_uri", "must not be empty"))
	}
	if !IsDatabaseURI(uri) {
		return NewFileStore(uri, logger), func() error { return nil }, nil
	}

	db, err := Connect(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "tracking schema migration failed")
	}
	return NewPostgresStore(db, logger), db.Close, nil
}

// Connect opens and pings a PostgreSQL connection.
func Connect(ctx context.Context, uri string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", uri)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Sprintf("failed to connect to %s", redact(uri)), err)
	}
	return db, nil
}

// redact hides the password of a connection URI for logging.
func redact(uri string) string {
	at := strings.LastIndex(uri, "@")
	scheme := strings.Index(uri, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return uri
	}
	creds := uri[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return uri[:scheme+3] + creds + uri[at:]
}
