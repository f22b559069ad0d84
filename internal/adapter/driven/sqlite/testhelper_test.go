package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB opens a migrated, named in-memory archive database. The name is
// the percent-encoded test name, so parallel tests never share state while the
// writer and reader still see the same database through cache=shared. Journal
// mode stays at the default: WAL has no effect on in-memory databases.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	open := func(role string, maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		require.NoError(t, err, "open test db %s", role)
		t.Cleanup(func() { _ = conn.Close() })
		conn.SetMaxOpenConns(maxConns)
		require.NoError(t, conn.Ping(), "ping test db %s", role)
		return conn
	}

	db := &DB{Writer: open("writer", 1), Reader: open("reader", 4), path: dsn}
	require.NoError(t, RunMigrations(db.Writer), "run migrations")
	return db
}
