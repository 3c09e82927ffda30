package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var ErrNotFound = fmt.Errorf("database row not found")

func IsErrNotFound(err error) bool {
	return err == ErrNotFound
}

type Database struct {
	conn *sql.DB
}

// New opens the deployment history database, creating the file when
// absent. SQLite supports a single writer, so the pool is capped at one
// connection.
func New(path string) (*Database, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	return &Database{conn: conn}, nil
}

func (db *Database) Close() error {
	return db.conn.Close()
}

var migrations = []string{
	// 001 deployment history
	`
CREATE TABLE migrations (
	version INTEGER NOT NULL,
	created TEXT NOT NULL
);
CREATE TABLE deployment (
	id TEXT PRIMARY KEY,
	repository TEXT NOT NULL,
	run_id TEXT NOT NULL,
	state TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL,
	finished TEXT
);
CREATE INDEX deployment_repository_created ON deployment (repository, created DESC);
`,
}

func (db *Database) Migrate(ctx context.Context) error {
	var version int

	query := `SELECT MAX(version) FROM migrations`
	row := db.conn.QueryRowContext(ctx, query)
	err := row.Scan(&version)

	if err != nil {
		// error might be due to no schema.
		// no way to detect this, so log error and continue with migrations.
		log.Warnf("unable to get current migration version: %s", err)
	}

	for version < len(migrations) {
		log.Infof("migrating database schema to version %d", version+1)

		_, err = db.conn.ExecContext(ctx, migrations[version])
		if err != nil {
			return fmt.Errorf("migrating to version %d: %s", version+1, err)
		}

		version++

		_, err = db.conn.ExecContext(ctx, `INSERT INTO migrations (version, created) VALUES (?, ?)`, version, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("recording migration version %d: %s", version, err)
		}
	}

	return nil
}
