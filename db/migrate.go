package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded SQL file. Its version is the numeric filename prefix.
type migration struct {
	version  string
	filename string
}

// Migrate applies every embedded migration that schema_migrations has not
// recorded yet, each in its own transaction. A nil log runs silently.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	pending, err := listMigrations()
	if err != nil {
		return err
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range pending {
		if applied[m.version] {
			if log != nil {
				log.Debugw("Migration already applied", "migration", m.filename)
			}
			continue
		}
		if log != nil {
			log.Infow("Applying migration", "migration", m.filename, "version", m.version)
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
		count++
	}

	if log != nil && count > 0 {
		logger.AddDBSymbol(log).Infow("Schema up to date", "applied", count, "known", len(pending))
	}
	return nil
}

func listMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list embedded migrations")
	}

	out := make([]migration, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		version, _, _ := strings.Cut(name, "_")
		out = append(out, migration{version: version, filename: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

// appliedVersions returns the recorded versions. Before migration 000 has run
// the table does not exist and the set is empty.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		if IsDatabaseClosed(err) {
			return nil, errors.Wrap(ErrDatabaseClosed, "migrate")
		}
		return applied, nil
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "failed to scan migration version")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "failed to read schema_migrations")
}

func applyMigration(db *sql.DB, m migration) (err error) {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.filename))
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", m.filename)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin %s", m.filename)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "failed to execute %s", m.filename)
	}
	// 000 creates schema_migrations and then records itself like any other
	if _, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrapf(err, "failed to record %s", m.filename)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit %s", m.filename)
	}
	return nil
}
