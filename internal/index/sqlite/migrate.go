package sqlite

import (
	"database/sql"
	"embed"
	"sort"
	"strconv"
	"strings"

	"github.com/arrowstore/ddstore/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	Version int
	SQL     string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, errors.Index(err, "read migrations dir")
	}

	var migrations []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}

		parts := strings.SplitN(e.Name(), "_", 2)
		if len(parts) < 2 {
			return nil, errors.Indexf("invalid migration filename: %s", e.Name())
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindIndexError, "invalid migration version in %s", e.Name())
		}

		data, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindIndexError, "read migration %s", e.Name())
		}

		migrations = append(migrations, migration{Version: version, SQL: string(data)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY) STRICT`)
	if err != nil {
		return errors.Index(err, "create schema_migrations")
	}

	applied := map[int]bool{}
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return errors.Index(err, "query applied migrations")
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return errors.Index(err, "scan migration version")
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return errors.Index(err, "iterate migration versions")
	}
	rows.Close()

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, errors.KindIndexError, "begin migration %d", m.Version)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.KindIndexError, "execute migration %d", m.Version)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, errors.KindIndexError, "record migration %d", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, errors.KindIndexError, "commit migration %d", m.Version)
		}
	}

	return nil
}
