// Package migrations накатывает схему PostgreSQL (users, subscriptions) через golang-migrate.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirty схема осталась в незавершённом состоянии после упавшей миграции
// и требует ручного migrate force.
var ErrDirty = errors.New("schema is dirty")

// Run поднимает схему до последней версии из каталога dir и возвращает итоговую версию.
func Run(db *sql.DB, dir string) (uint, error) {
	const op = "migrations.Run"

	m, err := open(db, dir)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, dirty, err := m.Version(); err == nil && dirty {
		return 0, fmt.Errorf("%s: %w", op, ErrDirty)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("%s: up: %w", op, err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("%s: version: %w", op, err)
	}
	return version, nil
}

func open(db *sql.DB, dir string) (*migrate.Migrate, error) {
	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "pgx_v5", driver)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", dir, err)
	}
	return m, nil
}
