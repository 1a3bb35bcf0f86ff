package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/datastore/postgres/migrations"
)

var _ datastore.Store = (*Store)(nil)

// InitPostgresStore initializes a [datastore.Store] given the pgxpool.Pool,
// optionally running schema migrations first.
func InitPostgresStore(_ context.Context, pool *pgxpool.Pool, doMigration bool) (*Store, error) {
	if doMigration {
		db := stdlib.OpenDB(*pool.Config().ConnConfig)
		defer db.Close()
		migrator := migrate.NewPostgresMigrator(db)
		migrator.Table = migrations.MigrationTable
		if err := migrator.Exec(migrate.Up, migrations.Migrations...); err != nil {
			return nil, fmt.Errorf("failed to perform migrations: %w", err)
		}
	}
	return NewStore(pool), nil
}

// Store implements every datastore interface over one pgx pool.
//
// All the other exported methods live in their own files.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store using the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
