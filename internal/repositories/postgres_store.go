package repositories

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/utils"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations brings the sync_records schema up to date.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "omnisync", driver)
	if err != nil {
		return fmt.Errorf("failed to instantiate migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresChangeStore keeps every resource type in one sync_records table,
// partitioned by the resource column.
type PostgresChangeStore struct {
	pool     *pgxpool.Pool
	resource string
	now      utils.Clock
}

func NewPostgresChangeStore(pool *pgxpool.Pool, resource string, clock utils.Clock) *PostgresChangeStore {
	if clock == nil {
		clock = utils.NowMillis
	}
	return &PostgresChangeStore{pool: pool, resource: resource, now: clock}
}

func (r *PostgresChangeStore) Query(ctx context.Context, owner string, since int64) ([]*models.Record, error) {
	query := `SELECT id, owner, payload, deleted, updated_at
	          FROM sync_records
	          WHERE resource = $1 AND owner = $2 AND updated_at > $3
	          ORDER BY updated_at ASC`

	rows, err := r.pool.Query(ctx, query, r.resource, owner, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.Record, 0)
	for rows.Next() {
		var record models.Record
		if err := rows.Scan(
			&record.ID,
			&record.Owner,
			&record.Payload,
			&record.Deleted,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if record.Payload == nil {
			record.Payload = map[string]any{}
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// UpsertBatch runs one statement per entry outside any transaction, so a
// failing entry never rolls back its neighbours.
func (r *PostgresChangeStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			outcomes[i] = models.Rejected(err)
			continue
		}
		outcomes[i] = r.upsert(ctx, owner, entry)
	}
	return outcomes, nil
}

func (r *PostgresChangeStore) upsert(ctx context.Context, owner string, entry models.Entry) models.Outcome {
	// The ownership check lives in the WHERE clause: a conflicting row owned
	// by someone else is left untouched and RETURNING yields nothing.
	query := `INSERT INTO sync_records (resource, id, owner, payload, deleted, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (resource, id) DO UPDATE
	          SET payload = EXCLUDED.payload,
	              deleted = EXCLUDED.deleted,
	              updated_at = GREATEST(EXCLUDED.updated_at, sync_records.updated_at + 1)
	          WHERE sync_records.owner = EXCLUDED.owner
	          RETURNING updated_at`

	payload := entry.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	var updatedAt int64
	err := r.pool.QueryRow(ctx, query,
		r.resource,
		entry.ID,
		owner,
		payload,
		entry.Deleted,
		r.now(),
	).Scan(&updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return models.Rejected(ErrOwnerMismatch)
	}
	if err != nil {
		return models.Rejected(fmt.Errorf("failed to upsert record: %w", err))
	}
	return models.Accepted(updatedAt)
}
