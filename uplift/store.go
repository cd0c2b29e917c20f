package uplift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// Store loads and saves one uplift history. An empty history means none exists yet.
type Store interface {
	Load(ctx context.Context) (History, error)
	Save(ctx context.Context, h History) error
}

// ObjectStore keeps the history as a JSON array in an object store
type ObjectStore struct {
	Objects objectstore.Store
	Path    string
}

func NewObjectStore(objects objectstore.Store, path string) *ObjectStore {
	return &ObjectStore{Objects: objects, Path: path}
}

func (s *ObjectStore) Load(ctx context.Context) (History, error) {
	data, err := s.Objects.Get(ctx, s.Path)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("uplift history %s: %v, %w", s.Path, err, objectstore.ErrMalformed)
	}
	return h, nil
}

func (s *ObjectStore) Save(ctx context.Context, h History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return s.Objects.Put(ctx, s.Path, data)
}

// Schema creates the rolling uplift table
const Schema = `CREATE TABLE IF NOT EXISTS rolling_uplift (
	history         TEXT NOT NULL,
	entity          TEXT NOT NULL,
	run_time        TIMESTAMPTZ NOT NULL,
	uplift_absolute DOUBLE PRECISION NOT NULL,
	uplift_pct      DOUBLE PRECISION,
	rolling_sum     DOUBLE PRECISION NOT NULL,
	rolling_mean    DOUBLE PRECISION,
	PRIMARY KEY (history, entity, run_time)
)`

const (
	selectHistory = `SELECT entity, run_time, uplift_absolute, uplift_pct, rolling_sum, rolling_mean
		FROM rolling_uplift
		WHERE history = $1
		ORDER BY entity, run_time`

	upsertRecord = `INSERT INTO rolling_uplift
		(history, entity, run_time, uplift_absolute, uplift_pct, rolling_sum, rolling_mean)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (history, entity, run_time) DO UPDATE SET
			uplift_absolute = EXCLUDED.uplift_absolute,
			uplift_pct = EXCLUDED.uplift_pct,
			rolling_sum = EXCLUDED.rolling_sum,
			rolling_mean = EXCLUDED.rolling_mean`
)

// PostgresStore keeps histories in the rolling_uplift table, one history per name
type PostgresStore struct {
	db      *sqlx.DB
	name    string
	timeout time.Duration
}

func NewPostgresStore(db *sqlx.DB, name string, timeout time.Duration) *PostgresStore {
	return &PostgresStore{
		db:      db,
		name:    name,
		timeout: timeout,
	}
}

// Migrate creates the table if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create rolling_uplift: %v, %w", err, failure.ErrDataAccess)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (History, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var h History
	if err := s.db.SelectContext(ctx, &h, selectHistory, s.name); err != nil {
		return nil, fmt.Errorf("load uplift history %s: %v, %w", s.name, err, failure.ErrDataAccess)
	}
	return h, nil
}

// Save upserts every record in one transaction. Rows of earlier runs keep their values since
// rolling aggregates only look backwards.
func (s *PostgresStore) Save(ctx context.Context, h History) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin uplift save: %v, %w", err, failure.ErrDataAccess)
	}
	for _, r := range h {
		if _, err := tx.ExecContext(ctx, upsertRecord,
			s.name, r.Entity, r.RunTime, r.UpliftAbsolute, r.UpliftPct, r.RollingSum, r.RollingMean); err != nil {
			tx.Rollback()
			return fmt.Errorf("save uplift %s entity %s: %v, %w", s.name, r.Entity, err, failure.ErrDataAccess)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit uplift save: %v, %w", err, failure.ErrDataAccess)
	}
	return nil
}
