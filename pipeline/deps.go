package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/aouyang1/go-ensembler/status"
	"github.com/aouyang1/go-ensembler/uplift"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Deps are the I/O collaborators of a run
type Deps struct {
	Objects   objectstore.Store
	Status    status.Sink
	Uplift    *uplift.Tracker
	Telemetry *Telemetry

	closers []func() error
}

// NewDeps connects the backends named in a validated config
func NewDeps(ctx context.Context, cfg *Config) (*Deps, error) {
	d := &Deps{
		Objects:   objectstore.NewGuarded(objectstore.NewDir(cfg.Storage.Root), guardOptions(cfg.Storage.Guard)),
		Telemetry: NewTelemetry(),
	}

	var db *sqlx.DB
	if cfg.NeedsPostgres() {
		if cfg.Postgres.DSN == "" {
			return nil, ErrMissingPostgres
		}
		var err error
		db, err = sqlx.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %v, %w", err, failure.ErrDataAccess)
		}
		d.closers = append(d.closers, db.Close)
	}

	var sink status.Sink = status.LogSink{}
	if cfg.Status.Sink == BackendPostgres {
		pgCtx, cancel := context.WithTimeout(ctx, cfg.Postgres.Timeout)
		_, err := db.ExecContext(pgCtx, status.Schema)
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create run status table: %v, %w", err, failure.ErrDataAccess)
		}
		sink = status.NewPostgresSink(db, cfg.Postgres.Timeout)
	}
	d.Status = status.NewOnce(sink)

	var store uplift.Store
	switch cfg.Uplift.Store {
	case BackendPostgres:
		pg := uplift.NewPostgresStore(db, cfg.Name, cfg.Postgres.Timeout)
		if err := pg.Migrate(ctx); err != nil {
			d.Close()
			return nil, err
		}
		store = pg
	default:
		store = uplift.NewObjectStore(d.Objects, cfg.Uplift.Path)
	}

	var locker uplift.Locker
	if cfg.Uplift.Lock == BackendRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, client.Close)
		locker = uplift.NewRedisLocker(client)
	}
	d.Uplift = uplift.NewTracker(store, locker, cfg.Name)
	return d, nil
}

// Close releases the backend connections
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("failed to close backends")
		return err
	}
	return nil
}

func guardOptions(opt objectstore.GuardOptions) *objectstore.GuardOptions {
	def := objectstore.NewDefaultGuardOptions()
	if opt.Name == "" {
		opt.Name = def.Name
	}
	if opt.RatePerSecond == 0 {
		opt.RatePerSecond = def.RatePerSecond
	}
	if opt.Burst == 0 {
		opt.Burst = def.Burst
	}
	if opt.ConsecutiveFailures == 0 {
		opt.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if opt.OpenTimeout == 0 {
		opt.OpenTimeout = def.OpenTimeout
	}
	return &opt
}
