// Package status reports the final state of a run to its trigger
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Status is the lifecycle state of a run
type Status string

const (
	Running Status = "RUNNING"
	Success Status = "SUCCESS"
	Failed  Status = "FAILED"
)

var ErrAlreadyReported = failure.New(failure.ErrValidation, "run status already reported")

// Sink records the status of a run. outputs maps artifact names to their paths.
type Sink interface {
	UpdateRunStatus(ctx context.Context, runID string, status Status, outputs map[string]string, message string) error
}

// LogSink writes the status to the log
type LogSink struct{}

func (LogSink) UpdateRunStatus(_ context.Context, runID string, status Status, outputs map[string]string, message string) error {
	ev := log.Info()
	if status == Failed {
		ev = log.Error()
	}
	ev.Str("run_id", runID).
		Str("status", string(status)).
		Interface("outputs", outputs).
		Str("message", message).
		Msg("run status")
	return nil
}

// Schema creates the run status table
const Schema = `CREATE TABLE IF NOT EXISTS run_status (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	outputs    JSONB NOT NULL DEFAULT '{}',
	message    TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertStatus = `INSERT INTO run_status (run_id, status, outputs, message, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			outputs = EXCLUDED.outputs,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at`

// PostgresSink upserts the status row of a run
type PostgresSink struct {
	db      *sqlx.DB
	timeout time.Duration
	now     func() time.Time
}

func NewPostgresSink(db *sqlx.DB, timeout time.Duration) *PostgresSink {
	return &PostgresSink{
		db:      db,
		timeout: timeout,
		now:     time.Now,
	}
}

func (p *PostgresSink) UpdateRunStatus(ctx context.Context, runID string, status Status, outputs map[string]string, message string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if outputs == nil {
		outputs = map[string]string{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, upsertStatus, runID, string(status), outputsJSON, message, p.now().UTC()); err != nil {
		return fmt.Errorf("update run %s status: %v, %w", runID, err, failure.ErrDataAccess)
	}
	return nil
}

// Once forwards only the first status update of a run to the wrapped sink
type Once struct {
	sink Sink
	mu   sync.Mutex
	done map[string]struct{}
}

func NewOnce(sink Sink) *Once {
	return &Once{
		sink: sink,
		done: make(map[string]struct{}),
	}
}

func (o *Once) UpdateRunStatus(ctx context.Context, runID string, status Status, outputs map[string]string, message string) error {
	o.mu.Lock()
	if _, exists := o.done[runID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("run %s, %w", runID, ErrAlreadyReported)
	}
	o.done[runID] = struct{}{}
	o.mu.Unlock()

	return o.sink.UpdateRunStatus(ctx, runID, status, outputs, message)
}
