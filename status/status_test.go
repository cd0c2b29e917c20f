package status

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aouyang1/go-ensembler/failure"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSink(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	testData := map[string]struct {
		status  Status
		outputs map[string]string
		message string
		execErr error
		args    []driver.Value
	}{
		"success": {
			status:  Success,
			outputs: map[string]string{"forecast": "runs/1/forecast.csv"},
			args:    []driver.Value{"run-1", "SUCCESS", []byte(`{"forecast":"runs/1/forecast.csv"}`), "", now},
		},
		"failure without outputs": {
			status:  Failed,
			message: "insufficient history",
			args:    []driver.Value{"run-1", "FAILED", []byte(`{}`), "insufficient history", now},
		},
		"database error": {
			status:  Success,
			execErr: errors.New("connection reset"),
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.Nil(t, err)
			defer db.Close()

			sink := NewPostgresSink(sqlx.NewDb(db, "postgres"), time.Second)
			sink.now = func() time.Time { return now }

			exec := mock.ExpectExec(upsertStatus)
			if td.execErr != nil {
				exec.WillReturnError(td.execErr)
			} else {
				exec.WithArgs(td.args...).WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err = sink.UpdateRunStatus(context.Background(), "run-1", td.status, td.outputs, td.message)
			if td.execErr != nil {
				assert.ErrorIs(t, err, failure.ErrDataAccess)
			} else {
				require.Nil(t, err)
			}
			assert.Nil(t, mock.ExpectationsWereMet())
		})
	}
}

type recordingSink struct {
	calls []Status
}

func (r *recordingSink) UpdateRunStatus(_ context.Context, _ string, status Status, _ map[string]string, _ string) error {
	r.calls = append(r.calls, status)
	return nil
}

func TestOnce(t *testing.T) {
	rec := &recordingSink{}
	once := NewOnce(rec)
	ctx := context.Background()

	require.Nil(t, once.UpdateRunStatus(ctx, "run-1", Failed, nil, "boom"))
	err := once.UpdateRunStatus(ctx, "run-1", Success, nil, "")
	assert.ErrorIs(t, err, ErrAlreadyReported)
	require.Nil(t, once.UpdateRunStatus(ctx, "run-2", Success, nil, ""))

	assert.Equal(t, []Status{Failed, Success}, rec.calls)
	assert.Nil(t, LogSink{}.UpdateRunStatus(ctx, "run-3", Success, nil, ""))
}
