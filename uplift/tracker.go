package uplift

import (
	"context"
	"fmt"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/rs/zerolog/log"
)

var (
	ErrMixedRunTimes   = failure.New(failure.ErrValidation, "uplift records belong to different runs")
	ErrConcurrentMerge = failure.New(failure.ErrDataAccess, "uplift history changed since the merge was prepared")
)

// Action is what a merge did to the stored history
type Action string

const (
	ActionInitialized Action = "initialized"
	ActionMerged      Action = "merged"
	ActionSkipped     Action = "skipped"
)

// MergeResult is the outcome of merging one run
type MergeResult struct {
	Action  Action
	RunTime time.Time
	History History

	// stored history the merge was computed from
	base       time.Time
	baseLength int
}

// Tracker is the only writer of an uplift history
type Tracker struct {
	Store  Store
	Locker Locker
	Key    string
}

func NewTracker(store Store, locker Locker, key string) *Tracker {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &Tracker{
		Store:  store,
		Locker: locker,
		Key:    key,
	}
}

// Prepare computes the history after adding the records of one run without saving it. The
// first run initialises the history, later runs are merged only when strictly newer than every
// stored run and anything else is skipped without error, so merging the same run twice leaves
// the history unchanged.
func (t *Tracker) Prepare(ctx context.Context, records []Record) (*MergeResult, error) {
	if len(records) == 0 {
		log.Debug().Str("history", t.Key).Msg("no uplift records to merge")
		return &MergeResult{Action: ActionSkipped}, nil
	}
	runTime := records[0].RunTime
	for _, r := range records[1:] {
		if !r.RunTime.Equal(runTime) {
			return nil, fmt.Errorf("%s and %s, %w", runTime, r.RunTime, ErrMixedRunTimes)
		}
	}

	stored, err := t.load(ctx)
	if err != nil {
		return nil, err
	}

	latest := stored.MaxRunTime()
	res := &MergeResult{
		RunTime:    runTime,
		base:       latest,
		baseLength: len(stored),
	}
	switch {
	case len(stored) == 0:
		res.Action = ActionInitialized
		res.History = History(records).Rolling()
	case runTime.After(latest):
		res.Action = ActionMerged
		res.History = append(stored[:len(stored):len(stored)], records...).Rolling()
	default:
		log.Debug().
			Str("history", t.Key).
			Time("run_time", runTime).
			Time("latest", latest).
			Msg("skipping stale uplift merge")
		res.Action = ActionSkipped
		res.History = stored
	}
	return res, nil
}

// Commit saves a prepared merge. Skipped merges save nothing. The commit fails when another
// run changed the stored history after the merge was prepared.
func (t *Tracker) Commit(ctx context.Context, res *MergeResult) error {
	if res == nil || res.Action == ActionSkipped {
		return nil
	}

	unlock, err := t.Locker.Lock(ctx, "uplift:"+t.Key)
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := t.Store.Load(ctx)
	if err != nil {
		return err
	}
	if len(stored) != res.baseLength || !stored.MaxRunTime().Equal(res.base) {
		return fmt.Errorf("history %s, %w", t.Key, ErrConcurrentMerge)
	}
	if err := t.Store.Save(ctx, res.History); err != nil {
		return err
	}
	log.Info().
		Str("history", t.Key).
		Str("action", string(res.Action)).
		Time("run_time", res.RunTime).
		Msg("merged uplift records")
	return nil
}

func (t *Tracker) load(ctx context.Context) (History, error) {
	unlock, err := t.Locker.Lock(ctx, "uplift:"+t.Key)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return t.Store.Load(ctx)
}
