package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/objectstore"
	"github.com/rs/zerolog/log"
)

type published struct {
	path    string
	prev    []byte
	existed bool
}

// publication records every object a run writes so a failed run can put the store back the
// way it found it
type publication struct {
	store   objectstore.Store
	written []published
}

func newPublication(s objectstore.Store) *publication {
	return &publication{store: s}
}

func (p *publication) put(ctx context.Context, path string, data []byte) error {
	prev, err := p.store.Get(ctx, path)
	existed := err == nil
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return failure.WithKind(err, failure.ErrDataAccess)
	}
	if err := p.store.Put(ctx, path, data); err != nil {
		return failure.WithKind(err, failure.ErrDataAccess)
	}
	p.written = append(p.written, published{path: path, prev: prev, existed: existed})
	return nil
}

// rollback restores overwritten objects and deletes new ones in reverse write order. It runs
// even when ctx is already cancelled.
func (p *publication) rollback(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(p.written) - 1; i >= 0; i-- {
		w := p.written[i]
		var err error
		if w.existed {
			err = p.store.Put(ctx, w.path, w.prev)
		} else {
			err = p.store.Delete(ctx, w.path)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s, %w", w.path, err))
		}
	}
	log.Debug().Int("objects", len(p.written)).Msg("rolled back run artifacts")
	p.written = nil
	return errors.Join(errs...)
}
