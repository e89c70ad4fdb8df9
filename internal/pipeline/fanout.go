package pipeline

import (
	"context"
	"errors"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// Fanout loads every batch into each loader in order. All loaders are tried;
// their errors are joined.
type Fanout []BatchLoader

func (f Fanout) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	var errs []error
	for _, l := range f {
		if err := l.LoadBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
