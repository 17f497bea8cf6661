package ledger

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// WaitAll waits for every handle concurrently and sends each result as soon as it
// resolves. The channel is closed once all handles resolved. It is buffered for all
// results, so a caller that stops reading does not leak goroutines.
func (l *Ledger) WaitAll(ctx context.Context, pendings ...*Pending) <-chan Result {
	results := make(chan Result, len(pendings))

	var g errgroup.Group
	for _, p := range pendings {
		g.Go(func() error {
			c, err := l.Wait(ctx, p)
			results <- Result{Pending: p, Confirmation: c, Err: err}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	return results
}

// ConfirmAll waits for every handle and returns the confirmations in the order of
// pendings. The error joins the failures of all handles, also in the order of
// pendings.
func (l *Ledger) ConfirmAll(ctx context.Context, pendings ...*Pending) ([]*Confirmation, error) {
	index := make(map[*Pending]int, len(pendings))
	for i, p := range pendings {
		index[p] = i
	}

	confirmations := make([]*Confirmation, len(pendings))
	errs := make([]error, len(pendings))

	for r := range l.WaitAll(ctx, pendings...) {
		i := index[r.Pending]
		confirmations[i] = r.Confirmation
		errs[i] = r.Err
	}

	return confirmations, errors.Join(errs...)
}
