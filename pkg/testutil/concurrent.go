package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"optout/pkg/platform/faults"
	"optout/pkg/platform/sentinel"
)

// ConcurrentResult tallies outcomes of racing calls.
type ConcurrentResult struct {
	Successes int32
	Conflicts int32
	Errors    int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Conflicts + r.Errors
}

// RunConcurrent starts n goroutines behind a common barrier so they hit fn at the same time.
// Store conflicts and dependency-validation faults count as conflicts.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var (
		wg                   sync.WaitGroup
		start                = make(chan struct{})
		successes, conflicts atomic.Int32
		errs                 atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict),
				faults.IsKind(err, faults.KindDependencyValidation):
				conflicts.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Conflicts: conflicts.Load(),
		Errors:    errs.Load(),
	}
}
