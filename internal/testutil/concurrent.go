// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/DukeRupert/formwell/internal/domain"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Exceeded  int32
	Errors    int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Exceeded + r.Errors
}

// RunConcurrent executes fn in parallel goroutines released at the same time
// and sorts the results into success, quota exceeded, or other error.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, exceeded, errs atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			if err == nil {
				successes.Add(1)
				return
			}
			if _, ok := domain.AsQuotaExceeded(err); ok {
				exceeded.Add(1)
				return
			}
			errs.Add(1)
		}(i)
	}

	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Exceeded:  exceeded.Load(),
		Errors:    errs.Load(),
	}
}
