package site

import (
	"context"
	"sync"

	"ptxn/pkg/procedure"

	"github.com/pkg/errors"
)

// Future is the pending response of one invocation.
type Future struct {
	once   sync.Once
	done   chan struct{}
	cancel context.CancelFunc
	resp   *procedure.ClientResponse
	err    error
}

func newFuture(cancel context.CancelFunc) *Future {
	return &Future{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (f *Future) complete(resp *procedure.ClientResponse, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
		if f.cancel != nil {
			f.cancel()
		}
	})
}

func (f *Future) Done() <-chan struct{} { return f.done }

// Wait returns the response and the cause of a non success status. It gives
// up when ctx is done; the invocation keeps running.
func (f *Future) Wait(ctx context.Context) (*procedure.ClientResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "wait for response")
	}
}

// Cancel abandons the invocation. An attempt already running on a partition
// stops at its next batch.
func (f *Future) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}
