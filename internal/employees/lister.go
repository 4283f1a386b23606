package employees

import (
	"context"
	"sync"

	"github.com/wolfeidau/staffconsole/internal/apierror"
)

// Lister runs list requests where each new one supersedes the last: starting
// a List cancels the previous in-flight List, whose caller gets an error
// satisfying apierror.IsCanceled and must not use its result.
type Lister struct {
	svc *Service

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewLister(svc *Service) *Lister {
	return &Lister{svc: svc}
}

// List cancels any in-flight list and fetches params.
func (l *Lister) List(ctx context.Context, params ListParams) (*ListResponse, error) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	seq := l.seq
	l.cancel = cancel
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		if l.seq == seq {
			l.cancel = nil
		}
		l.mu.Unlock()
		cancel()
	}()

	res, err := l.svc.List(ctx, params)

	// a response that raced with its own supersession is stale
	if !l.current(seq) {
		return nil, apierror.Canceled(context.Canceled)
	}
	if err != nil {
		return nil, err
	}

	return res, nil
}

// Close cancels the in-flight list, if any.
func (l *Lister) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.seq++
}

func (l *Lister) current(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq == seq
}
