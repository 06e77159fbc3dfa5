// internal/ledgerview/registry.go
package ledgerview

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"memberdesk/internal/membership"
)

// Registry hands out one View per member so every request for a member
// shares its gate. Concurrent first loads of a member are collapsed. A view
// is never replaced once handed out; Forget and Clear invalidate it instead,
// so an operation still holding its gate keeps the member to itself.
type Registry struct {
	api   membership.Ledger
	opts  []Option
	group singleflight.Group

	mu    sync.RWMutex
	views map[int64]*View
}

func NewRegistry(api membership.Ledger, opts ...Option) *Registry {
	return &Registry{api: api, opts: opts, views: make(map[int64]*View)}
}

// Get returns the cached view or opens it. An invalidated view is refetched
// first unless an operation holds it, in which case that operation's result
// is current enough and the view is returned as is.
func (r *Registry) Get(ctx context.Context, memberID int64) (*View, error) {
	r.mu.RLock()
	v, ok := r.views[memberID]
	r.mu.RUnlock()
	if ok {
		if v.Stale() {
			if err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrBusy) {
				return nil, err
			}
		}
		return v, nil
	}

	res, err, _ := r.group.Do(strconv.FormatInt(memberID, 10), func() (interface{}, error) {
		r.mu.RLock()
		v, ok := r.views[memberID]
		r.mu.RUnlock()
		if ok {
			return v, nil
		}

		// Shared by every waiter, so one caller going away must not fail the rest.
		v, err := Open(context.WithoutCancel(ctx), r.api, memberID, r.opts...)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.views[memberID] = v
		r.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*View), nil
}

// Forget invalidates the views of the given members, e.g. after they are
// deleted. The next Get refetches and reports the member as gone.
func (r *Registry) Forget(memberIDs ...int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range memberIDs {
		if v, ok := r.views[id]; ok {
			v.Invalidate()
		}
	}
}

// Clear invalidates every cached view.
func (r *Registry) Clear() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.views {
		v.Invalidate()
	}
}
