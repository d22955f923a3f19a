// Package dbtest provides an in-memory stand-in for db.Transactor.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories. Snapshot captures the
// current contents and returns a func that restores them.
type Snapshotter interface {
	Snapshot() (restore func())
}

type inTxKey struct{}

// Transactor serializes units of work and rolls registered stores back to
// their pre-transaction contents when fn fails.
type Transactor struct {
	mu     sync.Mutex
	stores []Snapshotter

	statsMu   sync.Mutex
	commits   int
	rollbacks int
}

func NewTransactor(stores ...Snapshotter) *Transactor {
	return &Transactor{stores: stores}
}

func (t *Transactor) Register(s Snapshotter) {
	t.stores = append(t.stores, s)
}

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}

	err := fn(context.WithValue(ctx, inTxKey{}, true))

	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	if err != nil {
		for _, restore := range restores {
			restore()
		}
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

func (t *Transactor) Commits() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.commits
}

func (t *Transactor) Rollbacks() int {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.rollbacks
}
