package service

import (
	"context"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/pkg/ratex"
)

// CreationLimiter gates invitation creation per actor. AllowCreate reports
// whether the actor may create another invitation right now.
type CreationLimiter interface {
	AllowCreate(ctx context.Context, actor string) (bool, error)
}

// StoreCreationLimiter counts recent records by creator. No in-process
// state, so it holds across replicas sharing one database.
type StoreCreationLimiter struct {
	Store     store.Store
	MaxPerWin int
	Window    time.Duration

	now func() time.Time
}

func NewStoreCreationLimiter(st store.Store, maxPerWindow int, window time.Duration) *StoreCreationLimiter {
	return &StoreCreationLimiter{
		Store:     st,
		MaxPerWin: maxPerWindow,
		Window:    window,
		now:       time.Now,
	}
}

func (l *StoreCreationLimiter) AllowCreate(ctx context.Context, actor string) (bool, error) {
	if l.MaxPerWin <= 0 {
		return true, nil // limiting disabled
	}
	since := l.now().UTC().Add(-l.Window)
	count, err := l.Store.Invitations().CountCreatedBy(ctx, actor, since)
	if err != nil {
		return false, err
	}
	return count < l.MaxPerWin, nil
}

// BucketCreationLimiter wraps the keyed token bucket. Single-process only;
// counters reset on restart.
type BucketCreationLimiter struct {
	limiter *ratex.Limiter
}

func NewBucketCreationLimiter(maxPerWindow int, window time.Duration) *BucketCreationLimiter {
	return &BucketCreationLimiter{
		limiter: ratex.New(ratex.Config{
			RequestsPerWindow: maxPerWindow,
			Window:            window,
			Burst:             maxPerWindow,
		}),
	}
}

func (l *BucketCreationLimiter) AllowCreate(_ context.Context, actor string) (bool, error) {
	return l.limiter.Allow(actor), nil
}
