package posts

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PendingIDSource reports the lowest id among posts not yet published; 0 means none.
type PendingIDSource interface {
	LowestPendingID(ctx context.Context) (int64, error)
}

// PendingIDs tracks the lowest locally reserved id. It starts at InitialPendingID
// and is refreshed at most once from the local store.
type PendingIDs struct {
	lowest atomic.Int64
	once   sync.Once
	done   chan struct{}
}

// NewPendingIDs returns a tracker holding the sentinel.
func NewPendingIDs() *PendingIDs {
	ids := &PendingIDs{done: make(chan struct{})}
	ids.lowest.Store(InitialPendingID)
	return ids
}

// Value returns either the sentinel or the refreshed lowest pending id.
func (p *PendingIDs) Value() int64 {
	return p.lowest.Load()
}

// Done is closed once Refresh has completed.
func (p *PendingIDs) Done() <-chan struct{} {
	return p.done
}

// Refresh reads the lowest pending id from source. A zero result or a read error
// leaves the sentinel in place. Only the first call has any effect.
func (p *PendingIDs) Refresh(ctx context.Context, source PendingIDSource, logger *zap.Logger) {
	p.once.Do(func() {
		defer close(p.done)

		lowest, err := source.LowestPendingID(ctx)
		if err != nil {
			logger.Warn("pending id refresh failed", zap.Error(err))
			return
		}
		if lowest != 0 {
			p.lowest.Store(lowest)
		}
		logger.Debug("pending id refreshed", zap.Int64("lowest_pending_id", p.Value()))
	})
}
