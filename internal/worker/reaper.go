package worker

import (
	"context"
	"time"

	"github.com/oriys/aperture/internal/child"
	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/logging"
	"github.com/oriys/aperture/internal/metrics"
)

// Reaper periodically sweeps RUNNING records whose owning process is
// no longer alive and marks them FAILED, resolving spec.md §9 Open
// Question 1 (the WorkerCrash error taxonomy entry explicitly leaves
// this to an eventual reaper).
type Reaper struct {
	store    engine.Store
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
}

// NewReaper returns a Reaper sweeping store every interval.
func NewReaper(store engine.Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{store: store, interval: interval, stopCh: make(chan struct{}), done: make(chan struct{})}
}

// Start runs the sweep loop until Stop is called.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Reaper) sweep(ctx context.Context) {
	running, err := r.store.List(ctx, engine.StatusRunning)
	if err != nil {
		logging.Op().Error("reaper: list running requests failed", "error", err)
		return
	}

	for _, req := range running {
		if req.PID == 0 || child.IsAlive(req.PID) {
			continue
		}
		_, err := r.store.Update(ctx, req.RequestID, func(rec *engine.Request) {
			if rec.Status != engine.StatusRunning {
				return
			}
			rec.Status = engine.StatusFailed
			rec.Error = &engine.Error{Message: "worker crashed"}
		})
		if err != nil {
			logging.Op().Error("reaper: mark failed transition failed", "request_id", req.RequestID, "error", err)
			continue
		}
		metrics.RecordReaped()
		logging.Op().Warn("reaper: reclaimed orphaned request", "request_id", req.RequestID, "pid", req.PID)
	}
}
