// Package service composes the Request Store, Queue Abstraction,
// Resource Planner, Worker Pool and Child Executor into a single
// Engine value, constructed once at daemon startup. This replaces the
// original's free-floating module-level globals (queues, _wrapper,
// reload hooks) with one owned value whose lifetime the daemon
// controls explicitly.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/aperture/internal/child"
	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/logging"
	"github.com/oriys/aperture/internal/metrics"
	"github.com/oriys/aperture/internal/queue"
	"github.com/oriys/aperture/internal/worker"
)

// Engine is the top-level request execution engine.
type Engine struct {
	Store    engine.Store
	Registry *engine.Registry
	Queue    queue.Queue
	Notifier queue.Notifier
	Pool     *worker.Pool
	Reaper   *worker.Reaper
}

// New wires the components together. plan sizes the Worker Pool.
func New(store engine.Store, reg *engine.Registry, q queue.Queue, notifier queue.Notifier, plan engine.Plan, binPath string, reaperInterval time.Duration) *Engine {
	exec := child.New(reg, child.Config{
		BinPath:     binPath,
		ForcedEnv:   map[string]string{"CLICOLOR_FORCE": "1"},
		GracePeriod: 5 * time.Second,
	})
	pool := worker.New(store, q, notifier, exec, worker.Config{
		BlockingWorkers:  plan.BlockingWorkers,
		NonBlockingSlots: plan.NonBlockingSlots,
		PollInterval:     100 * time.Millisecond,
		KillGracePeriod:  5 * time.Second,
	})
	return &Engine{
		Store:    store,
		Registry: reg,
		Queue:    q,
		Notifier: notifier,
		Pool:     pool,
		Reaper:   worker.NewReaper(store, reaperInterval),
	}
}

// Start launches the Worker Pool and the reaper.
func (e *Engine) Start(ctx context.Context) {
	e.Pool.Start(ctx)
	e.Reaper.Start(ctx)
}

// Stop drains the Worker Pool and halts the reaper.
func (e *Engine) Stop() {
	e.Pool.Stop()
	e.Reaper.Stop()
}

// ScheduleRequest is the engine's single submission entry point,
// grounded on schedule_request in the original source: it creates the
// record (tolerating a duplicate ID as success), and for BLOCKING/
// NON_BLOCKING requests enqueues the (request_id, ignore_return_value)
// element onto the appropriate lane.
func (e *Engine) ScheduleRequest(ctx context.Context, name, entrypoint string, body []byte, userID string, scheduleType engine.ScheduleType, ignoreReturnValue bool, requestID string) (string, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	req := &engine.Request{
		RequestID:         requestID,
		Name:              name,
		Entrypoint:        entrypoint,
		RequestBody:       body,
		Status:            engine.StatusPending,
		ScheduleType:      scheduleType,
		UserID:            userID,
		IgnoreReturnValue: ignoreReturnValue,
	}

	created, err := e.Store.CreateIfNotExists(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if !created {
		return requestID, nil
	}

	lane := queue.LaneNonBlocking
	if scheduleType == engine.ScheduleBlocking {
		lane = queue.LaneBlocking
	}

	if err := e.Queue.Put(ctx, lane, queue.Element{RequestID: requestID, IgnoreReturnValue: ignoreReturnValue}); err != nil {
		return "", fmt.Errorf("enqueue request: %w", err)
	}
	return requestID, nil
}

// Abort marks id ABORTED (no-op if already terminal) and, if it has a
// recorded PID, submits a kill-tree job on the dedicated priority path.
func (e *Engine) Abort(ctx context.Context, id string) error {
	var pid int
	req, err := e.Store.Update(ctx, id, func(r *engine.Request) {
		if r.Status.Terminal() {
			return
		}
		r.Status = engine.StatusAborted
		pid = r.PID
	})
	if err != nil {
		return err
	}
	if req.Status != engine.StatusAborted {
		// Already finished before this call acquired the record —
		// AbortUnknown-on-finished-record is a success no-op.
		return nil
	}
	metrics.RecordAbort()
	if pid != 0 {
		// A recorded PID means a real OS subprocess (the BLOCKING
		// lane) — kill its process group on the priority path.
		e.Pool.SubmitKill(pid)
	} else {
		// No PID means either the request is still PENDING, or it is
		// running in-process on the NON_BLOCKING lane under the
		// daemon's own PID — SubmitKill must never be used here, since
		// the daemon is typically its own process-group leader and
		// SIGTERMing it would shut down the whole engine. Cancel its
		// registered context instead; a no-op if nothing is running.
		e.Pool.CancelRequest(id)
	}
	return nil
}

// ScheduleBackground re-submits a NON_BLOCKING kind request on
// interval, forever, standing in for the original's FastAPI lifespan
// hook that seeds a recurring refresh_cluster_status_event at
// startup. Each run's return value is discarded. Callers launch it as
// a goroutine; it exits when ctx is cancelled.
func (e *Engine) ScheduleBackground(ctx context.Context, kind string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	submit := func() {
		id, err := e.ScheduleRequest(ctx, kind, kind, json.RawMessage("{}"), "", engine.ScheduleNonBlocking, true, "")
		if err != nil {
			logging.Op().Error("background request submit failed", "kind", kind, "error", err)
			return
		}
		logging.Op().Debug("background request submitted", "kind", kind, "request_id", id)
	}

	submit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			submit()
		}
	}
}

// AbortAll aborts every PENDING or RUNNING request.
func (e *Engine) AbortAll(ctx context.Context) error {
	reqs, err := e.Store.List(ctx, engine.StatusPending, engine.StatusRunning)
	if err != nil {
		return err
	}
	for _, r := range reqs {
		if err := e.Abort(ctx, r.RequestID); err != nil {
			return err
		}
	}
	return nil
}
