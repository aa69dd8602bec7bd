package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/aperture/internal/child"
	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/queue"
)

func newTestPool(t *testing.T, reg *engine.Registry) (*Pool, engine.Store, queue.Queue) {
	t.Helper()
	store := engine.NewMemStore(t.TempDir())
	q := queue.NewMemQueue()
	notifier := queue.NewChannelNotifier()
	t.Cleanup(func() { notifier.Close() })

	exec := child.New(reg, child.Config{BinPath: "/bin/true", GracePeriod: time.Second})
	pool := New(store, q, notifier, exec, Config{
		BlockingWorkers:  1,
		NonBlockingSlots: 2,
		PollInterval:     20 * time.Millisecond,
		KillGracePeriod:  time.Second,
	})
	return pool, store, q
}

func TestPool_NonBlockingLane_ExecutesAndTransitions(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("test.sum", func(_ context.Context, body json.RawMessage) (any, error) {
		var args struct{ A, B int }
		_ = json.Unmarshal(body, &args)
		return args.A + args.B, nil
	})

	pool, store, q := newTestPool(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	req := &engine.Request{
		RequestID:    "r1",
		Entrypoint:   "test.sum",
		RequestBody:  json.RawMessage(`{"A":2,"B":3}`),
		Status:       engine.StatusPending,
		ScheduleType: engine.ScheduleNonBlocking,
	}
	if _, err := store.CreateIfNotExists(ctx, req); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}
	if err := q.Put(ctx, queue.LaneNonBlocking, queue.Element{RequestID: "r1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != engine.StatusSucceeded {
				t.Fatalf("status = %v, want SUCCEEDED (error=%v)", got.Status, got.Error)
			}
			var sum int
			if err := json.Unmarshal(got.ReturnValue, &sum); err != nil || sum != 5 {
				t.Fatalf("return value = %s, want 5", got.ReturnValue)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for request to complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPool_AbortedRequestDiscardedAtDequeue(t *testing.T) {
	var called int32
	reg := engine.NewRegistry()
	reg.Register("test.noop", func(context.Context, json.RawMessage) (any, error) {
		atomic.AddInt32(&called, 1)
		return nil, nil
	})

	pool, store, q := newTestPool(t, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	req := &engine.Request{RequestID: "r2", Entrypoint: "test.noop", Status: engine.StatusPending, ScheduleType: engine.ScheduleNonBlocking}
	if _, err := store.CreateIfNotExists(ctx, req); err != nil {
		t.Fatalf("CreateIfNotExists: %v", err)
	}
	if _, err := store.Update(ctx, "r2", func(r *engine.Request) { r.Status = engine.StatusAborted }); err != nil {
		t.Fatalf("Update to ABORTED: %v", err)
	}
	if err := q.Put(ctx, queue.LaneNonBlocking, queue.Element{RequestID: "r2"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if atomic.LoadInt32(&called) != 0 {
		t.Fatal("handler invoked for an ABORTED record; it must be discarded at dequeue")
	}
	got, err := store.Get(ctx, "r2")
	if err != nil || got.Status != engine.StatusAborted {
		t.Fatalf("record status = %v, %v, want still ABORTED", got, err)
	}
}

func TestPool_SubmitKill_NonBlocking(t *testing.T) {
	reg := engine.NewRegistry()
	pool, _, _ := newTestPool(t, reg)

	pool.SubmitKill(999999)
	select {
	case kr := <-pool.killCh:
		if kr.PID != 999999 {
			t.Fatalf("PID = %d, want 999999", kr.PID)
		}
	case <-time.After(time.Second):
		t.Fatal("SubmitKill did not enqueue onto killCh")
	}
}
