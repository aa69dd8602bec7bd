// Package worker implements the Worker Pool (spec.md §4.4): the
// lane-consuming main loop that dequeues requests and drives them
// through the Child Executor.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oriys/aperture/internal/child"
	"github.com/oriys/aperture/internal/engine"
	"github.com/oriys/aperture/internal/logging"
	"github.com/oriys/aperture/internal/metrics"
	"github.com/oriys/aperture/internal/observability"
	"github.com/oriys/aperture/internal/queue"
	"github.com/oriys/aperture/internal/requestlog"
)

// Config sizes and paces the pool.
type Config struct {
	BlockingWorkers  int
	NonBlockingSlots int
	PollInterval     time.Duration
	KillGracePeriod  time.Duration
}

// killRequest is a priority-path abort job — see the dedicated
// killCh loop in Start, which resolves spec.md §9 Open Question 2
// (the kill-tree job must never queue behind ordinary blocking work).
type killRequest struct {
	PID int
}

// Pool runs the BLOCKING and NON_BLOCKING lanes.
type Pool struct {
	store    engine.Store
	q        queue.Queue
	notifier queue.Notifier
	exec     *child.Executor
	cfg      Config

	killCh chan killRequest
	stopCh chan struct{}
	wg     sync.WaitGroup

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// New constructs a Pool. Call Start to begin consuming both lanes.
func New(store engine.Store, q queue.Queue, notifier queue.Notifier, exec *child.Executor, cfg Config) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.BlockingWorkers < 1 {
		cfg.BlockingWorkers = 1
	}
	if cfg.NonBlockingSlots < 1 {
		cfg.NonBlockingSlots = 1
	}
	return &Pool{
		store:    store,
		q:        q,
		notifier: notifier,
		exec:     exec,
		cfg:      cfg,
		killCh:   make(chan killRequest, 16),
		stopCh:   make(chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start launches BlockingWorkers independent single-slot blocking
// lane workers, one non-blocking lane worker with an
// NonBlockingSlots-sized internal pool, and the dedicated kill-tree
// priority worker.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.BlockingWorkers; i++ {
		p.wg.Add(1)
		go p.runLane(ctx, queue.LaneBlocking, 1, true)
	}

	p.wg.Add(1)
	go p.runLane(ctx, queue.LaneNonBlocking, p.cfg.NonBlockingSlots, false)

	p.wg.Add(1)
	go p.runKillWorker(ctx)
}

// Stop signals every worker to exit and waits for them to drain.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// SubmitKill enqueues a kill-tree job on the dedicated priority path,
// bypassing the BLOCKING lane entirely.
func (p *Pool) SubmitKill(pid int) {
	select {
	case p.killCh <- killRequest{PID: pid}:
	default:
		go func() { p.killCh <- killRequest{PID: pid} }()
	}
}

// CancelRequest cancels the context of an in-flight NON_BLOCKING
// execution registered under id, if one is currently running. This is
// the abort path for executions that have no OS-level process to
// signal — running in-process via RunInProcess shares the daemon's
// own PID, so SubmitKill must never be used against them.
func (p *Pool) CancelRequest(id string) bool {
	p.cancelMu.Lock()
	cancel, ok := p.cancels[id]
	p.cancelMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) registerCancel(id string, cancel context.CancelFunc) {
	p.cancelMu.Lock()
	p.cancels[id] = cancel
	p.cancelMu.Unlock()
}

func (p *Pool) clearCancel(id string) {
	p.cancelMu.Lock()
	delete(p.cancels, id)
	p.cancelMu.Unlock()
}

func (p *Pool) runKillWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case kr := <-p.killCh:
			child.KillTree(kr.PID, p.cfg.KillGracePeriod)
			logging.Op().Info("kill-tree job completed", "pid", kr.PID)
		}
	}
}

// runLane implements the shared main loop described in spec.md §4.4:
// get -> sleep 100ms if empty -> discard if ABORTED -> submit to a
// slots-sized pool -> await synchronously when waitForCompletion is true, else
// continue immediately (up to slots concurrent invocations).
func (p *Pool) runLane(ctx context.Context, lane queue.QueueType, slots int, waitForCompletion bool) {
	defer p.wg.Done()

	sem := make(chan struct{}, slots)
	wake := p.notifier.Subscribe(ctx, lane)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if depth, err := p.q.Len(ctx, lane); err == nil {
			metrics.SetLaneDepth(string(lane), depth)
		}

		el, ok, err := p.q.Get(ctx, lane)
		if err != nil {
			logging.Op().Error("queue get failed", "lane", lane, "error", err)
			p.waitTick(ticker, wake)
			continue
		}
		if !ok {
			p.waitTick(ticker, wake)
			continue
		}

		req, err := p.store.Get(ctx, el.RequestID)
		if err != nil {
			logging.Op().Error("store lookup failed for dequeued request", "request_id", el.RequestID, "error", err)
			continue
		}
		if req.Status == engine.StatusAborted {
			continue
		}

		req.IgnoreReturnValue = el.IgnoreReturnValue

		select {
		case sem <- struct{}{}:
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}

		run := func() {
			defer func() { <-sem }()
			p.execute(ctx, lane, req)
		}

		if waitForCompletion {
			run()
		} else {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				run()
			}()
		}
	}
}

func (p *Pool) waitTick(ticker *time.Ticker, wake <-chan struct{}) {
	select {
	case <-p.stopCh:
	case <-ticker.C:
	case <-wake:
	}
}

// execute drives req through the Child Executor and transitions its
// record to a terminal status.
func (p *Pool) execute(ctx context.Context, lane queue.QueueType, req *engine.Request) {
	start := time.Now()

	metrics.IncWorkersBusy(string(lane))
	defer metrics.DecWorkersBusy(string(lane))

	ctx, span := observability.StartRequestSpan(ctx, "request.execute",
		observability.AttrRequestID.String(req.RequestID),
		observability.AttrEntrypoint.String(req.Entrypoint),
		observability.AttrScheduleType.String(string(req.ScheduleType)),
	)
	defer span.End()

	sc := span.SpanContext()
	traceLog := logging.Op()
	if sc.HasTraceID() {
		traceLog = logging.OpWithTrace(sc.TraceID().String(), sc.SpanID().String())
	}
	traceLog.Debug("executing request", "request_id", req.RequestID, "entrypoint", req.Entrypoint)

	bodyEnv := scopedEnv(req)

	var outcome child.Outcome
	switch lane {
	case queue.LaneBlocking:
		outcome = p.runBlocking(ctx, req, bodyEnv)
	default:
		logFile, err := os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logging.Op().Error("open log file failed", "request_id", req.RequestID, "error", err)
			logFile = nil
		} else {
			defer logFile.Close()
		}
		// NON_BLOCKING executions run in-process under the daemon's
		// own PID, so there is no OS process Abort could ever signal;
		// a per-request cancel func registered here is the only way
		// to interrupt one (see Pool.CancelRequest).
		p.markRunning(ctx, req.RequestID, 0)
		execCtx, cancel := context.WithCancel(ctx)
		p.registerCancel(req.RequestID, cancel)
		outcome = p.exec.RunInProcess(execCtx, req, bodyEnv, logFileOrDiscard(logFile))
		p.clearCancel(req.RequestID)
		cancel()
	}

	if outcome.Err != nil {
		span.RecordError(fmt.Errorf("%s", outcome.Err.Message))
	}

	p.finish(ctx, req, outcome, start)
}

func (p *Pool) runBlocking(ctx context.Context, req *engine.Request, bodyEnv map[string]string) child.Outcome {
	logFile, err := os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return child.Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: "open log file: " + err.Error()}}
	}
	defer logFile.Close()

	pid, wait, err := p.exec.Spawn(ctx, req, bodyEnv, logFile)
	if err != nil {
		return child.Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: err.Error()}}
	}
	p.markRunning(ctx, req.RequestID, pid)
	return wait()
}

func (p *Pool) markRunning(ctx context.Context, requestID string, pid int) {
	_, err := p.store.Update(ctx, requestID, func(r *engine.Request) {
		if r.Status.Terminal() {
			return
		}
		r.Status = engine.StatusRunning
		r.PID = pid
	})
	if err != nil {
		logging.Op().Error("mark running failed", "request_id", requestID, "error", err)
	}
}

func (p *Pool) finish(ctx context.Context, req *engine.Request, outcome child.Outcome, start time.Time) {
	success := outcome.Err == nil && !outcome.Aborted

	_, err := p.store.Update(ctx, req.RequestID, func(r *engine.Request) {
		if r.Status == engine.StatusAborted {
			return
		}
		switch {
		case outcome.Aborted:
			r.Status = engine.StatusAborted
		case outcome.Err != nil:
			r.Status = engine.StatusFailed
			r.Error = outcome.Err
		default:
			r.Status = engine.StatusSucceeded
			if !r.IgnoreReturnValue {
				r.ReturnValue = outcome.ReturnValue
			}
		}
	})
	if err != nil {
		logging.Op().Error("finish transition failed", "request_id", req.RequestID, "error", err)
	}

	durationMs := time.Since(start).Milliseconds()
	entry := requestlog.Entry{
		RequestID:  req.RequestID,
		Name:       req.Name,
		Entrypoint: req.Entrypoint,
		DurationMs: durationMs,
		Success:    success,
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Message
	}
	requestlog.Default().Log(entry)

	status := "succeeded"
	switch {
	case outcome.Aborted:
		status = "aborted"
	case outcome.Err != nil:
		status = "failed"
	}
	metrics.RecordInvocation(req.Entrypoint, string(req.ScheduleType), status, durationMs)

	_ = p.notifier.Notify(ctx, queue.QueueStream)
}

func logFileOrDiscard(f *os.File) *os.File {
	return f
}

// scopedEnv builds the per-request environment overrides applied to a
// child execution: the request body's own env_vars, its (already
// server-sanitized) config-override dict re-serialized for the
// entrypoint to read, and the submitting identity — spec.md §4.5 step
// 4's "environment map ... user identity, and config-override dict".
func scopedEnv(req *engine.Request) map[string]string {
	var wrapper struct {
		EnvVars                map[string]string `json:"env_vars"`
		OverrideSkyPilotConfig map[string]any    `json:"override_skypilot_config"`
	}
	if len(req.RequestBody) > 0 {
		_ = json.Unmarshal(req.RequestBody, &wrapper)
	}

	env := make(map[string]string, len(wrapper.EnvVars)+2)
	for k, v := range wrapper.EnvVars {
		env[k] = v
	}
	if len(wrapper.OverrideSkyPilotConfig) > 0 {
		if data, err := json.Marshal(wrapper.OverrideSkyPilotConfig); err == nil {
			env["SKYPILOT_CONFIG_OVERRIDE"] = string(data)
		}
	}
	if req.UserID != "" {
		env["SKYPILOT_USER_ID"] = req.UserID
	}
	return env
}
