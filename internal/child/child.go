// Package child implements the Child Executor (spec.md §4.5): the
// component that actually invokes a request's entrypoint and
// transitions its record to a terminal status.
//
// Two execution strategies are used, chosen by lane:
//
//   - BLOCKING requests spawn a genuine OS subprocess (self-exec of
//     the same binary's hidden "run-request" subcommand), so they get
//     their own clean-slate environment automatically and can be
//     killed at the OS level by signaling their process group. This
//     mirrors the original's use of a fresh multiprocessing.Process
//     per request.
//   - NON_BLOCKING requests run the registered handler in-process,
//     inside the calling goroutine, under a scoped EnvGuard — these
//     are meant to be small, frequent operations where subprocess
//     spawn overhead would dominate.
package child

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oriys/aperture/internal/engine"
)

// Config controls Child Executor behavior.
type Config struct {
	// BinPath is the executable re-exec'd for BLOCKING requests; the
	// daemon passes its own path as reported by os.Executable().
	BinPath string
	// ForcedEnv is applied after the request body's own env_vars,
	// the way the original forces CLICOLOR_FORCE=1 into every child.
	ForcedEnv map[string]string
	// GracePeriod is how long a BLOCKING subprocess has to exit after
	// SIGTERM before SIGKILL is sent.
	GracePeriod time.Duration
}

// Executor runs request entrypoints.
type Executor struct {
	registry *engine.Registry
	cfg      Config
}

// New returns an Executor dispatching through registry.
func New(registry *engine.Registry, cfg Config) *Executor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Executor{registry: registry, cfg: cfg}
}

// Outcome is the terminal result of one entrypoint invocation.
type Outcome struct {
	ReturnValue json.RawMessage
	Err         *engine.Error
	Aborted     bool
}

func (e *Executor) mergedEnv(bodyEnv map[string]string) map[string]string {
	merged := make(map[string]string, len(bodyEnv)+len(e.cfg.ForcedEnv))
	for k, v := range bodyEnv {
		merged[k] = v
	}
	for k, v := range e.cfg.ForcedEnv {
		merged[k] = v
	}
	return merged
}

// RunInProcess executes req's entrypoint directly in the calling
// goroutine under a scoped EnvGuard — the NON_BLOCKING path.
func (e *Executor) RunInProcess(ctx context.Context, req *engine.Request, bodyEnv map[string]string, logFile io.Writer) (outcome Outcome) {
	handler, ok := e.registry.Lookup(req.Entrypoint)
	if !ok {
		return Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("unknown entrypoint kind %q", req.Entrypoint)}}
	}

	guard := AcquireEnv(e.mergedEnv(bodyEnv))
	defer guard.Release()

	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{Err: &engine.Error{
				Message:    fmt.Sprintf("panic: %v", r),
				Stacktrace: string(debug.Stack()),
			}}
		}
	}()

	result, err := handler(ctx, req.RequestBody)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Aborted: true}
		}
		fmt.Fprintf(logFile, "error: %v\n", err)
		kind, message := engine.ClassifyError(err)
		return Outcome{Err: &engine.Error{Kind: kind, Message: message, Stacktrace: string(debug.Stack())}}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("marshal return value: %v", err), Stacktrace: string(debug.Stack())}}
	}
	return Outcome{ReturnValue: data}
}

// childPayload is what the parent sends the subprocess on stdin.
type childPayload struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// childResult is what the subprocess sends back over its result pipe.
type childResult struct {
	ReturnValue json.RawMessage `json:"return_value,omitempty"`
	Error       *engine.Error   `json:"error,omitempty"`
}

// Spawn starts req's entrypoint as a subprocess — the BLOCKING path.
// It returns the subprocess PID as soon as it is known (so the caller
// can persist it immediately) and a Wait function that blocks for the
// final Outcome, honoring ctx cancellation by sending SIGTERM then,
// after GracePeriod, SIGKILL to the whole process group.
func (e *Executor) Spawn(ctx context.Context, req *engine.Request, bodyEnv map[string]string, logFile *os.File) (pid int, wait func() Outcome, err error) {
	payload, err := json.Marshal(childPayload{Kind: req.Entrypoint, Body: req.RequestBody})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal child payload: %w", err)
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return 0, nil, fmt.Errorf("create result pipe: %w", err)
	}

	cmd := exec.Command(e.cfg.BinPath, "run-request")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.ExtraFiles = []*os.File{resultW}
	cmd.Env = buildChildEnv(e.mergedEnv(bodyEnv))
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		resultR.Close()
		resultW.Close()
		return 0, nil, fmt.Errorf("start child process: %w", err)
	}
	resultW.Close()

	pid = cmd.Process.Pid

	wait = func() Outcome {
		type waitResult struct {
			data []byte
			err  error
		}

		readDone := make(chan waitResult, 1)
		go func() {
			data, err := io.ReadAll(resultR)
			readDone <- waitResult{data: data, err: err}
		}()

		waitDone := make(chan error, 1)
		go func() { waitDone <- cmd.Wait() }()

		var rr waitResult
		var werr error
		var aborted bool

		select {
		case <-ctx.Done():
			aborted = true
			terminateProcessGroup(pid, e.cfg.GracePeriod)
			<-waitDone
			rr = <-readDone
		case werr = <-waitDone:
			rr = <-readDone
		}

		if aborted {
			return Outcome{Aborted: true}
		}
		if werr != nil {
			return Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("child process exited abnormally: %v", werr)}}
		}
		if rr.err != nil || len(bytesTrim(rr.data)) == 0 {
			return Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: "child process produced no result"}}
		}

		var cr childResult
		if err := json.Unmarshal(rr.data, &cr); err != nil {
			return Outcome{Err: &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("child process returned malformed result: %v", err)}}
		}
		if cr.Error != nil {
			return Outcome{Err: cr.Error}
		}
		return Outcome{ReturnValue: cr.ReturnValue}
	}

	return pid, wait, nil
}

func bytesTrim(b []byte) []byte {
	return bytes.TrimSpace(b)
}

// WriteResult is used by the "run-request" subcommand to send its
// outcome back to the parent over fd 3.
func WriteResult(w io.Writer, returnValue json.RawMessage, execErr *engine.Error) error {
	data, err := json.Marshal(childResult{ReturnValue: returnValue, Error: execErr})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DecodePayload reads the subprocess's stdin payload.
func DecodePayload(r io.Reader) (kind string, body json.RawMessage, err error) {
	var p childPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return "", nil, fmt.Errorf("decode child payload: %w", err)
	}
	return p.Kind, p.Body, nil
}

func buildChildEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

var killMu sync.Mutex

func terminateProcessGroup(pid int, grace time.Duration) {
	killMu.Lock()
	defer killMu.Unlock()
	_ = unix.Kill(-pid, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			if err := unix.Kill(pid, 0); err != nil {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(grace):
		_ = unix.Kill(-pid, unix.SIGKILL)
	}
}

// KillTree sends SIGTERM then, after grace, SIGKILL to pid's process
// group. Used by the abort handler's dedicated priority path.
func KillTree(pid int, grace time.Duration) {
	terminateProcessGroup(pid, grace)
}

// IsAlive reports whether pid still refers to a live process, used by
// the reaper to detect orphaned RUNNING records.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
