package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/aperture/internal/api"
	"github.com/oriys/aperture/internal/engine"
)

// launchBody mirrors the original's LaunchBody: a cluster name plus a
// task spec blob the engine treats opaquely.
type launchBody struct {
	api.CommonBody
	ClusterName string         `json:"cluster_name"`
	TaskConfig  map[string]any `json:"task_config"`
}

type execBody struct {
	api.CommonBody
	ClusterName string `json:"cluster_name"`
	Command     string `json:"command"`
}

type statusBody struct {
	ClusterNames []string `json:"cluster_names,omitempty"`
	Refresh      bool     `json:"refresh,omitempty"`
}

type stopOrDownBody struct {
	ClusterName string `json:"cluster_name"`
	Purge       bool   `json:"purge,omitempty"`
}

type queueBody struct {
	ClusterName string `json:"cluster_name"`
	Refresh     bool   `json:"refresh,omitempty"`
}

type logsBody struct {
	ClusterName string `json:"cluster_name"`
	JobID       int    `json:"job_id,omitempty"`
	Follow      bool   `json:"follow,omitempty"`
}

// registerEntrypoints binds the illustrative domain operations named
// in rest.py (launch, exec, status, down, queue, logs) to registry
// kinds, following the (name, entrypoint kind, schedule_type)
// parameterization spec.md §6 describes. These handlers simulate the
// corresponding cluster operations rather than driving a real cloud
// backend — the engine's scope is the execution plane, not the
// backends themselves.
func registerEntrypoints(reg *engine.Registry) []api.Operation {
	reg.Register("cluster.launch", handleLaunch)
	reg.Register("cluster.exec", handleExec)
	reg.Register("cluster.status", handleStatus)
	reg.Register("cluster.down", handleDown)
	reg.Register("cluster.queue", handleQueue)
	reg.Register("cluster.logs", handleLogs)
	reg.Register("housekeeping.sweep", handleHousekeepingSweep)

	return []api.Operation{
		{Name: "launch", Entrypoint: "cluster.launch", ScheduleType: engine.ScheduleBlocking},
		{Name: "exec", Entrypoint: "cluster.exec", ScheduleType: engine.ScheduleBlocking},
		{Name: "status", Entrypoint: "cluster.status", ScheduleType: engine.ScheduleNonBlocking},
		{Name: "down", Entrypoint: "cluster.down", ScheduleType: engine.ScheduleBlocking},
		{Name: "queue", Entrypoint: "cluster.queue", ScheduleType: engine.ScheduleNonBlocking},
		{Name: "logs", Entrypoint: "cluster.logs", ScheduleType: engine.ScheduleBlocking},
	}
}

func handleLaunch(ctx context.Context, body json.RawMessage) (any, error) {
	var b launchBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, engine.NewClassifiedError("ValueError", "decode launch body: %v", err)
	}
	if b.ClusterName == "" {
		return nil, engine.NewClassifiedError("ValueError", "cluster_name is required")
	}
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{
		"cluster_name": b.ClusterName,
		"status":       "UP",
	}, nil
}

func handleExec(ctx context.Context, body json.RawMessage) (any, error) {
	var b execBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, engine.NewClassifiedError("ValueError", "decode exec body: %v", err)
	}
	if b.ClusterName == "" || b.Command == "" {
		return nil, engine.NewClassifiedError("ValueError", "cluster_name and command are required")
	}
	return map[string]any{
		"cluster_name": b.ClusterName,
		"job_id":       1,
	}, nil
}

func handleStatus(ctx context.Context, body json.RawMessage) (any, error) {
	var b statusBody
	_ = json.Unmarshal(body, &b)
	return map[string]any{
		"clusters": b.ClusterNames,
		"refresh":  b.Refresh,
	}, nil
}

func handleDown(ctx context.Context, body json.RawMessage) (any, error) {
	var b stopOrDownBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, engine.NewClassifiedError("ValueError", "decode down body: %v", err)
	}
	if b.ClusterName == "" {
		return nil, engine.NewClassifiedError("ValueError", "cluster_name is required")
	}
	return map[string]any{
		"cluster_name": b.ClusterName,
		"status":       "TERMINATED",
	}, nil
}

func handleQueue(ctx context.Context, body json.RawMessage) (any, error) {
	var b queueBody
	_ = json.Unmarshal(body, &b)
	return map[string]any{
		"cluster_name": b.ClusterName,
		"jobs":         []any{},
	}, nil
}

func handleLogs(ctx context.Context, body json.RawMessage) (any, error) {
	var b logsBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, engine.NewClassifiedError("ValueError", "decode logs body: %v", err)
	}
	if b.ClusterName == "" {
		return nil, engine.NewClassifiedError("ValueError", "cluster_name is required")
	}
	return map[string]any{
		"cluster_name": b.ClusterName,
		"job_id":       b.JobID,
	}, nil
}

// handleHousekeepingSweep is the one illustrative background kind: a
// NON_BLOCKING request that does nothing user-visible, standing in
// for the original's periodic refresh_cluster_status_event.
func handleHousekeepingSweep(ctx context.Context, body json.RawMessage) (any, error) {
	return map[string]any{"swept_at": time.Now().UTC().Format(time.RFC3339)}, nil
}
