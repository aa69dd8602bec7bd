package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/aperture/internal/child"
	"github.com/oriys/aperture/internal/engine"
)

// runRequestCmd is the hidden subcommand the Child Executor's BLOCKING
// path self-execs into (internal/child.Spawn). It reads a childPayload
// from stdin, looks up the entrypoint in the same registry the daemon
// builds, runs it to completion honoring SIGTERM as a cancellation
// signal, and writes its outcome to fd 3.
func runRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run-request",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultFile := os.NewFile(3, "result")
			if resultFile == nil {
				return fmt.Errorf("fd 3 (result pipe) not open")
			}
			defer resultFile.Close()

			kind, body, err := child.DecodePayload(os.Stdin)
			if err != nil {
				return child.WriteResult(resultFile, nil, &engine.Error{Kind: "RuntimeError", Message: err.Error(), Stacktrace: string(debug.Stack())})
			}

			reg := engine.NewRegistry()
			registerEntrypoints(reg)

			handler, ok := reg.Lookup(kind)
			if !ok {
				return child.WriteResult(resultFile, nil, &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("unknown entrypoint kind %q", kind)})
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			result, err := handler(ctx, body)
			if err != nil {
				kind, message := engine.ClassifyError(err)
				return child.WriteResult(resultFile, nil, &engine.Error{Kind: kind, Message: message, Stacktrace: string(debug.Stack())})
			}

			data, err := json.Marshal(result)
			if err != nil {
				return child.WriteResult(resultFile, nil, &engine.Error{Kind: "RuntimeError", Message: fmt.Sprintf("marshal return value: %v", err), Stacktrace: string(debug.Stack())})
			}
			return child.WriteResult(resultFile, data, nil)
		},
	}
}
