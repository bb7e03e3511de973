// Package serverrun exposes the Run entrypoint the CLI uses to start a
// long-running pulse process, either a dispatcher or a worker, together with
// its ops servers, handling lifecycle and shutdown.
//
// Example:
//
//	opts := serverrun.Options{Config: cfg, Logger: logger, Worker: &serverrun.WorkerOptions{Role: worker.RoleIntake}}
//	_ = serverrun.Run(ctx, opts)
package serverrun
