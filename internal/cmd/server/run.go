package serverrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"

	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/dispatcher"
	"github.com/rzbill/pulse/internal/metrics"
	"github.com/rzbill/pulse/internal/runtime"
	grpcserver "github.com/rzbill/pulse/internal/server/grpc"
	httpserver "github.com/rzbill/pulse/internal/server/http"
	"github.com/rzbill/pulse/internal/worker"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Options selects what the process runs. Exactly one of Dispatch and Worker
// must be set.
type Options struct {
	Config   cfgpkg.Config
	Logger   logpkg.Logger
	Dispatch *DispatchOptions
	Worker   *WorkerOptions
	// Runtime overrides opening a runtime from Config. Run does not close it.
	Runtime *runtime.Runtime
}

// DispatchOptions configures a dispatcher process.
type DispatchOptions struct {
	// Queue overrides the configured dispatcher queue.
	Queue string
	// Once runs a single cycle and returns.
	Once bool
	// OnResult receives the result of every cycle run by Once.
	OnResult func(dispatcher.Result)
}

// WorkerOptions configures a worker process.
type WorkerOptions struct {
	Role  worker.Role
	Queue string
}

// Run opens the runtime, starts the ops servers and runs the selected loop
// until ctx is cancelled or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, opts Options) error {
	if (opts.Dispatch == nil) == (opts.Worker == nil) {
		return errors.New("exactly one of dispatch or worker must be selected")
	}
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}

	rt := opts.Runtime
	if rt == nil {
		var err error
		rt, err = runtime.Open(sctx, runtime.Options{Config: opts.Config, Logger: logger, Metrics: metrics.New()})
		if err != nil {
			return err
		}
		defer rt.Close()
	}
	cfg := rt.Config()

	if d := opts.Dispatch; d != nil && d.Once {
		disp, err := rt.Dispatcher(sctx, d.Queue)
		if err != nil {
			return err
		}
		res, err := disp.RunOnce(sctx)
		if d.OnResult != nil {
			d.OnResult(res)
		}
		return err
	}

	// Ops servers live until the main loop returns.
	opsCtx, stopOps := context.WithCancel(sctx)
	var wg sync.WaitGroup
	if addr := cfg.Metrics.Addr; addr != "" {
		hsrv := httpserver.New(rt, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(opsCtx, addr); err != nil && opsCtx.Err() == nil {
				logger.Error("http server failed", logpkg.Err(err))
			}
		}()
	}
	if addr := cfg.Metrics.GRPCAddr; addr != "" {
		gsrv := grpcserver.New(rt, 0, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gsrv.ListenAndServe(opsCtx, addr); err != nil && opsCtx.Err() == nil {
				logger.Error("grpc server failed", logpkg.Err(err))
			}
		}()
	}

	var result *multierror.Error
	if err := runLoop(sctx, rt, opts, logger); err != nil {
		result = multierror.Append(result, err)
	}
	stopOps()
	wg.Wait()
	return result.ErrorOrNil()
}

func runLoop(ctx context.Context, rt *runtime.Runtime, opts Options, logger logpkg.Logger) error {
	if d := opts.Dispatch; d != nil {
		disp, err := rt.Dispatcher(ctx, d.Queue)
		if err != nil {
			return err
		}
		logger.Info("starting dispatcher", logpkg.Str("queue", queueName(d.Queue, rt.Config().Dispatcher.Queue)))
		return disp.Run(ctx)
	}

	w := opts.Worker
	wrt, err := rt.Worker(ctx, w.Role, w.Queue)
	if err != nil {
		return err
	}
	logger.Info("starting worker",
		logpkg.Str("role", string(w.Role)),
		logpkg.Str("queue", queueName(w.Queue, w.Role.Queue())),
		logpkg.Str("consumer", wrt.Consumer()),
	)
	if err := wrt.Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", w.Role, err)
	}
	return nil
}

func queueName(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
