package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/pulse/internal/cmd/client"
	serverrun "github.com/rzbill/pulse/internal/cmd/server"
	cfgpkg "github.com/rzbill/pulse/internal/config"
	"github.com/rzbill/pulse/internal/dispatcher"
	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/internal/worker"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// app carries state resolved by the root command before any subcommand runs.
type app struct {
	cfg    cfgpkg.Config
	logger logpkg.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Account re-evaluation queueing",
		Long: `pulse keeps a registry of watched accounts and fans it out to work
queues on a shared store. Dispatchers publish the registry periodically;
workers consume the add, check and remove queues.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.String("config", os.Getenv("PULSE_CONFIG"), "Config file (.json, .yaml, .toml)")
	pf.StringSlice("env-file", nil, "Dotenv files to load (default .env when present)")
	pf.String("store-url", "", "Redis URL (redis backend)")
	pf.String("store-backend", "", "Store backend: redis|embedded")
	pf.String("data-dir", "", "Data directory for the embedded backend")
	pf.String("log-level", "", "Log level: debug|info|warn|error")
	pf.String("log-format", "", "Log format: text|json")
	pf.String("metrics-addr", "", "HTTP ops listen address (/metrics, /healthz)")
	pf.String("grpc-addr", "", "gRPC health listen address")

	rootCmd.AddCommand(a.dispatchCommand(), a.workerCommand())
	clientcmd.AddCommands(rootCmd, a.open)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// load layers defaults, dotenv, the config file, PULSE_* variables and
// flags, then builds the process logger.
func (a *app) load(cmd *cobra.Command) error {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	if err := cfgpkg.LoadDotEnv(envFiles...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return err
	}
	cfgpkg.FromEnv(&cfg)

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"store-url", &cfg.Store.URL},
		{"store-backend", &cfg.Store.Backend},
		{"data-dir", &cfg.Store.DataDir},
		{"log-level", &cfg.Log.Level},
		{"log-format", &cfg.Log.Format},
		{"metrics-addr", &cfg.Metrics.Addr},
		{"grpc-addr", &cfg.Metrics.GRPCAddr},
	}
	for _, o := range overrides {
		if v, _ := cmd.Flags().GetString(o.flag); v != "" {
			*o.dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	// Redirect standard library logs to our logger
	logpkg.RedirectStdLog(logger)

	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) open(ctx context.Context) (*runtime.Runtime, error) {
	return runtime.Open(ctx, runtime.Options{Config: a.cfg, Logger: a.logger})
}

func (a *app) dispatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Publish the registry to a queue, periodically or once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, _ := cmd.Flags().GetString("queue")
			once, _ := cmd.Flags().GetBool("once")
			return serverrun.Run(cmd.Context(), serverrun.Options{
				Config: a.cfg,
				Logger: a.logger,
				Dispatch: &serverrun.DispatchOptions{
					Queue: queue,
					Once:  once,
					OnResult: func(r dispatcher.Result) {
						fmt.Fprintf(cmd.OutOrStdout(), "published %d accounts out of %d\n", r.Appended, r.Read)
					},
				},
			})
		},
	}
	cmd.Flags().String("queue", "", "Target queue (default from config)")
	cmd.Flags().Bool("once", false, "Run a single cycle and exit")
	return cmd
}

func (a *app) workerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume a queue with the handler for a role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			roleName, _ := cmd.Flags().GetString("role")
			role, err := worker.ParseRole(roleName)
			if err != nil {
				return err
			}
			queue, _ := cmd.Flags().GetString("queue")
			cfg := a.cfg
			if consumer, _ := cmd.Flags().GetString("consumer"); consumer != "" {
				cfg.Worker.Consumer = consumer
			}
			return serverrun.Run(cmd.Context(), serverrun.Options{
				Config: cfg,
				Logger: a.logger,
				Worker: &serverrun.WorkerOptions{Role: role, Queue: queue},
			})
		},
	}
	cmd.Flags().String("role", "", "Role: intake|recheck|evict")
	cmd.Flags().String("queue", "", "Queue override (default: add, check or remove by role)")
	cmd.Flags().String("consumer", "", "Consumer name (default <hostname>-<random>)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
