package client

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rzbill/pulse/internal/runtime"
)

// OpenFunc opens the runtime a command operates on. Commands close it.
type OpenFunc func(ctx context.Context) (*runtime.Runtime, error)

// AddCommands registers the registry, queue and health command groups on root.
func AddCommands(root *cobra.Command, open OpenFunc) {
	root.AddCommand(
		NewRegistryCommand(open),
		NewQueueCommand(open),
		NewHealthCommand(),
	)
}

// withRuntime opens a runtime for the duration of fn.
func withRuntime(ctx context.Context, open OpenFunc, fn func(*runtime.Runtime) error) error {
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(rt)
}
