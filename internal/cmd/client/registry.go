package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/pkg/account"
)

// NewRegistryCommand constructs the `registry` command group.
func NewRegistryCommand(open OpenFunc) *cobra.Command {
	regCmd := &cobra.Command{
		Use:     "registry",
		Aliases: []string{"reg"},
		Short:   "Inspect and edit the set of watched accounts",
	}
	regCmd.AddCommand(
		newRegistryEditCommand(open, "add", "Register accounts (args or stdin)", "added",
			func(cmd *cobra.Command, rt *runtime.Runtime, ids []account.ID) (int, error) {
				return rt.Registry().Add(cmd.Context(), ids)
			}),
		newRegistryEditCommand(open, "remove", "Unregister accounts (args or stdin)", "removed",
			func(cmd *cobra.Command, rt *runtime.Runtime, ids []account.ID) (int, error) {
				return rt.Registry().Remove(cmd.Context(), ids)
			}),
		newRegistryListCommand(open),
		newRegistryCountCommand(open),
	)
	return regCmd
}

func newRegistryEditCommand(open OpenFunc, use, short, key string, edit func(*cobra.Command, *runtime.Runtime, []account.ID) (int, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [account...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := readIDs(cmd, args)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				n, err := edit(cmd, rt, ids)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{key: n})
			})
		},
	}
}

// newRegistryListCommand constructs the `registry list` subcommand.
func newRegistryListCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every registered account, one per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				ids, err := rt.Registry().GetAll(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

// newRegistryCountCommand constructs the `registry count` subcommand.
func newRegistryCountCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of registered accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				n, err := rt.Registry().Count(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"count": n})
			})
		},
	}
}
