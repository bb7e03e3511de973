package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/pulse/internal/runtime"
	"github.com/rzbill/pulse/internal/workqueue"
	"github.com/rzbill/pulse/pkg/account"
)

// NewQueueCommand constructs the `queue` command group and subcommands.
func NewQueueCommand(open OpenFunc) *cobra.Command {
	qCmd := &cobra.Command{
		Use:     "queue",
		Aliases: []string{"q"},
		Short:   "Queue operations",
		Long: `Queue operations on the named queues (add, check, remove, ...).

Lifecycle:
  publish → outstanding → [dequeue] → in flight → [ack] → gone
  at-most-once queues drop the outstanding mark on dequeue; at-least-once
  queues keep it until the item is acked or dead-lettered.

Commands:
  publish   Queue accounts not already outstanding (args or stdin)
  dequeue   Take items as a consumer, optionally acking them
  stats     Backlog, outstanding and unacked counts
  pending   Delivered, unacked entries (at-least-once only)
  dead      Dead-lettered accounts (at-least-once only)`,
	}
	qCmd.PersistentFlags().String("queue", "check", "Queue name")
	qCmd.AddCommand(
		newQueuePublishCommand(open),
		newQueueDequeueCommand(open),
		newQueueStatsCommand(open),
		newQueuePendingCommand(open),
		newQueueDeadCommand(open),
	)
	return qCmd
}

func queueFor(cmd *cobra.Command, rt *runtime.Runtime) (workqueue.Queue, error) {
	name, _ := cmd.Flags().GetString("queue")
	return rt.Queue(cmd.Context(), name)
}

func ackQueueFor(cmd *cobra.Command, rt *runtime.Runtime) (*workqueue.AckQueue, error) {
	q, err := queueFor(cmd, rt)
	if err != nil {
		return nil, err
	}
	aq, ok := q.(*workqueue.AckQueue)
	if !ok {
		return nil, fmt.Errorf("queue %s is %s; only at-least-once queues track deliveries", q.Name(), q.Mode())
	}
	return aq, nil
}

// newQueuePublishCommand constructs the `queue publish` subcommand.
func newQueuePublishCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [account...]",
		Short: "Publish accounts to a queue (args or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := readIDs(cmd, args)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				q, err := queueFor(cmd, rt)
				if err != nil {
					return err
				}
				appended, err := q.Publish(cmd.Context(), ids)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"requested": len(ids),
					"appended":  account.Strings(appended),
				})
			})
		},
	}
}

type itemOut struct {
	Account string `json:"account"`
	EntryID string `json:"entryId,omitempty"`
}

// newQueueDequeueCommand constructs the `queue dequeue` subcommand.
func newQueueDequeueCommand(open OpenFunc) *cobra.Command {
	dqCmd := &cobra.Command{
		Use:   "dequeue",
		Short: "Dequeue items as a consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			consumer, _ := cmd.Flags().GetString("consumer")
			maxItems, _ := cmd.Flags().GetInt("max")
			blockMs, _ := cmd.Flags().GetInt("block-ms")
			ack, _ := cmd.Flags().GetBool("ack")
			if blockMs < 0 || time.Duration(blockMs)*time.Millisecond > 60*time.Second {
				return fmt.Errorf("--block-ms must be within [0, 60000]")
			}

			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				q, err := queueFor(cmd, rt)
				if err != nil {
					return err
				}
				items, err := q.Dequeue(cmd.Context(), consumer, maxItems, time.Duration(blockMs)*time.Millisecond)
				if err != nil {
					return err
				}
				acked := 0
				if ack && len(items) > 0 {
					if acked, err = q.Ack(cmd.Context(), items); err != nil {
						return err
					}
				}
				out := make([]itemOut, len(items))
				for i, it := range items {
					out[i] = itemOut{Account: it.Account.String(), EntryID: it.EntryID}
				}
				return printJSON(cmd, map[string]any{"items": out, "acked": acked})
			})
		},
	}
	dqCmd.Flags().String("consumer", "cli", "Consumer name within the queue's group")
	dqCmd.Flags().Int("max", 10, "Maximum items to take")
	dqCmd.Flags().Int("block-ms", 0, "Wait up to this long for items (at-least-once only)")
	dqCmd.Flags().Bool("ack", false, "Acknowledge the items right away")
	return dqCmd
}

// newQueueStatsCommand constructs the `queue stats` subcommand.
func newQueueStatsCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Get queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				q, err := queueFor(cmd, rt)
				if err != nil {
					return err
				}
				st, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"queue":       q.Name(),
					"mode":        q.Mode(),
					"backlog":     st.Backlog,
					"outstanding": st.Outstanding,
					"unacked":     st.Unacked,
				})
			})
		},
	}
}

type pendingOut struct {
	EntryID    string `json:"entryId"`
	Consumer   string `json:"consumer"`
	IdleMs     int64  `json:"idleMs"`
	Deliveries int64  `json:"deliveries"`
}

// newQueuePendingCommand constructs the `queue pending` subcommand.
func newQueuePendingCommand(open OpenFunc) *cobra.Command {
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List delivered, unacknowledged entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				aq, err := ackQueueFor(cmd, rt)
				if err != nil {
					return err
				}
				entries, err := aq.Pending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := make([]pendingOut, len(entries))
				for i, p := range entries {
					out[i] = pendingOut{EntryID: p.ID, Consumer: p.Consumer, IdleMs: p.Idle.Milliseconds(), Deliveries: p.Deliveries}
				}
				return printJSON(cmd, out)
			})
		},
	}
	pendingCmd.Flags().Int("limit", 100, "Maximum entries to list")
	return pendingCmd
}

// newQueueDeadCommand constructs the `queue dead` subcommand.
func newQueueDeadCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), open, func(rt *runtime.Runtime) error {
				aq, err := ackQueueFor(cmd, rt)
				if err != nil {
					return err
				}
				ids, err := aq.DeadLettered(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, account.Strings(ids))
			})
		},
	}
}
