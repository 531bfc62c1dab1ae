// Package cli implements dispatchctl, a command line client for the
// dispatcher HTTP API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type options struct {
	server  string
	timeout time.Duration
}

// NewRootCmd builds the dispatchctl command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Queue scrape jobs and inspect the session pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("DISPATCHER_URL")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Dispatcher API base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 6*time.Minute, "Request timeout")

	rootCmd.AddCommand(
		enqueueCmd(opts),
		batchCmd(opts),
		statusCmd(opts),
		poolCmd(opts),
		slotCmd(opts),
		rotateCmd(opts),
	)
	return rootCmd
}

// Execute runs the command tree with the process arguments
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func enqueueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <username>",
		Short: "Queue a job and wait for its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.UserVideos(ctx, args[0])
			})
		},
	}
}

func batchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <username>...",
		Short: "Queue one job per username without waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.Batch(ctx, args)
			})
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job's status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.Job(ctx, args[0])
			})
		},
	}
}

func poolCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show queue counts and every session slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.Queue(ctx)
			})
		},
	}
}

func slotCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "slot <index>",
		Short: "Show one session slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.Session(ctx, slot)
			})
		},
	}
}

func rotateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <index>",
		Short: "Replace an idle slot's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, c *Client) (json.RawMessage, error) {
				return c.Rotate(ctx, slot)
			})
		},
	}
}

func parseSlot(arg string) (int, error) {
	slot, err := strconv.Atoi(arg)
	if err != nil || slot < 0 {
		return 0, fmt.Errorf("invalid slot index %q", arg)
	}
	return slot, nil
}

func run(cmd *cobra.Command, opts *options, call func(context.Context, *Client) (json.RawMessage, error)) error {
	client := NewClient(opts.server, opts.timeout)

	body, err := call(cmd.Context(), client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), body)
}

func printJSON(w io.Writer, body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = w.Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
