// flowctl is a command-line client for a running flowd supervisor. It wraps
// the client library: run and submit go to the execution endpoint, the rest
// query the control endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkonduru/flowd/pkg/client"
)

var (
	execEndpoint    string
	controlEndpoint string
	timeout         time.Duration
	inputJSON       string
)

func main() {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Invoke and inspect workflows on a flowd supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&execEndpoint, "endpoint", "http://127.0.0.1:8080", "execution endpoint base URL")
	root.PersistentFlags().StringVar(&controlEndpoint, "control", "http://127.0.0.1:9090", "control endpoint base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall request timeout")

	runCmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Invoke a workflow and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&inputJSON, "input", "{}", "workflow input as a JSON object")

	submitCmd := &cobra.Command{
		Use:   "submit <workflow>",
		Short: "Submit a workflow for background execution and print its invocation ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&inputJSON, "input", "{}", "workflow input as a JSON object")

	root.AddCommand(
		runCmd,
		submitCmd,
		&cobra.Command{
			Use:   "workflows [name]",
			Short: "List registered workflows, or show one by name",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runWorkflows,
		},
		&cobra.Command{
			Use:   "invocations [id]",
			Short: "List invocation history, or show one invocation by ID",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runInvocations,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show aggregate invocation statistics",
			Args:  cobra.NoArgs,
			RunE:  runStats,
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check whether the supervisor is accepting work",
			Args:  cobra.NoArgs,
			RunE:  runHealth,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowctl: %v\n", err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, error) {
	return client.New(client.Config{
		Mode:            client.ModeRemote,
		Endpoint:        execEndpoint,
		ControlEndpoint: controlEndpoint,
	})
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func parseInput() (map[string]any, error) {
	var input map[string]any
	if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
		return nil, fmt.Errorf("--input must be a JSON object: %w", err)
	}
	return input, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRun(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	input, err := parseInput()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	output, err := c.Run(ctx, args[0], input)
	if err != nil {
		return err
	}
	return printJSON(output)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	input, err := parseInput()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	id, err := c.Submit(ctx, args[0], input)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if len(args) == 1 {
		info, err := c.Workflow(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(info)
	}

	workflows, err := c.Workflows(ctx)
	if err != nil {
		return err
	}
	return printJSON(workflows)
}

func runInvocations(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if len(args) == 1 {
		rec, err := c.Invocation(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	}

	records, total, err := c.Invocations(ctx, 20, 0)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"invocations": records,
		"total":       total,
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	if err := c.Health(ctx); err != nil {
		return fmt.Errorf("supervisor not ready: %w", err)
	}
	fmt.Println("ok")
	return nil
}
