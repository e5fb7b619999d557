package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/blinks/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
)

// paymentWorkflowType is the registered name of the confirmation workflow.
const paymentWorkflowType = "ConfirmBlinkPaymentWorkflow"

// workflowSummary is the CLI view of one confirmation workflow execution.
type workflowSummary struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// workflowID accepts either a workflow ID or a bare Blink ID.
func workflowID(arg string) string {
	if strings.HasPrefix(arg, "blink-payment-") {
		return arg
	}
	return temporal.PaymentWorkflowID(arg)
}

// listQuery builds the visibility query for confirmation workflows.
func listQuery(status string) string {
	query := fmt.Sprintf("WorkflowType = '%s'", paymentWorkflowType)
	if status != "" {
		query += fmt.Sprintf(" AND ExecutionStatus = '%s'", status)
	}
	return query
}

func listWorkflowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-workflows",
		Usage:   "List payment confirmation workflows",
		Aliases: []string{"wf"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by execution status (Running, Completed, Failed, TimedOut, Canceled)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of workflows",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			resp, err := temporalClient.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
				PageSize: int32(c.Int("limit")),
				Query:    listQuery(c.String("status")),
			})
			if err != nil {
				return fmt.Errorf("failed to list workflows: %w", err)
			}

			summaries := make([]workflowSummary, 0, len(resp.GetExecutions()))
			for _, exec := range resp.GetExecutions() {
				s := workflowSummary{
					WorkflowID: exec.GetExecution().GetWorkflowId(),
					RunID:      exec.GetExecution().GetRunId(),
					Status:     exec.GetStatus().String(),
					StartTime:  exec.GetStartTime().AsTime(),
				}
				if exec.GetCloseTime() != nil {
					t := exec.GetCloseTime().AsTime()
					s.CloseTime = &t
				}
				summaries = append(summaries, s)
			}

			return render(c, summaries, func(out io.Writer) {
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No payment workflows found")
					return
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "WORKFLOW ID\tSTATUS\tSTARTED\tCLOSED")
				for _, s := range summaries {
					closed := "-"
					if s.CloseTime != nil {
						closed = s.CloseTime.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.WorkflowID, s.Status, s.StartTime.Format(time.RFC3339), closed)
				}
				w.Flush()
			})
		},
	}
}

func describeWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe the payment workflow of a Blink",
		ArgsUsage: "<blink-id|workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink or workflow ID")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			id := workflowID(c.Args().First())
			resp, err := temporalClient.DescribeWorkflowExecution(ctx, id, "")
			if err != nil {
				return fmt.Errorf("failed to describe workflow: %w", err)
			}

			info := resp.GetWorkflowExecutionInfo()
			summary := workflowSummary{
				WorkflowID: info.GetExecution().GetWorkflowId(),
				RunID:      info.GetExecution().GetRunId(),
				Status:     info.GetStatus().String(),
				StartTime:  info.GetStartTime().AsTime(),
			}
			if info.GetCloseTime() != nil {
				t := info.GetCloseTime().AsTime()
				summary.CloseTime = &t
			}

			return render(c, summary, func(w io.Writer) {
				fmt.Fprintf(w, "Workflow ID: %s\n", summary.WorkflowID)
				fmt.Fprintf(w, "Run ID:      %s\n", summary.RunID)
				fmt.Fprintf(w, "Status:      %s\n", summary.Status)
				fmt.Fprintf(w, "Started:     %s\n", summary.StartTime.Format(time.RFC3339))
				if summary.CloseTime != nil {
					fmt.Fprintf(w, "Closed:      %s\n", summary.CloseTime.Format(time.RFC3339))
				}
				fmt.Fprintf(w, "Task Queue:  %s\n", info.GetTaskQueue())
				fmt.Fprintf(w, "History:     %d events\n", info.GetHistoryLength())
			})
		},
	}
}

func cancelWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a running payment workflow so a new signature can be submitted",
		ArgsUsage: "<blink-id|workflow-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: blink or workflow ID")
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			id := workflowID(c.Args().First())
			if err := temporalClient.CancelWorkflow(c.Context, id, ""); err != nil {
				return fmt.Errorf("failed to cancel workflow: %w", err)
			}

			fmt.Fprintf(stdout, "✓ Cancellation requested: %s\n", id)
			return nil
		},
	}
}

func getTemporalClient(c *cli.Context) (client.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233"
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default"
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return temporalClient, nil
}
