package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of PaymentScheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartPaymentConfirmation starts ConfirmBlinkPaymentWorkflow for a Blink.
// A workflow that is already running for the Blink is returned as is; a
// failed one may be started again.
func (c *Client) StartPaymentConfirmation(ctx context.Context, input ConfirmPaymentInput) (string, error) {
	id := PaymentWorkflowID(input.BlinkID)
	if input.RequestedAt.IsZero() {
		input.RequestedAt = time.Now().UTC()
	}

	c.logger.Debug("starting payment confirmation",
		"blink_id", input.BlinkID,
		"signature", input.Signature,
		"workflow_id", id,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		Memo: map[string]interface{}{
			"blink_id":   input.BlinkID,
			"signature":  input.Signature,
			"created_by": "blinks",
		},
	}, ConfirmBlinkPaymentWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start payment confirmation",
			"blink_id", input.BlinkID,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("payment confirmation started",
		"blink_id", input.BlinkID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// GetPaymentStatus describes a confirmation workflow. The result is included
// once the workflow has completed.
func (c *Client) GetPaymentStatus(ctx context.Context, workflowID string) (*PaymentStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &PaymentStatus{
		WorkflowID: workflowID,
		Status:     info.GetStatus().String(),
	}
	if info.GetStartTime() != nil {
		t := info.GetStartTime().AsTime()
		status.StartTime = &t
	}
	if info.GetCloseTime() != nil {
		t := info.GetCloseTime().AsTime()
		status.CloseTime = &t
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result ConfirmPaymentResult
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result: %w", err)
		}
		status.Result = &result
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, nil); err != nil {
			msg := err.Error()
			status.Error = &msg
		}
	}

	return status, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
