package temporal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/blinks/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// DefaultMaxConcurrentVerifications caps in-flight VerifyPayment activities
// when WorkerConfig leaves it unset.
const DefaultMaxConcurrentVerifications = 10

// WorkerConfig contains configuration for the confirmation worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConcurrentVerifications bounds concurrent activity executions. Each
	// verification holds an RPC poll open for up to its timeout.
	MaxConcurrentVerifications int

	Store     StoreInterface
	Verifier  PaymentVerifier
	Publisher PublisherInterface // nil disables paid events
	Metrics   *metrics.Metrics   // nil disables metrics
	Logger    *slog.Logger
}

func (c WorkerConfig) validate() error {
	var errs []error
	if c.TemporalHost == "" {
		errs = append(errs, errors.New("temporal host is required"))
	}
	if c.TaskQueue == "" {
		errs = append(errs, errors.New("task queue is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if c.Verifier == nil {
		errs = append(errs, errors.New("payment verifier is required"))
	}
	return errors.Join(errs...)
}

// registry is the subset of worker.Worker used for registration. The test
// workflow environment satisfies it too.
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// register wires the confirmation workflow and its task-queue activities.
// ConfirmNow is deliberately absent: it runs in-process on the server.
func register(r registry, activities *Activities) []string {
	r.RegisterWorkflow(ConfirmBlinkPaymentWorkflow)
	r.RegisterActivity(activities.VerifyPayment)
	r.RegisterActivity(activities.MarkBlinkPaid)
	r.RegisterActivity(activities.PublishPaid)
	return []string{"VerifyPayment", "MarkBlinkPaid", "PublishPaid"}
}

// Worker runs ConfirmBlinkPaymentWorkflow executions from one task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers the confirmation workflow.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentVerifications <= 0 {
		config.MaxConcurrentVerifications = DefaultMaxConcurrentVerifications
	}

	logger := config.Logger.With("component", "temporal_worker", "task_queue", config.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: config.MaxConcurrentVerifications,
	})

	activities := NewActivities(config.Store, config.Verifier, config.Publisher, config.Metrics, logger)
	registered := register(w, activities)

	logger.Info("temporal worker configured",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"workflow", "ConfirmBlinkPaymentWorkflow",
		"activities", registered,
		"max_concurrent_verifications", config.MaxConcurrentVerifications,
		"publishes_events", config.Publisher != nil,
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start processes tasks until Stop is called or the process is interrupted.
func (w *Worker) Start() error {
	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// Stop drains in-flight tasks and closes the client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("temporal worker stopped")
}
