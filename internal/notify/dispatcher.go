package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/logger"
	"github.com/regpayhq/regpay-backend/pkg/metrics"
)

// Dispatcher delivers confirmation emails off the webhook request path. Tasks
// are queued on a bounded channel so a slow mail provider can never block event
// acknowledgement; when the queue is full the task is dropped and counted.
type Dispatcher struct {
	mailer     Mailer
	logg       *logger.Logger
	metrics    *metrics.WebhookMetrics
	retryDelay time.Duration
	tasks      chan Confirmation
	retries    sync.WaitGroup
}

// DispatcherParams wires dispatcher dependencies.
type DispatcherParams struct {
	Mailer  Mailer
	Logger  *logger.Logger
	Metrics *metrics.WebhookMetrics
	Config  config.WebhookConfig
}

// NewDispatcher validates dependencies and sizes the queue from config.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	size := params.Config.SideEffectQueueSize
	if size <= 0 {
		size = 256
	}
	delay := params.Config.SideEffectRetryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	return &Dispatcher{
		mailer:     params.Mailer,
		logg:       params.Logger,
		metrics:    params.Metrics,
		retryDelay: delay,
		tasks:      make(chan Confirmation, size),
	}, nil
}

// Enqueue hands a confirmation to the background worker without blocking.
// Returns false when the queue is full; the payment record stays authoritative
// so a dropped email is a log line and a counter, not a correctness problem.
func (d *Dispatcher) Enqueue(ctx context.Context, c Confirmation) bool {
	select {
	case d.tasks <- c:
		return true
	default:
		d.logg.Warn(d.logg.WithField(ctx, "to", c.ToEmail), "confirmation queue full, dropping task")
		d.metrics.IncSideEffect(metrics.OutcomeDropped)
		return false
	}
}

// Run consumes queued confirmations until the context is canceled. Each task
// gets one immediate attempt and one delayed retry; a second failure is logged
// and the task dropped. The retry wait happens off the consumer loop so a
// failing provider never stalls the tasks queued behind it; Run waits for
// in-flight retries before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.retries.Wait()
			return ctx.Err()
		case task := <-d.tasks:
			d.deliver(ctx, task)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, task Confirmation) {
	taskCtx := d.logg.WithField(ctx, "to", task.ToEmail)

	err := d.mailer.SendConfirmation(taskCtx, task)
	if err == nil {
		d.metrics.IncSideEffect(metrics.OutcomeDelivered)
		return
	}

	d.logg.Warn(taskCtx, "confirmation send failed, retrying once")
	d.metrics.IncSideEffect(metrics.OutcomeRetried)

	d.retries.Add(1)
	go func() {
		defer d.retries.Done()
		d.retryLater(taskCtx, task)
	}()
}

func (d *Dispatcher) retryLater(ctx context.Context, task Confirmation) {
	timer := time.NewTimer(d.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		d.logg.Warn(ctx, "shutdown before confirmation retry, dropping")
		d.metrics.IncSideEffect(metrics.OutcomeDropped)
		return
	case <-timer.C:
	}

	if err := d.mailer.SendConfirmation(ctx, task); err != nil {
		d.logg.Error(ctx, "confirmation send failed after retry, dropping", err)
		d.metrics.IncSideEffect(metrics.OutcomeDropped)
		return
	}
	d.metrics.IncSideEffect(metrics.OutcomeDelivered)
}

// QueueDepth reports the number of tasks waiting for delivery.
func (d *Dispatcher) QueueDepth() int {
	return len(d.tasks)
}
