package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/security"
	"fraudwatch/pkg/circuitbreaker"
	"fraudwatch/pkg/metrics"
	"fraudwatch/pkg/models"
	"fraudwatch/pkg/retry"
)

type Options struct {
	MaxInFlight     int64
	DeliveryTimeout time.Duration
	ExcerptLength   int
	Retry           retry.Policy
	CircuitBreaker  config.CircuitBreakerConfig
}

type target struct {
	notifier Notifier
	breaker  *circuitbreaker.Wrapper
}

// Dispatcher records FRAUD_DETECTED for every flagged verdict and delivers
// the alert to each notifier in the background. Delivery never blocks the
// caller beyond the security event write.
type Dispatcher struct {
	targets    []target
	recorder   *security.Recorder
	sem        *semaphore.Weighted
	policy     retry.Policy
	timeout    time.Duration
	excerptLen int
	logger     logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(notifiers []Notifier, recorder *security.Recorder, opts Options, log logger.Logger) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = constants.DefaultHTTPTimeout
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = constants.DefaultExcerptLength
	}

	targets := make([]target, 0, len(notifiers))
	for _, n := range notifiers {
		targets = append(targets, target{
			notifier: n,
			breaker:  circuitbreaker.NewFromConfig("notifier-"+n.Name(), opts.CircuitBreaker),
		})
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		targets:    targets,
		recorder:   recorder,
		sem:        semaphore.NewWeighted(opts.MaxInFlight),
		policy:     opts.Retry,
		timeout:    opts.DeliveryTimeout,
		excerptLen: opts.ExcerptLength,
		logger:     log,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// Dispatch is a no-op for verdicts that are not flagged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.InboundEvent, verdict models.FraudVerdict, content string) (models.Alert, bool) {
	if !verdict.Flagged {
		return models.Alert{}, false
	}

	d.recorder.Emit(ctx, models.SecurityFraudDetected, ev.ChatID, ev.UserLabel(),
		strings.Join(verdict.MatchedRules, ","))

	alert := models.Alert{
		ID:           uuid.New().String(),
		ChatID:       ev.ChatID,
		UserID:       ev.UserID,
		Username:     ev.Username,
		MatchedRules: append([]string(nil), verdict.MatchedRules...),
		Severity:     verdict.Score,
		Critical:     verdict.Critical,
		Excerpt:      Excerpt(content, d.excerptLen),
		CreatedAt:    time.Now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.WarnwCtx(ctx, "Dispatcher closed, alert not delivered", "alert_id", alert.ID)
		return alert, true
	}

	for _, t := range d.targets {
		d.wg.Add(1)
		go d.deliver(ctx, t, alert, ev)
	}
	return alert, true
}

func (d *Dispatcher) deliver(parent context.Context, t target, alert models.Alert, ev models.InboundEvent) {
	defer d.wg.Done()

	ctx, stop := mergeCancel(context.WithoutCancel(parent), d.baseCtx)
	defer stop()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.failed(ctx, t, alert, ev, err)
		return
	}
	defer d.sem.Release(1)

	name := t.notifier.Name()
	err := retry.RetryWithCallback(ctx, d.policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		_, err := circuitbreaker.Execute(attemptCtx, t.breaker, func() (struct{}, error) {
			return struct{}{}, t.notifier.Notify(attemptCtx, alert)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.NewFatalError(err)
		}
		if err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
			return retry.NewRetryableError(fmt.Errorf("%s delivery timed out after %s", name, d.timeout))
		}
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetry("notifier")
		d.logger.WarnwCtx(ctx, "Retrying alert delivery",
			"notifier", name,
			"alert_id", alert.ID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		d.failed(ctx, t, alert, ev, err)
		return
	}

	metrics.IncAlertDelivery(name, "delivered")
	d.logger.InfowCtx(ctx, "Alert delivered",
		"notifier", name,
		"alert_id", alert.ID,
		"rules", alert.MatchedRules,
	)
}

func (d *Dispatcher) failed(ctx context.Context, t target, alert models.Alert, ev models.InboundEvent, err error) {
	name := t.notifier.Name()
	metrics.IncAlertDelivery(name, "failed")
	d.logger.ErrorwCtx(ctx, "Alert delivery failed",
		"notifier", name,
		"alert_id", alert.ID,
		"error", err,
	)
	d.recorder.Emit(context.WithoutCancel(ctx), models.SecurityProcessingError, ev.ChatID, ev.UserLabel(),
		fmt.Sprintf("alert %s delivery via %s failed: %v", alert.ID, name, err))
}

// Close stops accepting deliveries and waits for in-flight ones. When ctx
// expires first the remaining deliveries are canceled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// mergeCancel returns a child of ctx that is also canceled with other.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
