// Package dispatch runs the background worker that claims due notifications
// and drives each one through eligibility, re-render, and the SMS provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/notify"
	"github.com/Ramsey-B/clover/pkg/ratelimit"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/sms"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrDispatcherAlreadyRunning is returned when trying to start an already running dispatcher
var ErrDispatcherAlreadyRunning = errors.New("dispatcher already running")

const (
	// DefaultPollInterval is the default interval between dispatch cycles
	DefaultPollInterval = 15 * time.Second

	// DefaultBatchSize is the default number of notifications to claim per cycle
	DefaultBatchSize = 25

	// DefaultSendTimeout is the default budget for dispatching a single notification
	DefaultSendTimeout = 30 * time.Second
)

// Config holds configuration for the dispatcher
type Config struct {
	// PollInterval is how often to check for due notifications
	PollInterval time.Duration

	// BatchSize is the maximum number of notifications to claim per cycle
	BatchSize int

	// SendTimeout is the per-notification budget covering the eligibility
	// check, the rate limit wait, and the provider call
	SendTimeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		BatchSize:    DefaultBatchSize,
		SendTimeout:  DefaultSendTimeout,
	}
}

// Dispatcher polls for due notifications, claims them, and sends them.
// Every claimed record is finalized in the same cycle: sent, failed, or
// cancelled. There is no automatic retry; a failed record stays failed until
// an operator requests a resend.
type Dispatcher struct {
	notifications *repositories.NotificationRepository
	evaluator     *notify.Evaluator
	renderer      *notify.Renderer
	sender        sms.Sender
	limiter       *ratelimit.SendLimiter
	emitter       *events.Emitter
	clock         *clock.WallClock
	config        Config
	logger        ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	notifications *repositories.NotificationRepository,
	evaluator *notify.Evaluator,
	renderer *notify.Renderer,
	sender sms.Sender,
	limiter *ratelimit.SendLimiter,
	emitter *events.Emitter,
	wallClock *clock.WallClock,
	config Config,
	logger ectologger.Logger,
) *Dispatcher {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}

	return &Dispatcher{
		notifications: notifications,
		evaluator:     evaluator,
		renderer:      renderer,
		sender:        sender,
		limiter:       limiter,
		emitter:       emitter,
		clock:         wallClock,
		config:        config,
		logger:        logger,
		stopCh:        make(chan struct{}),
		stoppedC:      make(chan struct{}),
	}
}

// Start starts the dispatcher
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDispatcherAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Dispatcher.Start")
	defer span.End()

	d.logger.WithContext(ctx).Infof("Starting dispatcher: poll_interval=%s batch_size=%d send_timeout=%s",
		d.config.PollInterval, d.config.BatchSize, d.config.SendTimeout)

	// Start the polling loop
	go d.pollLoop(ctx)

	d.logger.WithContext(ctx).Info("Dispatcher started")
	return nil
}

// Stop stops the dispatcher gracefully
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.WithContext(ctx).Info("Stopping dispatcher...")

	close(d.stopCh)

	// Wait for graceful shutdown with timeout
	select {
	case <-d.stoppedC:
		d.logger.WithContext(ctx).Info("Dispatcher stopped gracefully")
	case <-ctx.Done():
		d.logger.WithContext(ctx).Warn("Dispatcher shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the dispatcher is running
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// pollLoop continuously polls for due notifications
func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer close(d.stoppedC)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	d.RunCycle(ctx)

	for {
		select {
		case <-d.stopCh:
			d.logger.WithContext(ctx).Debug("Dispatch loop stopping")
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle claims one batch of due notifications and dispatches each record.
// Records in a batch are processed independently; one slow or failing send
// never blocks the rest beyond the shared rate limit.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.RunCycle")
	defer span.End()

	start := time.Now()

	claimed, err := d.notifications.ClaimDue(ctx, d.config.BatchSize, d.clock.Now().Time())
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to claim due notifications")
		return
	}

	if len(claimed) == 0 {
		d.logger.WithContext(ctx).Debug("No due notifications")
		return
	}

	d.logger.WithContext(ctx).Infof("Claimed %d due notifications", len(claimed))

	var wg sync.WaitGroup
	for i := range claimed {
		wg.Add(1)
		go func(notification models.Notification) {
			defer wg.Done()
			d.dispatchOne(ctx, &notification)
		}(claimed[i])
	}
	wg.Wait()

	d.logger.WithContext(ctx).Infof("Dispatch cycle completed: claimed=%d duration=%s",
		len(claimed), time.Since(start))
}

// dispatchOne drives a single claimed notification to a terminal status
func (d *Dispatcher) dispatchOne(ctx context.Context, notification *models.Notification) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.dispatchOne")
	defer span.End()

	metrics.NotificationsInFlight.Inc()
	defer metrics.NotificationsInFlight.Dec()

	logger := d.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"intent":          notification.Intent,
	})

	// The send budget covers evaluation, the rate limit wait, and the
	// provider call. Finalization runs on the cycle context so a timed-out
	// send is still recorded as failed.
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	eligibility, details, err := d.evaluator.Evaluate(sendCtx, notification)
	if err != nil {
		logger.WithError(err).Error("Failed to evaluate notification eligibility")
		d.fail(ctx, notification, fmt.Sprintf("eligibility check failed: %v", err))
		return
	}

	if !eligibility.Eligible {
		d.cancel(ctx, notification, eligibility.Reason)
		return
	}

	// Re-render against current appointment state so the message reflects
	// reschedules and contact changes that happened after enqueue.
	if details != nil {
		recipient := details.PhoneNumber
		text := d.renderer.RenderAppointment(notification.Intent, notification.Locale, details)
		if recipient != notification.Recipient || text != notification.RenderedText {
			if err := d.notifications.UpdateContent(sendCtx, notification.ID, recipient, text); err != nil {
				if errors.Is(err, repositories.ErrNotClaimed) {
					logger.Warn("Notification was finalized elsewhere before re-render")
					return
				}
				logger.WithError(err).Error("Failed to update notification content")
				d.fail(ctx, notification, fmt.Sprintf("content update failed: %v", err))
				return
			}
			notification.Recipient = recipient
			notification.RenderedText = text
			logger.Debug("Re-rendered notification against current appointment state")
		}
	}

	if err := d.limiter.Wait(sendCtx); err != nil {
		logger.WithError(err).Warn("Send rate limit budget exhausted")
		d.fail(ctx, notification, fmt.Sprintf("rate limit wait failed: %v", err))
		return
	}

	result, err := d.sender.Send(sendCtx, sms.Message{
		To:   notification.Recipient,
		Text: notification.RenderedText,
	})
	if err != nil {
		d.handleSendFailure(ctx, notification, err)
		return
	}

	if err := d.notifications.MarkSent(ctx, notification.ID, result.ProviderMessageID, d.clock.Now().Time()); err != nil {
		if errors.Is(err, repositories.ErrNotClaimed) {
			// Cancellation won the row while the provider call was in flight.
			// The message has left the building; keep the provider id in the
			// logs for audit.
			logger.Warnf("Notification was cancelled during send, provider_message_id=%s", result.ProviderMessageID)
			return
		}
		logger.WithError(err).Errorf("Failed to mark notification sent, provider_message_id=%s", result.ProviderMessageID)
		return
	}

	notification.Status = models.NotificationStatusSent
	notification.ProviderMessageID = &result.ProviderMessageID

	metrics.RecordDispatch(string(notification.Intent), "sent")
	d.emitter.EmitSent(ctx, notification)

	logger.Infof("Notification sent, provider_message_id=%s", result.ProviderMessageID)
}

// cancel finalizes a claimed notification that failed its eligibility check
func (d *Dispatcher) cancel(ctx context.Context, notification *models.Notification, reason models.CancelReason) {
	logger := d.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"intent":          notification.Intent,
	})

	if err := d.notifications.CancelClaimed(ctx, notification.ID, reason); err != nil {
		if errors.Is(err, repositories.ErrNotClaimed) {
			logger.Warn("Notification was finalized elsewhere before cancellation")
			return
		}
		logger.WithError(err).Error("Failed to cancel ineligible notification")
		return
	}

	notification.Status = models.NotificationStatusCancelled
	notification.CancelReason = &reason

	metrics.RecordIneligible(string(reason))
	metrics.RecordDispatch(string(notification.Intent), "cancelled")
	d.emitter.EmitCancelled(ctx, notification)

	logger.Infof("Notification cancelled before send: reason=%s", reason)
}

// fail finalizes a claimed notification as failed
func (d *Dispatcher) fail(ctx context.Context, notification *models.Notification, message string) {
	logger := d.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"intent":          notification.Intent,
	})

	if err := d.notifications.MarkFailed(ctx, notification.ID, message); err != nil {
		if errors.Is(err, repositories.ErrNotClaimed) {
			logger.Warn("Notification was finalized elsewhere before failure mark")
			return
		}
		logger.WithError(err).Error("Failed to mark notification failed")
		return
	}

	notification.Status = models.NotificationStatusFailed
	notification.ErrorMessage = &message

	metrics.RecordDispatch(string(notification.Intent), "failed")
	d.emitter.EmitFailed(ctx, notification)
}

// handleSendFailure finalizes a failed provider call. Transient and permanent
// failures both finalize as failed; transient only changes how the shared rate
// limit reacts, never whether the record is retried.
func (d *Dispatcher) handleSendFailure(ctx context.Context, notification *models.Notification, sendErr error) {
	logger := d.logger.WithContext(ctx).WithFields(map[string]any{
		"notification_id": notification.ID,
		"intent":          notification.Intent,
	})

	if sms.IsTransient(sendErr) {
		logger.WithError(sendErr).Warn("Transient provider failure")

		if retryAfter := sms.RetryAfter(sendErr); retryAfter != "" {
			if wait, err := ratelimit.ParseRetryAfter(retryAfter); err == nil && wait > 0 {
				if err := d.limiter.Backoff(ctx, wait); err != nil {
					logger.WithError(err).Warn("Failed to apply provider backoff")
				}
			}
		}
	} else {
		logger.WithError(sendErr).Error("Permanent provider failure")
	}

	d.fail(ctx, notification, sendErr.Error())
}
