// internal/app/dispatcher.go
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reminder_notification_bot/internal/domain/notification"
	"reminder_notification_bot/internal/domain/reminder"
	"reminder_notification_bot/internal/infra/metrics"
)

const defaultSendTimeout = 15 * time.Second

// Dispatcher delivers one due schedule per call and classifies the outcome.
// A delivery problem never escapes as an error or panic.
type Dispatcher struct {
	channel notification.Channel
	builder notification.MessageBuilder
	policy  FailurePolicy
	timeout time.Duration
	logger  *logrus.Entry

	mu     sync.Mutex
	streak map[reminder.Key]int // consecutive permanent failures
}

func NewDispatcher(
	channel notification.Channel,
	builder notification.MessageBuilder,
	policy FailurePolicy,
	sendTimeout time.Duration,
	logger *logrus.Entry,
) *Dispatcher {
	if policy == nil {
		policy = KeepPolicy{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		channel: channel,
		builder: builder,
		policy:  policy,
		timeout: sendTimeout,
		logger:  logger.WithField("component", "dispatcher"),
		streak:  map[reminder.Key]int{},
	}
}

// Dispatch makes exactly one Send attempt for s. It reports true when the
// failure policy asks for the schedule to be disabled.
func (d *Dispatcher) Dispatch(ctx context.Context, s reminder.ReminderSchedule) bool {
	logCtx := d.logger.WithFields(logrus.Fields{
		"fire_id":    uuid.NewString(),
		"subject_id": s.SubjectID,
		"kind":       s.Kind,
	})

	res := d.send(ctx, s)
	metrics.RecordDelivery(string(s.Kind), string(res.Outcome))

	switch res.Outcome {
	case notification.OutcomeDelivered:
		d.resetStreak(s.Key())
		logCtx.Info("Reminder delivered")
		return false

	case notification.OutcomePermanentFailure:
		n := d.bumpStreak(s.Key())
		logCtx.WithError(res.Err).WithFields(logrus.Fields{
			"reason":      res.Reason,
			"consecutive": n,
		}).Warn("Reminder recipient unreachable; schedule kept")
		if d.policy.ShouldDisable(s, n, res) {
			d.resetStreak(s.Key())
			return true
		}
		return false

	default:
		// Recurrence is time based, so the next occurrence is the retry.
		logCtx.WithError(res.Err).WithField("reason", res.Reason).Info("Reminder delivery failed transiently")
		return false
	}
}

// send bounds the channel call by the send timeout even if the channel ignores ctx.
func (d *Dispatcher) send(ctx context.Context, s reminder.ReminderSchedule) notification.Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan notification.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- notification.Transient("channel panic", fmt.Errorf("panic while delivering reminder: %v", p))
			}
		}()
		done <- d.channel.Send(ctx, s.SubjectID, d.builder.Build(s))
	}()

	select {
	case res := <-done:
		if res.Outcome == "" {
			return notification.Transient("unclassified result", res.Err)
		}
		return res
	case <-ctx.Done():
		res, _ := notification.FromContextError(ctx.Err())
		return res
	}
}

func (d *Dispatcher) bumpStreak(key reminder.Key) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streak[key]++
	return d.streak[key]
}

func (d *Dispatcher) resetStreak(key reminder.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streak, key)
}

// Forget drops failure bookkeeping for key; called when a schedule is removed.
func (d *Dispatcher) Forget(key reminder.Key) {
	d.resetStreak(key)
}
