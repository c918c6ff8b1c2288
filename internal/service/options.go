package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/lukaut-approvals/internal/metrics"
	"github.com/DukeRupert/lukaut-approvals/internal/notify"
	"github.com/google/uuid"
)

// Defaults applied when no option overrides them.
const (
	DefaultMaxRetries       = 5
	DefaultRetention        = 30 * 24 * time.Hour
	DefaultSweepConcurrency = 4
	DefaultNotifyTimeout    = 5 * time.Second
)

// Option configures ApprovalService and BatchService.
type Option func(*options)

type options struct {
	now              func() time.Time
	location         *time.Location
	maxRetries       int
	retention        time.Duration
	sweepConcurrency int
	notifyTimeout    time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		now:              time.Now,
		location:         time.UTC,
		maxRetries:       DefaultMaxRetries,
		retention:        DefaultRetention,
		sweepConcurrency: DefaultSweepConcurrency,
		notifyTimeout:    DefaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the zone used for auto-approval time windows and
// submission days.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithMaxRetries bounds optimistic concurrency retries per vote.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithRetention sets how long terminal inspections keep their batch tag.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithSweepConcurrency bounds how many organizations are grouped at once.
func WithSweepConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepConcurrency = n
		}
	}
}

// WithNotifyTimeout bounds each notification delivery.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}

// dispatcher delivers notifications after a state change was persisted.
// Delivery errors are logged and counted, never returned.
type dispatcher struct {
	notifier notify.Notifier
	logger   *slog.Logger
	timeout  time.Duration
}

func (d dispatcher) send(ctx context.Context, recipientID uuid.UUID, n notify.Notification) {
	if d.notifier == nil || recipientID == uuid.Nil {
		return
	}
	// The state change is already committed; a caller that gives up now
	// should not cancel its notification.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, recipientID, n); err != nil {
		metrics.NotificationFailed(n.Type.String())
		d.logger.Warn("notification delivery failed",
			"type", n.Type,
			"recipient_id", recipientID,
			"subject", n.Subject(),
			"error", err,
		)
		return
	}
	metrics.NotificationDelivered(n.Type.String())
}
