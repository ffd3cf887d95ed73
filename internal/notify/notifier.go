// Package notify delivers operator alerts (liquidation risk, liquidations,
// closes) to chat channels. Each sender is throttled and sits behind its own
// circuit breaker so a dead webhook cannot stall the engines.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// ErrThrottled is returned for a sender whose send budget is exhausted.
var ErrThrottled = errors.New("notify: throttled")

// Options tunes delivery. Zero values select the defaults.
type Options struct {
	// PerMinute caps messages per sender; bursts up to the same amount.
	PerMinute int
	// BreakerFailures opens a sender's breaker after this many consecutive
	// failures.
	BreakerFailures uint32
	// BreakerTimeout is how long an open breaker waits before probing.
	BreakerTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PerMinute <= 0 {
		o.PerMinute = 20
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = time.Minute
	}
	return o
}

type channel struct {
	sender  Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Notifier fans an alert out to every sender. Notify honours the configured
// event filter; NotifyAll bypasses it.
type Notifier struct {
	channels []channel
	events   map[string]bool
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, opts Options, logger *slog.Logger) *Notifier {
	opts = opts.withDefaults()
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}

	n := &Notifier{events: allowed, logger: logger.With(slog.String("component", "notifier"))}
	for _, s := range senders {
		n.channels = append(n.channels, channel{
			sender:  s,
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), opts.PerMinute),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "notify_" + s.Name(),
				Timeout: opts.BreakerTimeout,
				ReadyToTrip: func(c gobreaker.Counts) bool {
					return c.ConsecutiveFailures >= opts.BreakerFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					n.logger.Warn("notifier breaker state changed",
						slog.String("breaker", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()),
					)
				},
			}),
		})
	}
	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.channels) > 0 }

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every channel; one failing sender does not stop the
// rest. Failures are joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, ch := range n.channels {
		name := ch.sender.Name()
		if !ch.limiter.Allow() {
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrThrottled))
			continue
		}
		_, err := ch.breaker.Execute(func() (any, error) {
			return nil, ch.sender.Send(ctx, title, message)
		})
		if err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", name),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
