package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"autocopy/internal/config"
	"autocopy/internal/logging"
)

const (
	userAgent         = "autocopy/1.0"
	footerTimeLayout  = "15:04:05 01/02/06 MST"
	defaultRetryDelay = 2 * time.Second

	PriorityHigh = "high"
	PriorityLow  = "low"
)

// Message is one operator notification.
type Message struct {
	// To overrides the configured recipients when non-empty.
	To       []string
	Subject  string
	Body     string
	Priority string
}

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Send(ctx context.Context, msg Message) error
}

// ServiceOption customizes the service returned by NewService.
type ServiceOption func(*decorated)

// WithClock overrides the clock used for the sent-at footer.
func WithClock(now func() time.Time) ServiceOption {
	return func(d *decorated) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRetryDelay overrides the pause before the single resend.
func WithRetryDelay(delay time.Duration) ServiceOption {
	return func(d *decorated) {
		d.retryDelay = delay
	}
}

// WithHostname overrides the host named in the subject prefix.
func WithHostname(host string) ServiceOption {
	return func(d *decorated) {
		d.host = host
	}
}

// WithTransport replaces the configured transports (used in tests).
func WithTransport(svc Service) ServiceOption {
	return func(d *decorated) {
		d.next = svc
	}
}

// NewService builds the notifier described by cfg. The returned service never
// blocks longer than one retry and reports delivery failures to its caller.
func NewService(cfg *config.Config, logger *slog.Logger, opts ...ServiceOption) Service {
	logger = logging.NewComponentLogger(logger, "notifications")

	var transports []Service
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if cfg.Notifications.Enabled {
		if server := strings.TrimSpace(cfg.Notifications.SMTPServer); server != "" {
			transports = append(transports, newMailer(cfg.Notifications, timeout))
		}
		if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
			transports = append(transports, newNtfy(topic, timeout))
		}
	}

	d := &decorated{
		logger:     logger,
		now:        time.Now,
		host:       ShortHostname(),
		retryDelay: defaultRetryDelay,
		next:       fanout(transports),
	}
	if !cfg.Notifications.Enabled {
		d.suppressed = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShortHostname returns the machine name up to its first dot.
func ShortHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	if idx := strings.IndexByte(host, '.'); idx > 0 {
		host = host[:idx]
	}
	return host
}

// decorated adds the subject prefix, footer, logging and retry-once policy
// around the underlying transports.
type decorated struct {
	logger     *slog.Logger
	now        func() time.Time
	host       string
	retryDelay time.Duration
	next       Service
	suppressed bool
}

func (d *decorated) Send(ctx context.Context, msg Message) error {
	msg.Subject = fmt.Sprintf("AUTOCOPY (%s): %s", d.host, strings.TrimSpace(msg.Subject))
	msg.Body = strings.TrimRight(msg.Body, "\n") + "\n\nSent at " + d.now().Format(footerTimeLayout) + "\n"

	d.logger.Info("notification", logging.String("subject", msg.Subject), logging.Bool("suppressed", d.suppressed))
	d.logger.Debug("notification body", logging.String("subject", msg.Subject), logging.String("body", msg.Body))

	if d.suppressed || d.next == nil {
		return nil
	}

	attempt := 0
	op := func() error {
		attempt++
		err := d.next.Send(ctx, msg)
		if err != nil && attempt == 1 {
			d.logger.Warn("notification delivery failed; retrying once",
				logging.String("subject", msg.Subject),
				logging.Error(err),
			)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("send notification %q: %w", msg.Subject, err)
	}
	return nil
}

type multiService []Service

func fanout(services []Service) Service {
	switch len(services) {
	case 0:
		return noopService{}
	case 1:
		return services[0]
	default:
		return multiService(services)
	}
}

func (m multiService) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, svc := range m {
		if err := svc.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) Send(context.Context, Message) error { return nil }

// NewNoop returns a Service that discards every message.
func NewNoop() Service {
	return noopService{}
}
