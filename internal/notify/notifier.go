package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firmdesk/firmdesk/internal/observability/metrics"
	"github.com/firmdesk/firmdesk/internal/reliability/circuitbreaker"
	"github.com/firmdesk/firmdesk/internal/reliability/retry"
)

// Message kinds emitted by the core.
const (
	KindFirmCreated     = "firm_created"
	KindBootstrapFailed = "bootstrap_failed"
	KindPasswordSetup   = "password_setup"
)

// Message is one outbound notification.
type Message struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// Sender is the delivery transport. Email delivery itself is an external
// collaborator; the core only queues and retries.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log. Used when no mail transport is
// configured (development, tests).
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("kind", msg.Kind),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// Notifier is a best-effort side-effect queue: enqueueing never blocks the
// caller, delivery is retried with backoff, and a tripping transport is
// short-circuited instead of hammered. Delivery failures are logged, never
// escalated.
type Notifier struct {
	sender  Sender
	queue   chan Message
	retry   *retry.Config
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewNotifier creates a notifier with a bounded queue.
func NewNotifier(sender Sender, queueSize int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Notifier{
		sender:  sender,
		queue:   make(chan Message, queueSize),
		retry:   retry.DefaultConfig(),
		breaker: circuitbreaker.New(5, 2, 30*time.Second),
		logger:  logger,
	}
}

// Enqueue hands a message to the delivery worker. A full queue drops the
// message with a log line; notification loss never fails business operations.
func (n *Notifier) Enqueue(msg Message) {
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("notification queue full, dropping message",
			slog.String("kind", msg.Kind),
			slog.String("to", msg.To),
		)
		metrics.ObserveNotification(msg.Kind, "dropped")
	}
}

// Start consumes the queue until the context is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, msg Message) {
	if !n.breaker.Allow() {
		n.logger.Warn("notification transport circuit open, dropping message",
			slog.String("kind", msg.Kind),
		)
		metrics.ObserveNotification(msg.Kind, "dropped")
		return
	}

	_, err := retry.Do(ctx, n.retry, n.logger, "notify."+msg.Kind, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, n.sender.Send(ctx, msg)
	})
	if err != nil {
		n.breaker.Failure()
		n.logger.Error("notification delivery failed",
			slog.String("kind", msg.Kind),
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		metrics.ObserveNotification(msg.Kind, "failed")
		return
	}
	n.breaker.Success()
	metrics.ObserveNotification(msg.Kind, "sent")
}

// FirmCreated builds the operator notification for a completed bootstrap.
func FirmCreated(to, firmName, firmID string) Message {
	return Message{
		Kind:    KindFirmCreated,
		To:      to,
		Subject: fmt.Sprintf("Firm %s created", firmName),
		Body:    fmt.Sprintf("Firm %s was provisioned as %s.", firmName, firmID),
	}
}

// BootstrapFailed builds the operator notification for a failed bootstrap.
func BootstrapFailed(to, firmName, step string) Message {
	return Message{
		Kind:    KindBootstrapFailed,
		To:      to,
		Subject: fmt.Sprintf("Firm creation failed: %s", firmName),
		Body:    fmt.Sprintf("Provisioning of firm %s was rolled back at step %s.", firmName, step),
	}
}

// PasswordSetup builds the invite mail carrying the setup token.
func PasswordSetup(to, name, token string) Message {
	return Message{
		Kind:    KindPasswordSetup,
		To:      to,
		Subject: "Set up your FirmDesk password",
		Body:    fmt.Sprintf("Hello %s, use this token to set your password within 48 hours: %s", name, token),
	}
}
