// Package notify tells the operator when a task starts failing.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// LogSender logs messages instead of sending them. Used in ENV=local and when
// no recipient is configured.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, to []string, subject, body string) error {
	s.logger.InfoContext(ctx, "notification (not sent)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends e-mail through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to []string, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local or a missing API key,
// ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" || apiKey == "" {
		return &LogSender{logger: logger.With("component", "notify")}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Notifier sends one message per failure streak.
type Notifier struct {
	sender Sender
	to     []string
	logger *slog.Logger
}

func NewNotifier(sender Sender, to []string, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, to: to, logger: logger.With("component", "notify")}
}

// TaskFailed reports a failed run. Only the first failure after a success is
// reported; the rest of the streak is left to the logs and metrics. It
// returns true when a message was handed to the sender.
func (n *Notifier) TaskFailed(ctx context.Context, task domain.ScheduledTask, cause error) (bool, error) {
	if task.ConsecutiveFailures != 1 {
		return false, nil
	}
	if len(n.to) == 0 {
		n.logger.DebugContext(ctx, "no recipients, skipping notification", "task", task.Config.Name)
		return false, nil
	}

	subject := fmt.Sprintf("table-sync: task %q failed", task.Config.Name)
	if err := n.sender.Send(ctx, n.to, subject, failureBody(task, cause)); err != nil {
		return false, fmt.Errorf("notify %s: %w", task.Config.Name, err)
	}
	return true, nil
}

func failureBody(task domain.ScheduledTask, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Task <b>%s</b> failed.</p>", html.EscapeString(task.Config.Name))
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(cause.Error()))
	fmt.Fprintf(&b, "<p>Next attempt at %s.</p>", task.NextRunAt.Format(time.RFC3339))
	if task.LastRunAt != nil {
		fmt.Fprintf(&b, "<p>Last successful run: %s.</p>", task.LastRunAt.Format(time.RFC3339))
	}
	return b.String()
}
