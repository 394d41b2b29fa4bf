package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/notify"
)

type fakeSender struct {
	sent    int
	to      []string
	subject string
	body    string
	err     error
}

func (s *fakeSender) Send(_ context.Context, to []string, subject, body string) error {
	s.sent++
	s.to, s.subject, s.body = to, subject, body
	return s.err
}

func failedTask(streak int) domain.ScheduledTask {
	return domain.ScheduledTask{
		Config:              domain.TaskConfig{Name: "orders<1>"},
		NextRunAt:           time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC),
		ConsecutiveFailures: streak,
	}
}

func TestTaskFailed_FirstFailureOnly(t *testing.T) {
	s := &fakeSender{}
	n := notify.NewNotifier(s, []string{"ops@example.com"}, slog.Default())

	sent, err := n.TaskFailed(context.Background(), failedTask(1), errors.New("boom & bust"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent || s.sent != 1 {
		t.Fatalf("expected 1 message, got %d", s.sent)
	}
	if !strings.Contains(s.subject, `"orders<1>"`) {
		t.Errorf("subject %q does not name the task", s.subject)
	}
	if !strings.Contains(s.body, "orders&lt;1&gt;") || !strings.Contains(s.body, "boom &amp; bust") {
		t.Errorf("body not escaped: %s", s.body)
	}
	if !strings.Contains(s.body, "2024-01-01T10:01:00Z") {
		t.Errorf("body missing next attempt: %s", s.body)
	}

	for _, streak := range []int{0, 2, 5} {
		sent, err := n.TaskFailed(context.Background(), failedTask(streak), errors.New("again"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sent {
			t.Errorf("streak %d reported as sent", streak)
		}
	}
	if s.sent != 1 {
		t.Errorf("expected repeated failures to be silent, got %d messages", s.sent)
	}
}

func TestTaskFailed_NoRecipients(t *testing.T) {
	s := &fakeSender{}
	n := notify.NewNotifier(s, nil, slog.Default())

	sent, err := n.TaskFailed(context.Background(), failedTask(1), errors.New("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || s.sent != 0 {
		t.Errorf("expected no message, got %d", s.sent)
	}
}

func TestTaskFailed_SendError(t *testing.T) {
	errAPI := errors.New("rate limited")
	n := notify.NewNotifier(&fakeSender{err: errAPI}, []string{"ops@example.com"}, slog.Default())

	if _, err := n.TaskFailed(context.Background(), failedTask(1), errors.New("x")); !errors.Is(err, errAPI) {
		t.Errorf("expected api error, got %v", err)
	}
}

func TestNewSender(t *testing.T) {
	if _, ok := notify.NewSender("local", "re_key", "a@b.c", slog.Default()).(*notify.LogSender); !ok {
		t.Error("expected LogSender for local")
	}
	if _, ok := notify.NewSender("production", "", "a@b.c", slog.Default()).(*notify.LogSender); !ok {
		t.Error("expected LogSender without api key")
	}
	if _, ok := notify.NewSender("production", "re_key", "a@b.c", slog.Default()).(*notify.ResendSender); !ok {
		t.Error("expected ResendSender")
	}
}
