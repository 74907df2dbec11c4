package ports_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas/equities-core/internal/ports"
)

func TestSendFailsFastWhenContextAlreadyCancelled(t *testing.T) {
	n := ports.NewSMTPNotifier(ports.SMTPConfig{
		From: "atlasd@example.com", Host: "127.0.0.1", Port: 1, To: []string{"ops@example.com"},
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, ports.LevelCritical, "subject", "body", nil); err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
}

func TestCriticalNotifierUsesCriticalLevel(t *testing.T) {
	var gotLevel ports.NotificationLevel
	fake := fakeNotifier{fn: func(_ context.Context, level ports.NotificationLevel, _, _ string, _ map[string]string) error {
		gotLevel = level
		return nil
	}}
	cn := ports.CriticalNotifier{Notifier: fake}
	if err := cn.NotifyCritical(context.Background(), "s", "b"); err != nil {
		t.Fatalf("NotifyCritical: %v", err)
	}
	if gotLevel != ports.LevelCritical {
		t.Fatalf("expected LevelCritical, got %s", gotLevel)
	}
}

type fakeNotifier struct {
	fn func(ctx context.Context, level ports.NotificationLevel, subject, body string, kv map[string]string) error
}

func (f fakeNotifier) Send(ctx context.Context, level ports.NotificationLevel, subject, body string, kv map[string]string) error {
	return f.fn(ctx, level, subject, body, kv)
}
