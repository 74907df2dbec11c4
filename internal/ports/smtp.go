package ports

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SMTPConfig configures the Notifier's only concrete implementation — spec
// §6 names EMAIL_FROM/SMTP_HOST/SMTP_PORT/SMTP_USER/SMTP_PASSWORD as the
// "trigger contract", which is all this core commits to: we trigger
// delivery best-effort, we do not own template rendering or delivery
// guarantees (spec §9 Non-goal).
type SMTPConfig struct {
	From     string
	Host     string
	Port     int
	User     string
	Password string
	To       []string
}

const (
	notifyRetries = 3
	notifyBackoff = 5 * time.Second
)

// SMTPNotifier sends alerts over SMTP, best-effort with 3 retries at a
// 5-second backoff, per spec §6.
type SMTPNotifier struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

// NewSMTPNotifier constructs a Notifier backed by net/smtp.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, logger: logger}
}

// Send implements Notifier. context entries are rendered as "key: value"
// lines appended to body; best-effort only — a final failure is logged,
// never returned as fatal to the caller beyond the returned error.
func (n *SMTPNotifier) Send(ctx context.Context, level NotificationLevel, subject, body string, kv map[string]string) error {
	msg := n.compose(level, subject, body, kv)

	var lastErr error
	for attempt := 1; attempt <= notifyRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = n.deliver(msg)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("notifier delivery attempt failed",
			zap.Int("attempt", attempt), zap.String("level", string(level)), zap.Error(lastErr))
		if attempt < notifyRetries {
			select {
			case <-time.After(notifyBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("ports: notifier exhausted %d attempts: %w", notifyRetries, lastErr)
}

func (n *SMTPNotifier) compose(level NotificationLevel, subject, body string, kv map[string]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", joinAddrs(n.cfg.To))
	fmt.Fprintf(&buf, "Subject: [%s] %s\r\n\r\n", level, subject)
	buf.WriteString(body)
	if len(kv) > 0 {
		buf.WriteString("\r\n\r\n")
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, kv[k])
		}
	}
	return buf.Bytes()
}

func (n *SMTPNotifier) deliver(msg []byte) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}
	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, msg)
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
