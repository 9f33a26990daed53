package services

import (
	"context"
	"log"
	"strings"
)

// Sender delivers outbound chat replies. Fire-and-forget from the
// orchestrator's perspective: failures are logged and trace-annotated, never
// fatal.
type Sender interface {
	Send(ctx context.Context, address, content string) error
}

// LogSender prints outbound replies to the process log. Used in development
// and as the fallback when no chat client is connected.
type LogSender struct{}

func (LogSender) Send(_ context.Context, address, content string) error {
	log.Printf("→ [%s] %s", address, content)
	return nil
}

// LogCodeDelivery prints the one-time code to the process log instead of
// sending it through an SMS/email provider. Development only: real providers
// plug in behind the CodeDelivery interface.
type LogCodeDelivery struct{}

func (LogCodeDelivery) Send(_ context.Context, target, code, displayName string, ttlMinutes int) error {
	log.Printf("one-time code for %s (%s): %s — valid %d minutes (dev delivery, not sent)",
		displayName, MaskTarget(target), code, ttlMinutes)
	return nil
}

// MaskTarget hides most of a delivery target for replies and logs:
// "ada@example.com" → "a••@example.com", "+5491122334455" → "•••4455".
func MaskTarget(target string) string {
	if target == "" {
		return ""
	}
	if at := strings.Index(target, "@"); at > 0 {
		visible := 1
		if at > 4 {
			visible = 2
		}
		return target[:visible] + strings.Repeat("•", at-visible) + target[at:]
	}
	if len(target) <= 4 {
		return "•••"
	}
	return "•••" + target[len(target)-4:]
}
