// Package notify pushes protocol events to operator channels. Each event
// is rendered into a short alert (bet number, actor, decision detail) and
// delivered to every configured sender; operators can narrow delivery to
// the event kinds they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/wagerlab/escrowd/internal/domain"
)

// Sender delivers a rendered alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier renders protocol events and fans them out to senders. When a
// kind filter is configured, events outside it are dropped silently;
// an empty filter forwards everything.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. kinds narrows
// delivery to the named event kinds; empty means all.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.EventKind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Event renders ev and delivers it to all senders, subject to the kind
// filter.
func (n *Notifier) Event(ctx context.Context, ev domain.Event) error {
	if len(n.kinds) > 0 && !n.kinds[ev.Kind] {
		n.logger.DebugContext(ctx, "event kind filtered out",
			slog.String("kind", string(ev.Kind)),
		)
		return nil
	}
	return n.dispatch(ctx, renderTitle(ev), renderBody(ev))
}

// Announce delivers an operator message bypassing the kind filter. Used
// for startup and shutdown notices.
func (n *Notifier) Announce(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, title, body)
}

// dispatch sends to every sender; one channel failing does not stop the
// others. Failures come back as a single combined error.
func (n *Notifier) dispatch(ctx context.Context, title, body string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// renderTitle turns an event kind like "bet_claimed" into "Bet claimed".
func renderTitle(ev domain.Event) string {
	words := strings.Split(string(ev.Kind), "_")
	if len(words) == 0 || words[0] == "" {
		return string(ev.Kind)
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

// renderBody lists the bet context one line at a time: bet number, actor,
// then any detail keys in stable order.
func renderBody(ev domain.Event) string {
	var lines []string
	if ev.BetNumber != 0 {
		lines = append(lines, fmt.Sprintf("bet #%d", ev.BetNumber))
	}
	if ev.Actor != "" {
		lines = append(lines, "actor "+ev.Actor)
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, ev.Detail[k]))
	}

	return strings.Join(lines, "\n")
}
