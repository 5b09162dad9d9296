package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clawsentry/internal/events"
	"clawsentry/internal/models"
	"clawsentry/internal/ratelimit"
)

// Notifier delivers one formatted message.
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// EventSink records notification outcomes; nil-safe callers pass nil to
// skip recording.
type EventSink interface {
	InsertNotificationEvent(ctx context.Context, e models.NotificationEvent) error
}

// Pipeline consumes raw log lines from the tailers, parses and filters
// them, and pushes qualifying alerts through the rate limiter to the
// notifier.
type Pipeline struct {
	limiter *ratelimit.Limiter
	notify  Notifier
	sink    EventSink
	log     *slog.Logger
}

func NewPipeline(limiter *ratelimit.Limiter, notify Notifier, sink EventSink, logger *slog.Logger) *Pipeline {
	return &Pipeline{limiter: limiter, notify: notify, sink: sink, log: logger}
}

// Run drains both line channels until ctx is done. Channels may be nil
// when a source is disabled.
func (p *Pipeline) Run(ctx context.Context, eveLines, traceeLines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-eveLines:
			p.HandleEveLine(ctx, line)
		case line := <-traceeLines:
			p.HandleTraceeLine(ctx, line)
		}
	}
}

func (p *Pipeline) HandleEveLine(ctx context.Context, line string) {
	alert := events.ParseEveLine(line)
	if alert == nil || !events.LiveSeverity(alert) {
		return
	}
	p.deliver(ctx, FormatNetworkAlert(alert))
}

func (p *Pipeline) HandleTraceeLine(ctx context.Context, line string) {
	ev := events.ParseTraceeLine(line)
	if ev == nil {
		return
	}
	logEvent := events.Classify(ev)
	switch logEvent.Kind {
	case models.KindPackageInstall:
		p.deliver(ctx, FormatPackageInstall(ev))
	default:
		p.deliver(ctx, FormatRuntimeEvent(ev))
	}
}

// SendReport delivers a daily report. Reports are scheduled, not bursty,
// so they bypass the rate limiter.
func (p *Pipeline) SendReport(ctx context.Context, msg string) {
	p.send(ctx, msg, "daily report")
}

func (p *Pipeline) deliver(ctx context.Context, msg string) {
	if !p.limiter.Admit() {
		p.log.Warn("alert rate limited", "message", firstLine(msg))
		p.record(ctx, "ratelimited", firstLine(msg))
		return
	}
	p.send(ctx, msg, firstLine(msg))
}

func (p *Pipeline) send(ctx context.Context, msg, detail string) {
	if err := p.notify.Send(ctx, msg); err != nil {
		p.log.Error("notification failed", "detail", detail, "err", err)
		p.record(ctx, "failed", detail)
		return
	}
	p.record(ctx, "sent", detail)
}

func (p *Pipeline) record(ctx context.Context, status, detail string) {
	if p.sink == nil {
		return
	}
	e := models.NotificationEvent{TS: time.Now().UTC(), Channel: "telegram", Status: status, Detail: detail}
	if err := p.sink.InsertNotificationEvent(ctx, e); err != nil {
		p.log.Warn("record notification event", "err", err)
	}
}

func FormatNetworkAlert(a *models.NetworkAlert) string {
	var sb strings.Builder
	sb.WriteString("🚨 *Network alert*\n")
	fmt.Fprintf(&sb, "Signature: %s\n", orDash(a.Signature))
	fmt.Fprintf(&sb, "Severity: %d\n", a.Severity)
	fmt.Fprintf(&sb, "Source: %s\n", orDash(a.SrcAddr))
	fmt.Fprintf(&sb, "Destination: %s", orDash(a.DestAddr))
	if a.Blocked() {
		sb.WriteString("\nAction: blocked")
	}
	return sb.String()
}

func FormatRuntimeEvent(ev *models.RuntimeEvent) string {
	var sb strings.Builder
	sb.WriteString("⚠️ *Runtime event*\n")
	fmt.Fprintf(&sb, "Event: %s\n", ev.EventName)
	fmt.Fprintf(&sb, "Container: %s", orDash(ev.ContainerName))
	if ev.ProcessPath != "" {
		fmt.Fprintf(&sb, "\nProcess: %s", ev.ProcessPath)
	}
	return sb.String()
}

func FormatPackageInstall(ev *models.RuntimeEvent) string {
	var sb strings.Builder
	sb.WriteString("📦 *Package install detected*\n")
	fmt.Fprintf(&sb, "Container: %s\n", orDash(ev.ContainerName))
	fmt.Fprintf(&sb, "Command: `%s`", ev.CommandLine)
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}
