package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/store"
	"github.com/czvisa/monitor/engine/timeline"
)

// Event describes one outbound notification before rendering.
type Event struct {
	Kind          Kind
	Code          string
	Target        string
	OldStatus     store.Status
	NewStatus     store.Status
	Link          string
	CorrelationID string
}

// Pipeline renders and sends notifications. Status-change mail goes through
// a rate-limited queue; verification and management-code mail bypass it,
// since a user is actively waiting on those in their browser.
type Pipeline struct {
	pool     *SMTPPool
	log      *zap.SugaredLogger
	timeline *timeline.Store
	limiter  *slidingWindowLimiter

	firstCheckDelay time.Duration

	queue chan Event
}

// NewPipeline builds a pipeline capped at maxPerMinute queued sends per
// trailing 60s window; a non-positive maxPerMinute disables the cap (emails
// go out as fast as the SMTP pool allows). firstCheckDelay holds a
// first-check notification back before it joins the queue, giving a query
// that flips from Pending to a terminal status moments after the initial
// check time to settle before the user is told about it.
func NewPipeline(pool *SMTPPool, log *zap.SugaredLogger, tl *timeline.Store, maxPerMinute int, firstCheckDelay time.Duration) *Pipeline {
	return &Pipeline{
		pool:            pool,
		log:             log,
		timeline:        tl,
		limiter:         newSlidingWindowLimiter(maxPerMinute, time.Minute),
		firstCheckDelay: firstCheckDelay,
		queue:           make(chan Event, 1000),
	}
}

// Run drains the rate-limited queue until ctx is cancelled. Each background
// goroutine in this engine restarts on panic rather than dying silently;
// this one is no exception.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		if p.runOnce(ctx) {
			return
		}
		p.log.Errorw("notification pipeline recovered from panic, restarting")
	}
}

func (p *Pipeline) runOnce(ctx context.Context) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("notification pipeline panic", "recover", r)
			stopped = false
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true
		case ev := <-p.queue:
			if err := p.limiter.Wait(ctx); err != nil {
				return true
			}
			p.deliver(ev)
		}
	}
}

// NotifyFirstRecord satisfies scheduler.Notifier.
func (p *Pipeline) NotifyFirstRecord(code, target string, status store.Status, correlationID string) {
	p.Enqueue(Event{Kind: KindFirstRecord, Code: code, Target: target, NewStatus: status, CorrelationID: correlationID})
}

// NotifyStatusChange satisfies scheduler.Notifier.
func (p *Pipeline) NotifyStatusChange(code, target string, oldStatus, newStatus store.Status, correlationID string) {
	p.Enqueue(Event{Kind: KindStatusChange, Code: code, Target: target, OldStatus: oldStatus, NewStatus: newStatus, CorrelationID: correlationID})
}

// SendVerificationLink delivers immediately, bypassing the rate-limited queue.
func (p *Pipeline) SendVerificationLink(email, code, link, correlationID string) error {
	return p.deliverNow(Event{Kind: KindVerificationLink, Code: code, Target: email, Link: link, CorrelationID: correlationID})
}

// SendManagementCode delivers immediately, bypassing the rate-limited queue.
// Code here is the one-time login/management credential, not a monitored code.
func (p *Pipeline) SendManagementCode(email, credential, correlationID string) error {
	return p.deliverNow(Event{Kind: KindManagementCode, Code: credential, Target: email, CorrelationID: correlationID})
}

// Enqueue routes ev to the rate-limited queue or delivers it immediately,
// per the Kind's queued/bypass rule. A first-record notification is held
// back by firstCheckDelay before it joins the queue.
func (p *Pipeline) Enqueue(ev Event) {
	if !ev.Kind.queued() {
		if err := p.deliverNow(ev); err != nil {
			p.log.Warnw("immediate notification failed", "kind", ev.Kind, "target", ev.Target, "error", err)
		}
		return
	}
	if ev.Kind == KindFirstRecord && p.firstCheckDelay > 0 {
		time.AfterFunc(p.firstCheckDelay, func() { p.submit(ev) })
		return
	}
	p.submit(ev)
}

func (p *Pipeline) submit(ev Event) {
	select {
	case p.queue <- ev:
	default:
		p.log.Warnw("notification queue full, dropping", "kind", ev.Kind, "code", ev.Code)
	}
}

func (p *Pipeline) deliverNow(ev Event) error {
	return p.deliver(ev)
}

func (p *Pipeline) deliver(ev Event) error {
	subject, html, err := p.render(ev)
	if err != nil {
		p.recordTimeline(ev, "notification_render_failed")
		return fmt.Errorf("render %s notification: %w", ev.Kind, err)
	}

	if err := p.pool.Send([]string{ev.Target}, subject, html); err != nil {
		p.log.Warnw("notification send failed", "kind", ev.Kind, "target", ev.Target, "error", err)
		p.recordTimeline(ev, "notification_send_failed")
		return err
	}
	p.recordTimeline(ev, "notification_sent")
	return nil
}

func (p *Pipeline) render(ev Event) (subject, html string, err error) {
	switch ev.Kind {
	case KindFirstRecord:
		html, err = renderFirstRecord(ev.Code, ev.NewStatus)
		subject = fmt.Sprintf("Status update for %s", ev.Code)
	case KindStatusChange:
		html, err = renderStatusChange(ev.Code, ev.OldStatus, ev.NewStatus)
		subject = fmt.Sprintf("Status changed for %s", ev.Code)
	case KindVerificationLink:
		html, err = renderVerificationLink(ev.Code, ev.Link)
		subject = "Confirm your monitoring request"
	case KindManagementCode:
		html, err = renderManagementCode(ev.Code)
		subject = "Your management code"
	default:
		return "", "", fmt.Errorf("unknown notification kind %q", ev.Kind)
	}
	return subject, html, err
}

func (p *Pipeline) recordTimeline(ev Event, stage string) {
	if p.timeline == nil {
		return
	}
	p.timeline.Record(timeline.Event{
		CorrelationID: ev.CorrelationID,
		Stage:         stage,
		Code:          ev.Code,
		Timestamp:     time.Now(),
	})
}
