package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/config"
	"github.com/czvisa/monitor/engine/store"
	"github.com/czvisa/monitor/engine/timeline"
)

// Adapter is the external-collaborator contract for querying a batch of
// codes. Results stream back through onResult as they arrive so the
// scheduler can apply each one without waiting on the slowest code in the
// batch.
type Adapter interface {
	QueryBatch(ctx context.Context, codes []string, correlationID string, onResult func(code string, status store.Status, err error)) error
}

// Notifier is the subset of the notification pipeline the scheduler drives.
type Notifier interface {
	NotifyFirstRecord(code, target string, status store.Status, correlationID string)
	NotifyStatusChange(code, target string, oldStatus, newStatus store.Status, correlationID string)
}

const (
	retryBaseMinutes = 1
	maxRetries       = 3
)

// Scheduler owns the priority queue, dispatches batches, and ingests results.
type Scheduler struct {
	log      *zap.SugaredLogger
	store    *store.Manager
	adapter  Adapter
	notifier Notifier
	timeline *timeline.Store
	cfg      Config

	queue *Queue

	originsMu sync.Mutex
	origins   map[string]store.Origin

	stopCh chan struct{}
	wakeCh chan struct{}
}

// New builds a Scheduler ready for LoadInitial then Run.
func New(mgr *store.Manager, adapter Adapter, notifier Notifier, tl *timeline.Store, log *zap.SugaredLogger, cfg Config) *Scheduler {
	return &Scheduler{
		log:      log,
		store:    mgr,
		adapter:  adapter,
		notifier: notifier,
		timeline: tl,
		cfg:      cfg,
		queue:    NewQueue(),
		origins:  make(map[string]store.Origin),
		stopCh:   make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
}

// LoadInitial seeds the queue from both stores: declared admin specs (using
// the supplied spec set, creating missing CodeItems) and whatever is
// already in the user store. Terminal items are never queued.
func (s *Scheduler) LoadInitial(specs map[string]store.CodeSpec, defaultFreq int) error {
	admin := s.store.LoadAdmin()

	for code, spec := range specs {
		item := admin.Items[code]
		if item == nil {
			item = s.newAdminItem(spec, defaultFreq)
			if err := s.store.UpdateItem(store.OriginAdmin, code, item); err != nil {
				return fmt.Errorf("seed admin item %s: %w", code, err)
			}
		}
		s.setOrigin(code, store.OriginAdmin)
		s.enqueueFromItem(code, item, PriorityNormal)
	}

	users := s.store.LoadUsers()
	for code, item := range users.Codes {
		s.setOrigin(code, store.OriginUser)
		s.enqueueFromItem(code, item, PriorityNormal)
	}
	return nil
}

func (s *Scheduler) enqueueFromItem(code string, item *store.CodeItem, priority int) {
	if item.Status.IsTerminal() {
		return
	}
	next := time.Now()
	if item.NextCheck != nil {
		next = *item.NextCheck
	}
	s.queue.Push(&Task{Code: code, Priority: priority, NextCheck: next, SubmitTime: time.Now()})
}

func (s *Scheduler) newAdminItem(spec store.CodeSpec, defaultFreq int) *store.CodeItem {
	freq, usesDefault := config.EffectiveFreqMinutes(spec, defaultFreq)
	now := time.Now()
	return &store.CodeItem{
		Code:            spec.Code,
		Status:          store.StatusPending,
		FreqMinutes:     freq,
		UsesDefaultFreq: usesDefault,
		FirstCheck:      true,
		Channel:         spec.Channel,
		Target:          spec.Target,
		Note:            spec.Note,
		NextCheck:       &now,
	}
}

func (s *Scheduler) setOrigin(code string, origin store.Origin) {
	s.originsMu.Lock()
	s.origins[code] = origin
	s.originsMu.Unlock()
}

func (s *Scheduler) originOf(code string) (store.Origin, bool) {
	s.originsMu.Lock()
	defer s.originsMu.Unlock()
	o, ok := s.origins[code]
	return o, ok
}

func (s *Scheduler) dropOrigin(code string) {
	s.originsMu.Lock()
	delete(s.origins, code)
	s.originsMu.Unlock()
}

// Wake requests an immediate re-check of the queue head, coalescing with any
// wake already pending.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// ScheduleImmediate pushes code to the front of the queue (priority 1) if it
// is known to the scheduler, then wakes the loop.
func (s *Scheduler) ScheduleImmediate(code string) {
	if _, ok := s.originOf(code); !ok {
		return
	}
	s.queue.Push(&Task{Code: code, Priority: PriorityImmediate, NextCheck: time.Now(), SubmitTime: time.Now()})
	s.Wake()
}

// AdoptUserCode registers a freshly-verified user-store code with the
// scheduler so a subsequent ScheduleImmediate can find it. It does not
// queue the task itself; callers pair this with ScheduleImmediate.
func (s *Scheduler) AdoptUserCode(code string) {
	s.setOrigin(code, store.OriginUser)
}

// Forget removes a code from the queue and the origin index, used when a
// user deletes their own code.
func (s *Scheduler) Forget(code string) {
	s.queue.Remove(code)
	s.dropOrigin(code)
}

// Stop signals the loop to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Snapshot reports the queue's current shape for the admin live feed.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{QueueDepth: s.queue.Len()}
	if head := s.queue.Peek(); head != nil {
		snap.NextWake = head.NextCheck
	}
	return snap
}

// Run is the central loop: sleep until the next task is due (or woken, or
// stopped), pull a batch, dispatch it, and ingest results as they stream
// back. It never returns except on Stop; an internal panic is recovered and
// the loop restarts.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if s.runOnce(ctx) {
			return
		}
		s.log.Errorw("scheduler loop recovered from panic, restarting")
	}
}

func (s *Scheduler) runOnce(ctx context.Context) (stopped bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("scheduler loop panic", "recover", r)
			stopped = false
		}
	}()

	for {
		wait := s.cfg.MinWake
		if head := s.queue.Peek(); head != nil {
			if until := time.Until(head.NextCheck); until > wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return true
		case <-s.stopCh:
			timer.Stop()
			return true
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		s.dispatchBatch(ctx)
	}
}

func (s *Scheduler) dispatchBatch(ctx context.Context) {
	batch := s.queue.PopDueBatch(time.Now(), s.cfg.MaxConcurrent, s.cfg.BatchWindow)
	if len(batch) == 0 {
		return
	}

	codes := make([]string, len(batch))
	for i, t := range batch {
		codes[i] = t.Code
	}
	correlationID := uuid.NewString()
	s.log.Infow("dispatching batch", "correlation_id", correlationID, "codes", codes)

	err := s.adapter.QueryBatch(ctx, codes, correlationID, func(code string, status store.Status, err error) {
		s.ingestResult(code, status, err, correlationID)
	})
	if err != nil {
		s.log.Warnw("adapter batch dispatch failed", "correlation_id", correlationID, "error", err)
	}
}

func (s *Scheduler) ingestResult(code string, status store.Status, queryErr error, correlationID string) {
	origin, ok := s.originOf(code)
	if !ok {
		return // code was removed between dispatch and result
	}

	var item *store.CodeItem
	if origin == store.OriginAdmin {
		item = s.store.GetAdminItem(code)
	} else {
		item = s.store.GetUserItem(code)
	}
	if item == nil {
		return
	}

	now := time.Now()

	if status == store.StatusQueryFailed || queryErr != nil {
		s.applyFailure(origin, code, item, now)
		s.timeline.Record(timeline.Event{CorrelationID: correlationID, Stage: "query_failed", Code: code, Timestamp: now})
		return
	}

	oldStatus := item.Status
	changed := oldStatus != status
	firstNonFailure := item.FirstCheck

	item.Status = status
	item.LastChecked = &now
	if changed {
		item.LastChanged = &now
	} else if item.LastChanged == nil {
		item.LastChanged = &now
	}
	item.FirstCheck = false
	item.RetryCount = 0

	if status.IsTerminal() {
		item.NextCheck = nil
		s.queue.Remove(code)
	} else {
		next := now.Add(time.Duration(item.FreqMinutes) * time.Minute)
		item.NextCheck = &next
		s.queue.Push(&Task{Code: code, Priority: PriorityNormal, NextCheck: next, SubmitTime: now})
	}

	if err := s.store.UpdateItem(origin, code, item); err != nil {
		s.log.Warnw("failed to persist observation", "code", code, "error", err)
	}

	s.timeline.Record(timeline.Event{CorrelationID: correlationID, Stage: "observed", Code: code, Timestamp: now})

	if firstNonFailure && status != store.StatusNotFound {
		s.notifier.NotifyFirstRecord(code, item.Target, status, correlationID)
	} else if changed {
		s.notifier.NotifyStatusChange(code, item.Target, oldStatus, status, correlationID)
	}
}

func (s *Scheduler) applyFailure(origin store.Origin, code string, item *store.CodeItem, now time.Time) {
	item.RetryCount++
	if item.RetryCount > maxRetries {
		// Fourth consecutive failure: give up the backoff and resume normal cadence.
		item.RetryCount = 0
		next := now.Add(time.Duration(item.FreqMinutes) * time.Minute)
		item.NextCheck = &next
		s.queue.Push(&Task{Code: code, Priority: PriorityNormal, NextCheck: next, SubmitTime: now})
	} else {
		backoff := time.Duration(retryBaseMinutes<<(item.RetryCount-1)) * time.Minute
		next := now.Add(backoff)
		item.NextCheck = &next
		s.queue.Push(&Task{Code: code, Priority: PriorityNormal, NextCheck: next, SubmitTime: now})
	}
	if err := s.store.UpdateItem(origin, code, item); err != nil {
		s.log.Warnw("failed to persist failure retry state", "code", code, "error", err)
	}
}

// ApplyDiff reacts to a config reload: adds new admin codes at immediate
// priority, removes dropped ones from both queue and admin store, updates
// modified channel/target/freq/note, and recomputes next_check for every
// item using the default frequency when the default itself changed.
func (s *Scheduler) ApplyDiff(diff config.Diff, newSpecs map[string]store.CodeSpec, defaultFreq int) {
	now := time.Now()

	for _, code := range diff.Added {
		spec := newSpecs[code]
		item := s.newAdminItem(spec, defaultFreq)
		if err := s.store.UpdateItem(store.OriginAdmin, code, item); err != nil {
			s.log.Warnw("failed to persist new admin item", "code", code, "error", err)
			continue
		}
		s.setOrigin(code, store.OriginAdmin)
		s.queue.Push(&Task{Code: code, Priority: PriorityImmediate, NextCheck: now, SubmitTime: now})
	}

	for _, code := range diff.Removed {
		s.queue.Remove(code)
		s.dropOrigin(code)
		if err := s.store.RemoveAdminItem(code); err != nil {
			s.log.Warnw("failed to remove admin item", "code", code, "error", err)
		}
	}

	for _, code := range diff.Modified {
		spec := newSpecs[code]
		item := s.store.GetAdminItem(code)
		if item == nil {
			continue
		}
		freq, usesDefault := config.EffectiveFreqMinutes(spec, defaultFreq)
		item.Channel = spec.Channel
		item.Target = spec.Target
		item.Note = spec.Note
		item.FreqMinutes = freq
		item.UsesDefaultFreq = usesDefault
		s.recomputeNextCheck(store.OriginAdmin, code, item)
	}

	if diff.DefaultFreqChanged {
		admin := s.store.LoadAdmin()
		for code, item := range admin.Items {
			if !item.UsesDefaultFreq {
				continue
			}
			item.FreqMinutes = defaultFreq
			s.recomputeNextCheck(store.OriginAdmin, code, item)
		}
		users := s.store.LoadUsers()
		for code, item := range users.Codes {
			if !item.UsesDefaultFreq {
				continue
			}
			item.FreqMinutes = defaultFreq
			s.recomputeNextCheck(store.OriginUser, code, item)
		}
	}

	if len(diff.Added) > 0 {
		s.Wake()
	}
}

func (s *Scheduler) recomputeNextCheck(origin store.Origin, code string, item *store.CodeItem) {
	if item.Status.IsTerminal() {
		if err := s.store.UpdateItem(origin, code, item); err != nil {
			s.log.Warnw("failed to persist modified item", "code", code, "error", err)
		}
		return
	}

	base := time.Now()
	if item.LastChecked != nil {
		base = *item.LastChecked
	}
	next := base.Add(time.Duration(item.FreqMinutes) * time.Minute)
	item.NextCheck = &next

	if err := s.store.UpdateItem(origin, code, item); err != nil {
		s.log.Warnw("failed to persist modified item", "code", code, "error", err)
		return
	}
	s.queue.Push(&Task{Code: code, Priority: PriorityNormal, NextCheck: next, SubmitTime: time.Now()})
}
