package scheduler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/store"
	"github.com/czvisa/monitor/engine/timeline"
)

type fakeAdapter struct{}

func (fakeAdapter) QueryBatch(ctx context.Context, codes []string, correlationID string, onResult func(code string, status store.Status, err error)) error {
	return nil
}

type recordingNotifier struct {
	firstRecords  []string
	statusChanges []string
}

func (n *recordingNotifier) NotifyFirstRecord(code, target string, status store.Status, correlationID string) {
	n.firstRecords = append(n.firstRecords, code)
}

func (n *recordingNotifier) NotifyStatusChange(code, target string, oldStatus, newStatus store.Status, correlationID string) {
	n.statusChanges = append(n.statusChanges, code)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Manager, *recordingNotifier) {
	t.Helper()
	log := zap.NewNop().Sugar()
	mgr, err := store.NewManager(t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	notifier := &recordingNotifier{}
	sched := New(mgr, fakeAdapter{}, notifier, timeline.NewStore(), log, DefaultConfig())
	return sched, mgr, notifier
}

func TestIngestFirstCheckGranted(t *testing.T) {
	sched, mgr, notifier := newTestScheduler(t)

	item := &store.CodeItem{Code: "ABCD202508190001", Status: store.StatusPending, FirstCheck: true, FreqMinutes: 60, Channel: store.ChannelEmail, Target: "u@x"}
	if err := mgr.UpdateItem(store.OriginAdmin, item.Code, item); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	sched.setOrigin(item.Code, store.OriginAdmin)

	sched.ingestResult(item.Code, store.StatusGranted, nil, "corr-1")

	got := mgr.GetAdminItem(item.Code)
	if got.Status != store.StatusGranted {
		t.Fatalf("Status = %v, want Granted", got.Status)
	}
	if got.FirstCheck {
		t.Fatalf("FirstCheck still true after observation")
	}
	if got.NextCheck != nil {
		t.Fatalf("NextCheck = %v, want nil (terminal)", got.NextCheck)
	}
	if got.LastChanged == nil || got.LastChecked == nil || !got.LastChanged.Equal(*got.LastChecked) {
		t.Fatalf("LastChanged/LastChecked not equal on first observation")
	}
	if len(notifier.firstRecords) != 1 || notifier.firstRecords[0] != item.Code {
		t.Fatalf("expected one first-record notification, got %v", notifier.firstRecords)
	}
	if sched.queue.Has(item.Code) {
		t.Fatalf("terminal code left in queue")
	}
}

func TestIngestStatusChangeNotifies(t *testing.T) {
	sched, mgr, notifier := newTestScheduler(t)

	past := time.Now().Add(-time.Hour)
	item := &store.CodeItem{Code: "X1", Status: store.StatusProceedings, FreqMinutes: 60, LastChanged: &past, LastChecked: &past}
	mgr.UpdateItem(store.OriginAdmin, item.Code, item)
	sched.setOrigin(item.Code, store.OriginAdmin)

	sched.ingestResult(item.Code, store.StatusGranted, nil, "corr-2")

	got := mgr.GetAdminItem(item.Code)
	if got.LastChanged.Equal(past) {
		t.Fatalf("LastChanged not updated on status change")
	}
	if len(notifier.statusChanges) != 1 {
		t.Fatalf("expected one status-change notification, got %v", notifier.statusChanges)
	}
}

func TestIngestFailureRetryBackoffThenResume(t *testing.T) {
	sched, mgr, notifier := newTestScheduler(t)

	item := &store.CodeItem{Code: "Y1", Status: store.StatusPending, FreqMinutes: 60}
	mgr.UpdateItem(store.OriginAdmin, item.Code, item)
	sched.setOrigin(item.Code, store.OriginAdmin)

	var prevNext time.Time
	for i := 1; i <= 3; i++ {
		before := time.Now()
		sched.ingestResult(item.Code, store.StatusQueryFailed, nil, "corr-fail")
		got := mgr.GetAdminItem(item.Code)
		if got.RetryCount != i {
			t.Fatalf("after failure %d, RetryCount = %d, want %d", i, got.RetryCount, i)
		}
		wantDelay := time.Duration(1<<(i-1)) * time.Minute
		gotDelay := got.NextCheck.Sub(before)
		if gotDelay < wantDelay-time.Second || gotDelay > wantDelay+2*time.Second {
			t.Fatalf("retry %d delay = %v, want ~%v", i, gotDelay, wantDelay)
		}
		prevNext = *got.NextCheck
	}
	_ = prevNext

	// Fourth consecutive failure resumes normal frequency and resets RetryCount.
	sched.ingestResult(item.Code, store.StatusQueryFailed, nil, "corr-fail")
	got := mgr.GetAdminItem(item.Code)
	if got.RetryCount != 0 {
		t.Fatalf("RetryCount after 4th failure = %d, want 0", got.RetryCount)
	}
	if len(notifier.firstRecords)+len(notifier.statusChanges) != 0 {
		t.Fatalf("failures must never notify")
	}
}
