// Package coordination runs the background sweep that expires short-lived
// user-store credentials.
package coordination

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/store"
)

// Janitor periodically removes expired pending additions, verification
// codes, and sessions from the user store.
type Janitor struct {
	store    *store.Manager
	log      *zap.SugaredLogger
	interval time.Duration
}

// New builds a Janitor that sweeps every interval.
func New(mgr *store.Manager, log *zap.SugaredLogger, interval time.Duration) *Janitor {
	return &Janitor{store: mgr, log: log, interval: interval}
}

// Start launches the sweep loop in a background goroutine.
func (j *Janitor) Start(ctx context.Context) {
	go j.loop(ctx)
}

func (j *Janitor) loop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Errorw("janitor panic, sweep loop exiting", "recover", r)
		}
	}()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	users := j.store.LoadUsers()
	now := time.Now()

	var expiredPending, expiredCodes, expiredSessions int

	for token, p := range users.PendingAdditions {
		if now.After(p.Expires) {
			delete(users.PendingAdditions, token)
			expiredPending++
		}
	}
	for email, v := range users.VerificationCodes {
		if now.After(v.Expires) {
			delete(users.VerificationCodes, email)
			expiredCodes++
		}
	}
	for sid, s := range users.Sessions {
		if now.After(s.ExpiresAt) {
			delete(users.Sessions, sid)
			expiredSessions++
		}
	}

	if expiredPending+expiredCodes+expiredSessions == 0 {
		return
	}

	if err := j.store.SaveUsers(users); err != nil {
		j.log.Warnw("janitor failed to persist sweep", "error", err)
		return
	}
	j.log.Infow("janitor swept expired credentials",
		"pending_additions", expiredPending,
		"verification_codes", expiredCodes,
		"sessions", expiredSessions,
	)
}
