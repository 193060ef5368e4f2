package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/config"
	"github.com/czvisa/monitor/engine/coordination"
	"github.com/czvisa/monitor/engine/notify"
	"github.com/czvisa/monitor/engine/queryadapter"
	"github.com/czvisa/monitor/engine/scheduler"
	"github.com/czvisa/monitor/engine/store"
	"github.com/czvisa/monitor/engine/timeline"
)

// ServerOptions carries the pieces that come from outside the declarative
// config file: admin identities and the externally-visible base URL used
// to build verification links.
type ServerOptions struct {
	AdminEmails map[string]bool
	BaseURL     string
}

// Server owns every long-lived component of the running engine and their
// start/stop lifecycle. Run blocks until ctx is cancelled, then shuts
// everything down in reverse order.
type Server struct {
	log *zap.SugaredLogger

	store    *store.Manager
	watcher  *config.Watcher
	sched    *scheduler.Scheduler
	notifier *notify.Pipeline
	janitor  *coordination.Janitor
	timeline *timeline.Store
	hub      *SchedulerHub
	api      *API
	http     *http.Server
	serve    bool
}

// NewServer wires every component together without starting anything.
func NewServer(cfg *config.MonitorConfig, configPath string, opts ServerOptions, log *zap.SugaredLogger) (*Server, error) {
	mgr, err := store.NewManager(cfg.SiteDir, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tl := timeline.NewStore()

	pacing := scheduler.NewPacingLimiter(cfg.MaxQueriesPerSecond, 1)
	adapterCfg := queryadapter.DefaultConfig(cfg.QueryEndpoint)
	adapterCfg.Headless = cfg.Headless
	if cfg.Workers > 0 {
		adapterCfg.Workers = cfg.Workers
	}
	adapter := queryadapter.New(adapterCfg, log, pacing)

	smtpPool := notify.NewSMTPPool(notify.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}, log)
	firstCheckDelay := time.Duration(cfg.EmailFirstCheckDelaySeconds) * time.Second
	pipeline := notify.NewPipeline(smtpPool, log, tl, cfg.EmailMaxPerMinute, firstCheckDelay)

	sched := scheduler.New(mgr, adapter, pipeline, tl, log, scheduler.DefaultConfig())
	if err := sched.LoadInitial(cfg.Specs, cfg.DefaultFreqMinutes); err != nil {
		return nil, fmt.Errorf("load initial codes: %w", err)
	}

	janitorInterval := time.Duration(cfg.JanitorIntervalSeconds) * time.Second
	if janitorInterval <= 0 {
		janitorInterval = 60 * time.Second
	}
	janitor := coordination.New(mgr, log, janitorInterval)

	hub := NewSchedulerHub(sched, log)

	api := NewAPI(mgr, sched, pipeline, tl, log, opts.AdminEmails, opts.BaseURL, cfg.DefaultFreqMinutes)

	watcher, err := config.NewWatcher(configPath, log, func(newCfg *config.MonitorConfig, diff config.Diff) {
		sched.ApplyDiff(diff, newCfg.Specs, newCfg.DefaultFreqMinutes)
		api.SetDefaultFreqMinutes(newCfg.DefaultFreqMinutes)
		log.Infow("config reloaded",
			"added", len(diff.Added), "removed", len(diff.Removed), "modified", len(diff.Modified),
			"default_freq_changed", diff.DefaultFreqChanged,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}

	s := &Server{
		log:      log,
		store:    mgr,
		watcher:  watcher,
		sched:    sched,
		notifier: pipeline,
		janitor:  janitor,
		timeline: tl,
		hub:      hub,
		api:      api,
		serve:    cfg.Serve,
	}

	mux := api.Routes(hub)
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SitePort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts every background component and serves HTTP until ctx is
// cancelled, then shuts everything down. It returns once shutdown
// completes (or the listener fails for a reason other than a clean close).
func (s *Server) Run(ctx context.Context) error {
	if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}

	go s.sched.Run(ctx)
	go s.notifier.Run(ctx)
	s.janitor.Start(ctx)
	go s.hub.Run(ctx)

	if !s.serve {
		s.log.Infow("http listener disabled, running headless", "serve", false)
		<-ctx.Done()
		return s.shutdown()
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	s.log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warnw("http server shutdown did not complete cleanly", "error", err)
	}

	s.watcher.Stop()
	s.sched.Stop()

	return nil
}
