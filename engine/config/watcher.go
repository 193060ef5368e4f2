package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadRetries and reloadRetryDelay implement the "reload robustness"
// heuristic: some editors truncate-then-rewrite on save, which can briefly
// leave the file empty. If a reload yields zero specs when the previous
// load had more than zero, retry a few times before accepting the empty
// result as real.
const (
	reloadRetries    = 3
	reloadRetryDelay = 500 * time.Millisecond
	debounceWindow   = 100 * time.Millisecond
)

// Watcher watches a config file for changes and invokes onChange with the
// newly-loaded configuration and the diff against the previous load.
type Watcher struct {
	path     string
	log      *zap.SugaredLogger
	onChange func(*MonitorConfig, Diff)

	current *MonitorConfig
	fsw     *fsnotify.Watcher
	stop    chan struct{}
}

// NewWatcher performs the initial load and prepares (but does not start)
// the file-system watch.
func NewWatcher(path string, log *zap.SugaredLogger, onChange func(*MonitorConfig, Diff)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		log:      log,
		onChange: onChange,
		current:  cfg,
		stop:     make(chan struct{}),
	}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *MonitorConfig {
	return w.current
}

// Start begins watching the config file's directory (watching the directory
// rather than the file directly survives editors that replace the file via
// rename-on-save, which would otherwise orphan a direct file watch).
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go w.loop()
	return nil
}

// Stop tears down the watch goroutine.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) loop() {
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-w.stop:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("config watcher error", "error", err)

		case <-reload:
			w.reloadWithRetry()
		}
	}
}

func (w *Watcher) reloadWithRetry() {
	prevCount := len(w.current.Specs)

	var cfg *MonitorConfig
	var err error
	for attempt := 0; attempt <= reloadRetries; attempt++ {
		cfg, err = Load(w.path)
		if err != nil {
			w.log.Warnw("config reload failed", "error", err, "attempt", attempt)
			return
		}
		if len(cfg.Specs) > 0 || prevCount == 0 || attempt == reloadRetries {
			break
		}
		w.log.Debugw("config reload yielded zero specs, retrying", "attempt", attempt)
		time.Sleep(reloadRetryDelay)
	}

	diff := ComputeDiff(w.current.Specs, cfg.Specs, w.current.DefaultFreqMinutes, cfg.DefaultFreqMinutes)
	w.current = cfg
	if !diff.IsEmpty() {
		w.log.Infow("config reloaded", "added", len(diff.Added), "removed", len(diff.Removed), "modified", len(diff.Modified), "default_freq_changed", diff.DefaultFreqChanged)
	}
	w.onChange(cfg, diff)
}
