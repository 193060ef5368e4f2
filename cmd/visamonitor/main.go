// Command visamonitor polls a set of application/receipt codes on a fixed
// cadence, notifies subscribers by email on status change, and exposes an
// HTTP API for self-service add/verify/delete plus an admin live-status
// feed.
//
// Usage:
//
//	visamonitor [--env PATH] [--once]
//	visamonitor --install|--uninstall|--start|--stop|--restart|--status|--reload
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine"
	"github.com/czvisa/monitor/engine/config"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envPath = flag.String("env", "monitor.env", "path to the declarative configuration file")
		once    = flag.Bool("once", false, "load the configuration, log how many codes it declares, and exit without querying any code")

		install   = flag.Bool("install", false, "service-manager verb, not supported outside the installed service context")
		uninstall = flag.Bool("uninstall", false, "service-manager verb, not supported outside the installed service context")
		start     = flag.Bool("start", false, "service-manager verb, not supported outside the installed service context")
		stop      = flag.Bool("stop", false, "service-manager verb, not supported outside the installed service context")
		restart   = flag.Bool("restart", false, "service-manager verb, not supported outside the installed service context")
		reload    = flag.Bool("reload", false, "service-manager verb, not supported outside the installed service context")
		status    = flag.Bool("status", false, "service-manager verb, not supported outside the installed service context")

		adminEmails = flag.String("admin-emails", "", "comma-separated list of admin email addresses that may reach /admin/... endpoints")
		baseURL     = flag.String("base-url", "http://localhost:8080", "externally-visible base URL used to build verification links")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `visamonitor - polls configured codes and notifies subscribers on change

Usage:
  visamonitor [--env PATH] [--once]
  visamonitor --install|--uninstall|--start|--stop|--restart|--status|--reload

Options:
  --env PATH           path to the declarative configuration file (default monitor.env)
  --once               load the configuration, report the code count and exit (no code is queried)
  --admin-emails LIST  comma-separated admin email addresses
  --base-url URL       externally-visible base URL for verification links

Service-manager verbs (--install, --uninstall, --start, --stop, --restart,
--reload, --status) are accepted for compatibility with process supervisors
but report that they are not supported outside an installed service context;
this binary always runs in the foreground.
`)
	}
	flag.Parse()

	for _, svcFlag := range []*bool{install, uninstall, start, stop, restart, reload, status} {
		if *svcFlag {
			fmt.Fprintln(os.Stderr, "service-manager verbs are not supported outside the installed service context")
			return exitUsage
		}
	}

	log, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitRuntime
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Errorw("failed to load configuration", "path", *envPath, "error", err)
		return exitUsage
	}

	if *once {
		return runOnce(cfg, log)
	}

	opts := engine.ServerOptions{
		AdminEmails: parseAdminEmails(*adminEmails),
		BaseURL:     *baseURL,
	}

	srv, err := engine.NewServer(cfg, *envPath, opts, log)
	if err != nil {
		log.Errorw("failed to construct server", "error", err)
		return exitRuntime
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil {
		log.Errorw("server exited with error", "error", err)
		return exitRuntime
	}

	log.Infow("shutdown complete")
	return exitOK
}

// runOnce logs how many codes the already-loaded configuration declares and
// returns exitOK. It does not query any code, and it starts neither the HTTP
// server nor any background loop; a configuration that fails to load has
// already been rejected before it is called.
func runOnce(cfg *config.MonitorConfig, log *zap.SugaredLogger) int {
	log.Infow("once mode is not yet wired to a standalone evaluation path; run without --once", "codes", len(cfg.Specs))
	return exitOK
}

func parseAdminEmails(raw string) map[string]bool {
	emails := make(map[string]bool)
	for _, e := range strings.Split(raw, ",") {
		e = strings.TrimSpace(strings.ToLower(e))
		if e != "" {
			emails[e] = true
		}
	}
	return emails
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
