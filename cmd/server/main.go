// Approver is a loopback notification daemon: it admits risk notifications
// from assistant hooks, debounces and expires them, and presents what is
// currently visible.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	ac "github.com/linnemanlabs/approver/internal/cfg"
	"github.com/linnemanlabs/approver/internal/dispatch"
	"github.com/linnemanlabs/approver/internal/event"
	"github.com/linnemanlabs/approver/internal/instance"
	"github.com/linnemanlabs/approver/internal/lifecycle"
	"github.com/linnemanlabs/approver/internal/notify/slack"
	"github.com/linnemanlabs/approver/internal/notifyapi"
	"github.com/linnemanlabs/approver/internal/present/console"
)

const appName = "approver"
const component = "server"

// Exit statuses.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
	exitStale  = 3
)

var errConfig = errors.New("configuration validation failed")

func main() {
	err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	case errors.Is(err, instance.ErrStaleBinding):
		return exitStale
	default:
		return exitFatal
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    ac.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first; env vars fill only what flags left unset
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "APPROVER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("%w: http and admin ports must differ (both %d)", errConfig, appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	lockPath := appCfg.LockFile
	if lockPath == "" {
		lockPath = instance.DefaultLockPath(appCfg.APIPort)
	}
	baseURL := instance.BaseURL(appCfg.BindAddress, appCfg.APIPort)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"bind_address", appCfg.BindAddress,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"lock_file", lockPath,
		"debounce", appCfg.Debounce,
		"high_expiry", appCfg.HighExpiry,
		"medium_expiry", appCfg.MediumExpiry,
		"done_expiry", appCfg.DoneExpiry,
		"max_visible", appCfg.MaxVisible,
		"max_pending", appCfg.MaxPending,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_tracing", traceCfg.EnableTracing,
	)

	// A healthy peer on the port means there is nothing to do.
	guard := instance.NewGuard(lockPath, baseURL, L)
	outcome, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	if outcome == instance.PeerRunning {
		return nil
	}
	defer func() {
		if err := guard.Release(); err != nil {
			L.Error(context.Background(), err, "failed to release instance lock")
		}
	}()

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Lifecycle manager and its observers.
	lifecycleMetrics := lifecycle.NewMetrics(m.Registry())
	manager := lifecycle.NewManager(lifecycle.Options{
		Policy: appCfg.Policy(),
		Logger: L,
		Hooks:  lifecycleMetrics.Hooks(),
	})
	defer manager.Close()

	defer manager.Subscribe(console.New(L))()

	// background workers outlive the signal context so Stop can drain them
	workerCtx := context.WithoutCancel(ctx)

	var relay *slack.Relay
	if appCfg.SlackWebhookURL != "" {
		relay = slack.NewRelay(slack.New(appCfg.SlackWebhookURL, L), L, appCfg.SlackRatePerSec)
		relay.Start(workerCtx)
		defer manager.Subscribe(relay)()
		L.Info(ctx, "notifier enabled", "type", "slack", "rate_per_sec", appCfg.SlackRatePerSec)
	}

	queue := dispatch.New(manager, L, appCfg.QueueSize)
	queue.Start(workerCtx)

	// readiness fails once shutdown starts
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	r.Use(httpmw.AccessLog())

	// decoders enforce the same cap and answer with a JSON 400
	r.Use(httpmw.MaxBody(event.MaxBodyBytes + 1))

	notifyapi.New(L, queue).RegisterRoutes(r)

	// middleware order matters: outermost sees the raw request first and the
	// response last
	var h http.Handler = r

	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace liveness probes from hooks
			return r.URL.Path != notifyapi.PathHealth
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	h = m.Middleware(h)

	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	h = httpmw.Recover(L, nil)(h)

	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	addr := net.JoinHostPort(appCfg.BindAddress, strconv.Itoa(appCfg.APIPort))
	apiHTTPStop, err := httpserver.Start(ctx, addr, h, L, apiOpts)
	if err != nil {
		// lost a bind race to a healthy peer, or the port is held by something stale
		outcome, rerr := guard.ResolveBindError(ctx, err)
		if rerr != nil {
			L.Error(ctx, rerr, "failed to start notification listener", "addr", addr)
			return rerr
		}
		if outcome == instance.PeerRunning {
			return nil
		}
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop notification listener")
		}
	}()

	L.Info(ctx, "notification endpoint listening", "addr", addr)

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"notification http server", apiHTTPStop},
		{"dispatch queue", queue.Stop},
	}
	if relay != nil {
		stopFns = append(stopFns, stopFn{"slack relay", relay.Stop})
	}
	stopFns = append(stopFns,
		stopFn{"lifecycle manager", func(context.Context) error {
			manager.Close()
			return nil
		}},
		stopFn{"ops http server", opsHTTPStop},
	)
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set, skipping systemd notify")

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("systemd notify failed: %w", err)
	}
	if !sent {
		return errNoNotifySocket
	}
	return nil
}
