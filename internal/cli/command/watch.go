package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionguard/internal/cli/output"
	"github.com/yndnr/sessionguard/internal/config"
	"github.com/yndnr/sessionguard/internal/container"
	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/core/service"
	"github.com/yndnr/sessionguard/internal/infra/confloader"
	"github.com/yndnr/sessionguard/internal/infra/shutdown"
	"github.com/yndnr/sessionguard/internal/server/httpserver"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
)

// Watch defaults.
const (
	DefaultWatchInterval = 30 * time.Second
	drainTimeout         = 2 * time.Second
	shutdownTimeout      = 10 * time.Second
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Revalidate a credential periodically and stream state transitions",
		ArgsUsage: "[CREDENTIAL]",
		Flags: []cli.Flag{
			credentialFlag(),
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   DefaultWatchInterval,
				Usage:   "Time between validations",
			},
			&cli.IntFlag{
				Name:    "iterations",
				Aliases: []string{"n"},
				Usage:   "Stop after this many validations (0 runs until interrupted)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: DefaultCallTimeout,
				Usage: "Upper bound for each validation",
			},
		},
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	cred, err := credentialArg(c)
	if err != nil {
		return err
	}
	interval := c.Duration("interval")
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	mgr, err := container.ResolveAs[service.AuthStateManager](e.container, container.IAuthStateManager)
	if err != nil {
		return err
	}

	h := shutdown.NewHandler(shutdownTimeout, shutdown.WithLogger(e.log))
	ctx, cancel := h.Context(c.Context)
	defer cancel()

	stream := newTransitionStream(e)
	unsubscribe := mgr.Subscribe(stream.write)
	h.OnShutdown("subscription", func(context.Context) error {
		unsubscribe()
		return nil
	})

	if addr := e.cfg.Metrics.Addr; addr != "" {
		srv := httpserver.New(addr, httpserver.NewRouter(httpserver.RouterConfig{
			Metrics: e.metrics,
			Session: mgr,
			Logger:  e.log,
		}), httpserver.WithLogger(e.log))
		if err := srv.Start(); err != nil {
			return err
		}
		h.OnShutdown("http", srv.Shutdown)
	}

	if e.configPath != "" {
		w, err := watchLogLevel(e)
		if err != nil {
			return err
		}
		h.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
	}

	iterations := c.Int("iterations")
	timeout := c.Duration("timeout")
	var last domain.AuthState
loop:
	for i := 0; iterations <= 0 || i < iterations; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(interval):
			}
		}
		callCtx, callCancel := context.WithTimeout(ctx, timeout)
		last = mgr.ValidateSession(callCtx, cred)
		callCancel()
		if ctx.Err() != nil {
			break
		}
	}

	stream.drain(mgr.State().Seq, drainTimeout)
	h.Trigger()
	if err := h.Wait(ctx); err != nil {
		return err
	}
	if iterations > 0 {
		return stateExit(last, false)
	}
	return nil
}

// transitionStream renders subscriber notifications in arrival order.
type transitionStream struct {
	e        *env
	mu       sync.Mutex
	header   bool
	lastSeq  atomic.Uint64
	rendered chan struct{}
}

func newTransitionStream(e *env) *transitionStream {
	return &transitionStream{e: e, rendered: make(chan struct{}, 1)}
}

func (s *transitionStream) write(st domain.AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := newTransitionView(st)
	var err error
	if s.e.format == output.FormatTable {
		err = (&output.TableFormatter{NoHeaders: s.header}).Format(s.e.stdout, v)
		s.header = true
	} else {
		err = s.e.render(v)
	}
	if err != nil {
		s.e.log.Warn("failed to render transition", "seq", st.Seq, "error", err)
	}

	s.lastSeq.Store(st.Seq)
	select {
	case s.rendered <- struct{}{}:
	default:
	}
}

// drain waits until the transition with sequence seq has been rendered.
func (s *transitionStream) drain(seq uint64, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for s.lastSeq.Load() < seq {
		select {
		case <-s.rendered:
		case <-deadline.C:
			return
		}
	}
}

// watchLogLevel reapplies log.level whenever the config file changes.
func watchLogLevel(e *env) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(e.log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(e.configPath); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(path string) {
		next := config.Default()
		if err := e.loader.Reload(next); err != nil {
			e.log.Warn("config reload failed", "path", path, "error", err)
			return
		}
		if err := config.Verify(next); err != nil {
			e.log.Warn("reloaded config is invalid", "path", path, "error", err)
			return
		}
		if next.Log.Level != logger.GetLevel() {
			logger.SetLevel(next.Log.Level)
			e.log.Info("log level changed", "level", next.Log.Level)
		}
	})
	w.StartAsync()
	return w, nil
}
