// Package app wires configuration, storage, the scheduler, the command
// processor and the chat transport into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/command"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/housekeeping"
	"remindbot/internal/observability/httpserver"
	"remindbot/internal/recovery"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

const updatesBuffer = 256

type App struct {
	cfgm *config.ConfigManager
	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    storage.Store
	adapter  transport.Adapter
	sched    *scheduler.Scheduler
	proc     *command.Processor
	disp     *command.Dispatcher
	recovery *recovery.Loader
	hk       *housekeeping.Service
	http     *httpserver.Service

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

type options struct {
	adapter transport.Adapter
}

type Option func(*options)

// WithAdapter replaces the Telegram transport built from the config.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// New loads the config file and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.Comp("config")))

	ad := o.adapter
	if ad == nil {
		tc, err := mapTelegram(cfg)
		if err != nil {
			return nil, err
		}
		if ad, err = telegram.New(tc, log); err != nil {
			return nil, err
		}
	}
	logs.SetSender(ad)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a, err := build(cfg, log, store, ad)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	log.Info("app configured", logx.String("storage", sc.Driver), logx.String("timezone", cfg.Scheduler.Timezone))
	return a, nil
}

func build(cfg *config.Config, log logx.Logger, store storage.Store, ad transport.Adapter) (*App, error) {
	bus := eventbus.New()

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return nil, err
	}
	cmdCfg, err := mapCommands(cfg)
	if err != nil {
		return nil, err
	}
	hkCfg, err := mapHousekeeping(cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(store, ad, schedCfg, scheduler.WithLogger(log), scheduler.WithBus(bus))
	proc := command.New(store, sched, cmdCfg, command.WithLogger(log), command.WithBus(bus))
	return &App{
		log:      log.With(logx.Comp("app")),
		bus:      bus,
		store:    store,
		adapter:  ad,
		sched:    sched,
		proc:     proc,
		disp:     command.NewDispatcher(proc, ad, cfg.Commands.Workers, log),
		recovery: recovery.New(store, sched, recovery.WithLogger(log), recovery.WithBus(bus), recovery.WithRetry(storageRetry(cfg))),
		hk:       housekeeping.New(store, hkCfg, housekeeping.WithLogger(log)),
		http:     httpserver.New(mapHTTP(cfg), log),
		updates:  make(chan transport.Update, updatesBuffer),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings the process up in dependency order: the timer loop first,
// then recovery of persisted reminders, then inbound traffic.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.sched.Start(run); err != nil {
		return err
	}
	n, err := a.recovery.Recover(ctx)
	if err != nil {
		var se *reminder.StoreError
		if errors.As(err, &se) && se.Op == "recover" {
			return fmt.Errorf("recover reminders: %w", err)
		}
		// Individual records that failed stay in the store; the next start
		// picks them up again.
		a.log.Warn("recovery incomplete", logx.Int("scheduled", n), logx.Err(err))
	}

	a.sup.Go0("audit", a.auditLoop)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("transport.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.proc.MenuCommands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.Run(c, a.updates)
	})

	if err := a.hk.Start(run); err != nil {
		a.log.Warn("housekeeping not started", logx.Err(err))
	}
	a.registerHealth()
	a.http.Start(run)

	if a.cfgm != nil {
		a.sup.Go0("config.reload", a.reloadLoop)
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	notifySystemd(a.log, sdReady)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })
	a.log.Info("app started", logx.Int("recovered", n))
	return nil
}

func (a *App) registerHealth() {
	a.http.AddCheck("scheduler", func(ctx context.Context) (any, error) {
		return a.sched.Stats(ctx)
	})
	a.http.AddCheck("supervisor", func(context.Context) (any, error) {
		snap := a.sup.Snapshot()
		if snap.FirstError != "" {
			return snap, errors.New(snap.FirstError)
		}
		return snap, nil
	})
	a.http.AddCheck("housekeeping", func(context.Context) (any, error) {
		return a.hk.Status(), nil
	})
	a.http.AddCheck("events", func(context.Context) (any, error) {
		return map[string]uint64{"dropped": a.bus.Dropped()}, nil
	})
}

// Stop shuts components down in reverse order, each bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifySystemd(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("transport", 3*time.Second, a.adapter.Stop)
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
