// Package daemon wires the timer engine, alarm repeater and menu manager to
// the message bus, the admin HTTP server and the configuration file.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/alarms"
	"git.home.luguber.info/inful/satellited/internal/config"
	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/menu"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/services"
	"git.home.luguber.info/inful/satellited/internal/statestore"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

const (
	serviceScheduler = "scheduler"
	serviceTimers    = "timers"
	serviceAlarms    = "alarms"
	serviceMenu      = "menu"
	serviceTransport = "transport"
	serviceAdmin     = "admin"
	serviceWatcher   = "config_watcher"

	shutdownTimeout = 15 * time.Second
)

// Deps are the external resources a daemon runs against. Connect builds
// them from configuration; tests supply in-memory versions.
//
// Scheduler, when set, runs every deferred callback. Otherwise timer expiry
// and housekeeping run on gocron and short timeouts on the clock.
type Deps struct {
	States     statestore.Store
	Invoker    actions.Invoker
	TimerStore timers.Store
	Conn       Conn // nil runs without the bus transport
	Clock      clockwork.Clock
	Scheduler  deferred.Scheduler
	Registry   *prometheus.Registry
	Logger     *slog.Logger
}

// Daemon is one running satellite service.
type Daemon struct {
	configPath string
	logger     *slog.Logger
	clock      clockwork.Clock

	cfgMu sync.RWMutex
	cfg   *config.Config

	bus          *events.Bus
	sched        deferred.Scheduler // menu, debounce and alarm watchdog
	timerSched   deferred.Scheduler // timer expiry and purge
	cron         *deferred.CronScheduler
	registry     *prometheus.Registry
	engine       *timers.Engine
	repeater     *alarms.Repeater
	publisher    *menu.Publisher
	manager      *menu.Manager
	facade       *services.Facade
	transport    *Transport
	admin        *AdminServer
	orchestrator *services.ServiceOrchestrator
	notifier     *expiryNotifier

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.Mutex
	unsubs []func()
	purge  *deferred.Handle
}

// New assembles a daemon from cfg and deps. configPath, when set, is watched
// for changes.
func New(cfg *config.Config, configPath string, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.InvalidArgumentError("config is required").Build()
	}
	if deps.States == nil || deps.Invoker == nil || deps.TimerStore == nil {
		return nil, ferrors.InvalidArgumentError("state store, invoker and timer store are required").Build()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	d := &Daemon{
		configPath: configPath,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
		bus:        events.NewBus(),
		sched:      deps.Scheduler,
		timerSched: deps.Scheduler,
	}
	if deps.Scheduler == nil {
		cron, err := deferred.NewCronScheduler(clock, logger)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "create scheduler").Build()
		}
		d.cron = cron
		d.timerSched = cron
		d.sched = deferred.NewClockScheduler(clock)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.On() {
		d.registry = deps.Registry
		if d.registry == nil {
			d.registry = prometheus.NewRegistry()
		}
		recorder = metrics.NewPrometheusRecorder(d.registry)
	}

	d.engine = timers.NewEngine(deps.TimerStore,
		timers.WithClock(clock),
		timers.WithScheduler(d.timerSched),
		timers.WithBus(d.bus),
		timers.WithRecorder(recorder),
		timers.WithLogger(logger.With("component", serviceTimers)))

	d.repeater = alarms.NewRepeater(alarms.NewActionPlayer(deps.Invoker, deps.States),
		alarms.WithScheduler(d.sched),
		alarms.WithBaseURL(cfg.Platform.BaseURL),
		alarms.WithFinishTimeout(cfg.Alarms.FinishTimeout),
		alarms.WithDefaultMediaType(cfg.Alarms.DefaultMediaType),
		alarms.WithRecorder(recorder),
		alarms.WithLogger(logger.With("component", serviceAlarms)))

	d.publisher = menu.NewPublisher(deps.States, d.sched, clock, menu.PublisherConfig{
		QuietWindow: cfg.Menu.Debounce,
		MaxDelay:    cfg.Menu.MaxDelay,
		Retry:       cfg.Menu.WritePolicy(),
	}, recorder, logger.With("component", "menu_publisher"))

	manager, err := menu.NewManager(menu.Config{
		Store:             deps.States,
		Publisher:         d.publisher,
		Invoker:           deps.Invoker,
		Scheduler:         d.sched,
		Resolver:          configResolver{cfg: cfg},
		Bus:               d.bus,
		Recorder:          recorder,
		Logger:            logger.With("component", serviceMenu),
		NavigateNamespace: cfg.Menu.NavigateNamespace,
	})
	if err != nil {
		return nil, err
	}
	d.manager = manager

	d.facade = services.NewFacade(services.FacadeConfig{
		Timers:   d.engine,
		Alarms:   d.repeater,
		Menu:     d.manager,
		Clock:    clock,
		Recorder: recorder,
		Logger:   logger.With("component", "facade"),
	})
	d.notifier = &expiryNotifier{
		invoker: deps.Invoker,
		alarms:  d.repeater,
		config:  d.Config,
		logger:  logger.With("component", "notifier"),
	}

	if deps.Conn != nil {
		d.transport = NewTransport(deps.Conn, cfg.NATS.SubjectPrefix, d.facade, d.bus, logger.With("component", serviceTransport))
	}

	d.orchestrator = services.NewServiceOrchestrator(logger)
	if cfg.HTTP.AdminAddr != "" {
		metricsPath := ""
		if cfg.Metrics.On() {
			metricsPath = cfg.Metrics.Path
		}
		d.admin = NewAdminServer(AdminConfig{
			Addr:        cfg.HTTP.AdminAddr,
			MetricsPath: metricsPath,
			Registry:    d.registry,
			Facade:      d.facade,
			Health:      d.orchestrator,
			StartedAt:   clock.Now(),
			Logger:      logger.With("component", serviceAdmin),
		})
	}

	if err := d.registerServices(); err != nil {
		return nil, err
	}
	return d, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// Facade exposes the action facade.
func (d *Daemon) Facade() *services.Facade { return d.facade }

// Orchestrator exposes service status.
func (d *Daemon) Orchestrator() *services.ServiceOrchestrator { return d.orchestrator }

// Admin returns the admin server, nil when disabled.
func (d *Daemon) Admin() *AdminServer { return d.admin }

func (d *Daemon) registerServices() error {
	core := []services.ManagedService{
		&services.FuncService{
			ServiceName: serviceScheduler,
			StartFunc: func(context.Context) error {
				if d.cron != nil {
					d.cron.Start()
				}
				return nil
			},
			StopFunc: func(context.Context) error {
				if d.cron != nil {
					return d.cron.Stop()
				}
				return nil
			},
		},
		&services.FuncService{
			ServiceName: serviceTimers,
			DependsOn:   []string{serviceScheduler},
			StartFunc:   d.startTimers,
			StopFunc: func(context.Context) error {
				d.stopPurge()
				d.engine.Stop()
				return nil
			},
		},
		&services.FuncService{
			ServiceName: serviceAlarms,
			DependsOn:   []string{serviceScheduler},
			StartFunc: func(context.Context) error {
				ch, unsubscribe := events.Subscribe[events.PlaybackFinished](d.bus, 16)
				d.addUnsub(unsubscribe)
				d.goRun(func(ctx context.Context) { d.repeater.Listen(ctx, ch) })
				return nil
			},
		},
		&services.FuncService{
			ServiceName: serviceMenu,
			DependsOn:   []string{serviceScheduler},
			StartFunc: func(context.Context) error {
				ch, unsubscribe := events.Subscribe[events.ViewChanged](d.bus, 16)
				d.addUnsub(unsubscribe)
				d.goRun(func(ctx context.Context) { d.manager.Listen(ctx, ch) })
				d.manager.Start(d.runCtx, d.StartupSignal())
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				d.manager.Stop()
				if err := d.publisher.FlushAll(ctx); err != nil {
					d.logger.Warn("Flushing menu writes failed", logfields.Error(err))
				}
				return nil
			},
		},
	}
	for _, svc := range core {
		if err := d.orchestrator.RegisterService(svc); err != nil {
			return err
		}
	}

	components := []string{serviceTimers, serviceAlarms, serviceMenu}
	if d.transport != nil {
		if err := d.orchestrator.RegisterService(&services.FuncService{
			ServiceName: serviceTransport,
			DependsOn:   components,
			StartFunc:   func(context.Context) error { return d.transport.Start(d.runCtx) },
			StopFunc:    d.transport.Stop,
		}); err != nil {
			return err
		}
	}
	if d.admin != nil {
		if err := d.orchestrator.RegisterService(&services.FuncService{
			ServiceName: serviceAdmin,
			DependsOn:   components,
			StartFunc:   d.admin.Start,
			StopFunc:    d.admin.Stop,
		}); err != nil {
			return err
		}
	}
	if d.configPath != "" {
		watcher, err := config.NewWatcher(d.configPath, d.ReloadConfig, d.logger.With("component", serviceWatcher))
		if err != nil {
			return err
		}
		if err := d.orchestrator.RegisterService(&services.FuncService{
			ServiceName: serviceWatcher,
			DependsOn:   []string{serviceMenu},
			StartFunc:   func(context.Context) error { return watcher.Start(d.runCtx) },
			StopFunc:    watcher.Stop,
		}); err != nil {
			return err
		}
	}
	return nil
}

// StartupSignal is closed once the platform has started. Without a
// transport, or when waiting is disabled, it is closed already.
func (d *Daemon) StartupSignal() <-chan struct{} {
	if d.transport != nil && d.Config().Platform.Wait() {
		return d.transport.Startup()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (d *Daemon) startTimers(ctx context.Context) error {
	// Subscribe before loading so expiries found at startup are delivered.
	ch, unsubscribe := events.Subscribe[events.TimerExpired](d.bus, 32)
	d.addUnsub(unsubscribe)
	d.goRun(func(ctx context.Context) { d.notifier.run(ctx, ch) })

	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	return d.startPurge()
}

func (d *Daemon) startPurge() error {
	tc := d.Config().Timers
	if tc.PurgeInterval <= 0 {
		return nil
	}
	purge := func() {
		if n := d.engine.PurgeExpired(d.runCtx, d.Config().Timers.ExpiredRetention); n > 0 {
			d.logger.Info("Purged expired timers", slog.Int("count", n))
		}
	}
	if d.cron != nil {
		_, err := d.cron.ScheduleEvery("purge-expired-timers", tc.PurgeInterval, purge)
		return err
	}

	var loop func()
	loop = func() {
		purge()
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.runCtx.Err() == nil {
			d.purge = d.timerSched.Schedule(tc.PurgeInterval, loop)
		}
	}
	d.mu.Lock()
	d.purge = d.timerSched.Schedule(tc.PurgeInterval, loop)
	d.mu.Unlock()
	return nil
}

func (d *Daemon) stopPurge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.purge != nil {
		d.purge.Cancel()
		d.purge = nil
	}
}

func (d *Daemon) addUnsub(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsubs = append(d.unsubs, fn)
}

func (d *Daemon) goRun(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.runCtx)
	}()
}

// Start runs every service in dependency order. Background work outlives
// ctx and ends with Stop.
func (d *Daemon) Start(ctx context.Context) error {
	d.runCtx, d.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	if err := d.orchestrator.StartAll(ctx); err != nil {
		d.runCancel()
		d.wg.Wait()
		return err
	}
	d.logger.Info("Daemon started", slog.Int("devices", len(d.Config().Devices)))
	return nil
}

// Stop stops services in reverse order and waits for background work.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.runCancel == nil {
		return nil
	}
	err := d.orchestrator.StopAll(ctx)
	d.runCancel()

	d.mu.Lock()
	unsubs := d.unsubs
	d.unsubs = nil
	d.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	d.wg.Wait()
	d.bus.Close()
	d.logger.Info("Daemon stopped")
	return err
}

// Run starts the daemon and blocks until ctx is cancelled, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// ReloadConfig swaps in cfg for menu settings and notifications and
// refreshes every device. Transport and storage settings need a restart.
func (d *Daemon) ReloadConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return ferrors.InvalidArgumentError("config is required").Build()
	}
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()

	d.manager.SetResolver(configResolver{cfg: cfg})
	d.manager.RefreshAll(ctx)
	d.logger.Info("Configuration reloaded", slog.Int("devices", len(cfg.Devices)))
	return nil
}
