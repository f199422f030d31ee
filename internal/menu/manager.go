// Package menu keeps the on-screen menu of each satellite device in step with
// its configuration and the device record in the state store.
//
// A device's menu is either inactive or active. While active, the configured
// items (minus the view currently displayed) are shown among the status
// icons. The toggle icon, when the device shows it, is always the last
// status icon. Every operation first re-reads the device record, so changes
// made by other writers are picked up, then publishes one merged patch
// through the Publisher.
package menu

import (
	"context"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/deferred"
	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/statestore"
)

// Device record keys.
const (
	AttrMenuActive          = "menu_active"
	AttrMenuItems           = "menu_items"
	AttrMenuItemsConfigured = "menu_items_configured"
	AttrStatusIcons         = "status_icons"
	AttrCurrentView         = "current_view"
	AttrMode                = "mode"
)

const (
	DefaultNavigateNamespace = "view_assist"

	callbackTimeout = 10 * time.Second
	eventTimeout    = time.Second
)

// Config wires a Manager.
type Config struct {
	Store     statestore.Reader
	Publisher *Publisher
	Invoker   actions.Invoker
	Scheduler deferred.Scheduler
	Resolver  Resolver
	Bus       *events.Bus
	Recorder  metrics.Recorder
	Logger    *slog.Logger
	// NavigateNamespace is the action namespace of "navigate".
	NavigateNamespace string
}

// ToggleOptions adjust Toggle. Nil fields use the current state and settings.
type ToggleOptions struct {
	Show *bool
	// Items replace the configured items for this opening only.
	Items   []string
	Timeout *time.Duration
}

// Snapshot is a copy of a device's menu state.
type Snapshot struct {
	Device          string
	Active          bool
	Items           []string
	ConfiguredItems []string
	StatusIcons     []string
	SystemIcons     []string
	CurrentView     string
	Mode            string
}

type itemKey struct {
	item string
	menu bool
}

type timeoutSlot struct {
	handle *deferred.Handle
	gen    uint64
}

type deviceState struct {
	device     string
	active     bool
	items      []string
	override   []string
	configured []string
	system     []string
	view       string
	mode       string
	attrs      statestore.Attributes

	menuTimeout  timeoutSlot
	itemTimeouts map[itemKey]timeoutSlot
}

// Manager owns the menu state of every device.
type Manager struct {
	mu     sync.Mutex
	states map[string]*deviceState
	gen    uint64

	resolver  Resolver
	store     statestore.Reader
	publisher *Publisher
	invoker   actions.Invoker
	sched     deferred.Scheduler
	bus       *events.Bus
	recorder  metrics.Recorder
	logger    *slog.Logger
	navigate  string

	ready     chan struct{}
	readyOnce sync.Once
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ferrors.ConfigError("menu manager needs a state store").Build()
	}
	if cfg.Publisher == nil {
		return nil, ferrors.ConfigError("menu manager needs a publisher").Build()
	}
	if cfg.Resolver == nil {
		return nil, ferrors.ConfigError("menu manager needs a settings resolver").Build()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = deferred.NewClockScheduler(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NavigateNamespace == "" {
		cfg.NavigateNamespace = DefaultNavigateNamespace
	}
	return &Manager{
		states:    make(map[string]*deviceState),
		resolver:  cfg.Resolver,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		invoker:   cfg.Invoker,
		sched:     cfg.Scheduler,
		bus:       cfg.Bus,
		recorder:  metrics.OrNoop(cfg.Recorder),
		logger:    cfg.Logger.With("component", "menu"),
		navigate:  cfg.NavigateNamespace,
		ready:     make(chan struct{}),
	}, nil
}

// SetResolver swaps the settings source, e.g. after a config reload.
func (m *Manager) SetResolver(r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = r
}

// Start waits for startup in the background, then refreshes every known
// device and marks the manager ready.
func (m *Manager) Start(ctx context.Context, startup <-chan struct{}) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-startup:
		}
		m.RefreshAll(ctx)
		m.readyOnce.Do(func() { close(m.ready) })
		m.logger.Info("Menu manager ready")
	}()
}

// Wait blocks until the first refresh pass after startup has finished.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every pending timeout.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		st.menuTimeout.handle.Cancel()
		st.menuTimeout = timeoutSlot{}
		for k, slot := range st.itemTimeouts {
			slot.handle.Cancel()
			delete(st.itemTimeouts, k)
		}
	}
}

// Toggle opens or closes the menu and returns whether it is now active.
func (m *Manager) Toggle(ctx context.Context, device string, opts ToggleOptions) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		return false, err
	}
	show := !st.active
	if opts.Show != nil {
		show = *opts.Show
	}
	m.cancelMenuTimeoutLocked(st)

	if !show {
		m.closeLocked(st, settings)
		return false, nil
	}

	if opts.Items != nil {
		st.override = cleanItems(opts.Items)
	}
	wasActive := st.active
	st.active = true
	st.recompute()
	m.commitLocked(st, settings)
	if !wasActive {
		m.recorder.IncMenuTransition("active")
	}

	timeout := settings.Timeout
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	if timeout > 0 {
		m.armMenuTimeoutLocked(st, timeout)
	}
	m.logger.Debug("Menu opened", logfields.Device(device), logfields.Duration(timeout))
	return true, nil
}

// AddItems adds items to the menu (toMenu) or directly to the status icons.
// With a positive timeout each item is removed again when it elapses.
func (m *Manager) AddItems(ctx context.Context, device string, items []string, toMenu bool, timeout *time.Duration) error {
	items = cleanItems(items)
	if len(items) == 0 {
		return ferrors.InvalidArgumentError("no status items given").WithContext("device", device).Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		return err
	}
	if toMenu {
		st.items = appendMissing(st.items, items)
		if st.override != nil {
			st.override = appendMissing(st.override, items)
		}
	} else {
		menuItems := appendMissing(st.items, st.override)
		if clash := slices.DeleteFunc(slices.Clone(items), func(item string) bool {
			return !slices.Contains(menuItems, item)
		}); len(clash) > 0 {
			return ferrors.InvalidArgumentError("status icon is a configured menu item").
				WithContext("device", device).
				WithContext("items", strings.Join(clash, ",")).
				Build()
		}
		st.system = appendMissing(st.system, items)
	}
	st.recompute()
	m.commitLocked(st, settings)

	if timeout != nil && *timeout > 0 {
		for _, item := range items {
			m.armItemTimeoutLocked(st, itemKey{item: item, menu: toMenu}, *timeout)
		}
	}
	return nil
}

// RemoveItems removes items from the menu (fromMenu) or from the status
// icons, and cancels their pending removal timeouts.
func (m *Manager) RemoveItems(ctx context.Context, device string, items []string, fromMenu bool) error {
	items = cleanItems(items)
	if len(items) == 0 {
		return ferrors.InvalidArgumentError("no status items given").WithContext("device", device).Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		return err
	}
	m.removeLocked(st, settings, items, fromMenu)
	return nil
}

// Refresh re-derives the device's menu from its record and settings.
func (m *Manager) Refresh(ctx context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		return err
	}
	st.recompute()
	m.commitLocked(st, settings)
	return nil
}

// RefreshAll refreshes every configured or previously seen device. Devices
// with the menu disabled are skipped.
func (m *Manager) RefreshAll(ctx context.Context) {
	m.mu.Lock()
	devices := m.resolver.Devices()
	for d := range m.states {
		if !slices.Contains(devices, d) {
			devices = append(devices, d)
		}
	}
	m.mu.Unlock()

	for _, d := range devices {
		err := m.Refresh(ctx, d)
		switch {
		case err == nil:
		case ferrors.HasCategory(err, ferrors.CategoryNotEnabled), ferrors.HasCategory(err, ferrors.CategoryNotFound):
			m.logger.Debug("Skipping menu refresh", logfields.Device(d), logfields.Error(err))
		default:
			m.logger.Error("Menu refresh failed", logfields.Device(d), logfields.Error(err))
		}
	}
}

// ProcessMenuAction runs a selected menu entry. action is "view:<name>",
// "service:<namespace.action>", "entity:<entity_id>" or a bare view name.
// With close-on-select the menu is closed, and that write applied, first.
func (m *Manager) ProcessMenuAction(ctx context.Context, device, action string) error {
	kind, value, found := strings.Cut(strings.TrimSpace(action), ":")
	if !found {
		kind, value = "view", kind
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	value = strings.TrimSpace(value)
	if value == "" {
		return ferrors.InvalidArgumentError("menu action is empty").WithContext("action", action).Build()
	}

	var namespace, name string
	var payload map[string]any
	switch kind {
	case "view":
	case "service":
		ns, act, ok := strings.Cut(value, ".")
		if !ok || ns == "" || act == "" {
			return ferrors.InvalidArgumentError("service action must be namespace.action").
				WithContext("action", action).
				Build()
		}
		namespace, name, payload = ns, act, map[string]any{"entity_id": device}
	case "entity":
		namespace, name, payload = "homeassistant", "toggle", map[string]any{"entity_id": value}
	default:
		return ferrors.InvalidArgumentError("unknown menu action type").WithContext("action", action).Build()
	}

	m.mu.Lock()
	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	closing := settings.CloseOnSelect && st.active
	if closing {
		m.cancelMenuTimeoutLocked(st)
		m.closeLocked(st, settings)
	}
	m.mu.Unlock()

	// The write is serialized per device by the publisher, so other devices
	// are not held up while it runs.
	if closing {
		if err := m.publisher.Flush(ctx, device); err != nil {
			m.logger.Warn("Closing menu before action failed", logfields.Device(device), logfields.Error(err))
		}
	}

	if kind == "view" {
		target := value
		if !strings.HasPrefix(target, "/") && settings.Dashboard != "" {
			target = path.Join(settings.Dashboard, target)
		}
		namespace, name, payload = m.navigate, "navigate", map[string]any{"device": device, "path": target}
	}
	if m.invoker == nil {
		return ferrors.NotEnabledError("no action invoker configured").Build()
	}
	if err := m.invoker.Invoke(ctx, namespace, name, payload); err != nil {
		if _, ok := ferrors.AsClassified(err); ok {
			return err
		}
		return ferrors.WrapError(err, ferrors.CategoryExternalWrite, "invoke menu action").
			WithContext("action", namespace+"."+name).
			Build()
	}
	m.logger.Info("Menu action", logfields.Device(device), logfields.Action(namespace+"."+name))
	return nil
}

// State returns a copy of the device's menu state as last reconciled.
func (m *Manager) State(device string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[device]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Device:          st.device,
		Active:          st.active,
		Items:           slices.Clone(st.items),
		ConfiguredItems: slices.Clone(st.configured),
		StatusIcons:     st.attrs.Strings(AttrStatusIcons),
		SystemIcons:     slices.Clone(st.system),
		CurrentView:     st.view,
		Mode:            st.mode,
	}, true
}

// Listen refreshes devices whose view changed until ch closes or ctx is done.
func (m *Manager) Listen(ctx context.Context, ch <-chan events.ViewChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := m.Refresh(ctx, evt.Device); err != nil && !ferrors.IsWarning(err) {
				m.logger.Warn("Refresh after view change failed", logfields.Device(evt.Device), logfields.Error(err))
			}
		}
	}
}

// prepareLocked resolves settings and reconciles the device's state with a
// fresh read of its record plus unwritten patches.
func (m *Manager) prepareLocked(ctx context.Context, device string) (*deviceState, Settings, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil, Settings{}, ferrors.InvalidArgumentError("device is required").Build()
	}
	settings, configured := m.resolver.MenuSettings(device)

	attrs, err := m.store.Read(ctx, device)
	switch {
	case err == nil:
	case statestore.IsNotFound(err):
		if _, known := m.states[device]; !known && !configured {
			return nil, settings, ferrors.NotFoundError("unknown device").WithContext("device", device).Build()
		}
		attrs = statestore.Attributes{}
	default:
		return nil, settings, ferrors.WrapError(err, ferrors.CategoryExternalWrite, "read device state").
			WithContext("device", device).
			Build()
	}

	if !settings.Mode.Enabled() {
		m.logger.Warn("Menu is not enabled", logfields.Device(device))
		return nil, settings, ferrors.NotEnabledError("menu is not enabled for device").
			WithContext("device", device).
			Build()
	}

	attrs = attrs.Apply(m.publisher.Pending(device))
	st, ok := m.states[device]
	if !ok {
		st = &deviceState{device: device, items: cleanItems(settings.Items), itemTimeouts: make(map[itemKey]timeoutSlot)}
		m.states[device] = st
		select {
		case <-m.ready:
			m.logger.Debug("Menu state created", logfields.Device(device))
		default:
			m.logger.Warn("Menu state created before startup finished", logfields.Device(device))
		}
	}
	st.reconcile(attrs)
	return st, settings, nil
}

func (st *deviceState) reconcile(attrs statestore.Attributes) {
	if attrs.Has(AttrMenuItemsConfigured) {
		st.items = cleanItems(attrs.Strings(AttrMenuItemsConfigured))
	}
	st.active = attrs.Bool(AttrMenuActive)
	st.view = attrs.String(AttrCurrentView)
	st.mode = attrs.String(AttrMode)
	switch {
	case !st.active:
		st.override = nil
	case st.override == nil && attrs.Has(AttrMenuItems):
		// An open menu written by an earlier process may show items other
		// than the configured ones.
		if shown := cleanItems(attrs.Strings(AttrMenuItems)); !slices.Equal(shown, effectiveItems(st.items, st.view)) {
			st.override = shown
		}
	}
	st.system = deriveSystemIcons(attrs.Strings(AttrStatusIcons), appendMissing(st.items, st.override), st.mode)
	st.attrs = attrs
	st.recompute()
}

// recompute sets the configured items shown while active.
func (st *deviceState) recompute() {
	base := st.items
	if st.active && st.override != nil {
		base = st.override
	}
	st.configured = effectiveItems(base, st.view)
}

func (st *deviceState) render(settings Settings) statestore.Attributes {
	return statestore.Attributes{
		AttrMenuActive:          st.active,
		AttrStatusIcons:         arrange(st.system, st.configured, st.active, settings.Mode.ShowButton()),
		AttrMenuItems:           slices.Clone(st.configured),
		AttrMenuItemsConfigured: slices.Clone(st.items),
	}
}

// commitLocked enqueues whatever the rendered state changes. It reports
// whether a write was queued.
func (m *Manager) commitLocked(st *deviceState, settings Settings) bool {
	changes := st.attrs.Changes(st.render(settings))
	if changes == nil {
		return false
	}
	m.publisher.Enqueue(st.device, changes)
	st.attrs = st.attrs.Apply(changes)

	if m.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		evt := events.MenuChanged{Device: st.device, Active: st.active, StatusIcons: st.attrs.Strings(AttrStatusIcons)}
		if err := m.bus.Publish(ctx, evt); err != nil {
			m.logger.Debug("Menu change not delivered", logfields.Device(st.device), logfields.Error(err))
		}
	}
	return true
}

func (m *Manager) closeLocked(st *deviceState, settings Settings) {
	wasActive := st.active
	st.active = false
	st.override = nil
	st.recompute()
	m.commitLocked(st, settings)
	if wasActive {
		m.recorder.IncMenuTransition("inactive")
		m.logger.Debug("Menu closed", logfields.Device(st.device))
	}
}

func (m *Manager) removeLocked(st *deviceState, settings Settings, items []string, fromMenu bool) {
	if fromMenu {
		st.items = without(st.items, items)
		if st.override != nil {
			st.override = without(st.override, items)
		}
	} else {
		st.system = without(st.system, items)
	}
	st.recompute()
	m.commitLocked(st, settings)

	for _, item := range items {
		key := itemKey{item: item, menu: fromMenu}
		if slot, ok := st.itemTimeouts[key]; ok {
			slot.handle.Cancel()
			delete(st.itemTimeouts, key)
		}
	}
}

func (m *Manager) armMenuTimeoutLocked(st *deviceState, d time.Duration) {
	m.cancelMenuTimeoutLocked(st)
	m.gen++
	gen, device := m.gen, st.device
	st.menuTimeout = timeoutSlot{gen: gen, handle: m.sched.Schedule(d, func() { m.menuTimedOut(device, gen) })}
}

func (m *Manager) cancelMenuTimeoutLocked(st *deviceState) {
	st.menuTimeout.handle.Cancel()
	st.menuTimeout = timeoutSlot{}
}

func (m *Manager) menuTimedOut(device string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[device]
	if !ok || st.menuTimeout.gen != gen {
		return
	}
	st.menuTimeout = timeoutSlot{}

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		m.logger.Warn("Menu auto-close skipped", logfields.Device(device), logfields.Error(err))
		return
	}
	if st.active {
		m.logger.Debug("Menu auto-close", logfields.Device(device))
		m.closeLocked(st, settings)
	}
}

func (m *Manager) armItemTimeoutLocked(st *deviceState, key itemKey, d time.Duration) {
	if slot, ok := st.itemTimeouts[key]; ok {
		slot.handle.Cancel()
	}
	m.gen++
	gen, device := m.gen, st.device
	st.itemTimeouts[key] = timeoutSlot{gen: gen, handle: m.sched.Schedule(d, func() { m.itemTimedOut(device, key, gen) })}
}

func (m *Manager) itemTimedOut(device string, key itemKey, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[device]
	if !ok || st.itemTimeouts[key].gen != gen {
		return
	}
	delete(st.itemTimeouts, key)

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	st, settings, err := m.prepareLocked(ctx, device)
	if err != nil {
		m.logger.Warn("Item timeout skipped", logfields.Device(device), logfields.Item(key.item), logfields.Error(err))
		return
	}
	m.logger.Debug("Item timed out", logfields.Device(device), logfields.Item(key.item))
	m.removeLocked(st, settings, []string{key.item}, key.menu)
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || item == ToggleIcon || slices.Contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}
