package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/satellited/internal/alarms"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/menu"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/statestore"
	"git.home.luguber.info/inful/satellited/internal/timephrase"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

// Action names accepted by Facade.Handle.
const (
	ActionSetTimer          = "set_timer"
	ActionSnoozeTimer       = "snooze_timer"
	ActionCancelTimer       = "cancel_timer"
	ActionGetTimers         = "get_timers"
	ActionSoundAlarm        = "sound_alarm"
	ActionCancelSoundAlarm  = "cancel_sound_alarm"
	ActionToggleMenu        = "toggle_menu"
	ActionAddStatusItem     = "add_status_item"
	ActionRemoveStatusItem  = "remove_status_item"
	ActionRefreshMenu       = "refresh_menu"
	ActionProcessMenuAction = "process_menu_action"
	ActionDecodeTime        = "decode_time"
)

// TimerService is the part of the timer engine the facade drives.
type TimerService interface {
	Add(ctx context.Context, req timers.AddRequest) (timers.Result, error)
	Snooze(ctx context.Context, req timers.SnoozeRequest) (timers.Result, error)
	Cancel(ctx context.Context, req timers.CancelRequest) (int, error)
	Get(req timers.GetRequest) []timers.Timer
}

// AlarmService is the part of the alarm repeater the facade drives.
type AlarmService interface {
	Sound(ctx context.Context, req alarms.SoundRequest) (alarms.Response, error)
	Cancel(ctx context.Context, target string) int
}

// MenuService is the part of the menu manager the facade drives.
type MenuService interface {
	Toggle(ctx context.Context, device string, opts menu.ToggleOptions) (bool, error)
	AddItems(ctx context.Context, device string, items []string, toMenu bool, timeout *time.Duration) error
	RemoveItems(ctx context.Context, device string, items []string, fromMenu bool) error
	Refresh(ctx context.Context, device string) error
	RefreshAll(ctx context.Context)
	ProcessMenuAction(ctx context.Context, device, action string) error
}

// Response is the result of one action. Warning and Error carry non-fatal
// outcomes; validation failures are returned as Go errors instead.
type Response struct {
	Action   string         `json:"action"`
	Response string         `json:"response,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Warning  string         `json:"warning,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// FacadeConfig wires the facade. Nil components disable their actions.
type FacadeConfig struct {
	Timers   TimerService
	Alarms   AlarmService
	Menu     MenuService
	Clock    clockwork.Clock
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

type handlerFunc func(ctx context.Context, args map[string]any) (Response, error)

// Facade routes named actions with loosely typed arguments to the components.
type Facade struct {
	timers   TimerService
	alarms   AlarmService
	menu     MenuService
	clock    clockwork.Clock
	recorder metrics.Recorder
	logger   *slog.Logger
	handlers map[string]handlerFunc
}

// NewFacade creates a facade over the configured components.
func NewFacade(cfg FacadeConfig) *Facade {
	f := &Facade{
		timers:   cfg.Timers,
		alarms:   cfg.Alarms,
		menu:     cfg.Menu,
		clock:    cfg.Clock,
		recorder: metrics.OrNoop(cfg.Recorder),
		logger:   cfg.Logger,
	}
	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.logger = f.logger.With("component", "facade")

	f.handlers = map[string]handlerFunc{ActionDecodeTime: f.decodeTime}
	if f.timers != nil {
		f.handlers[ActionSetTimer] = f.setTimer
		f.handlers[ActionSnoozeTimer] = f.snoozeTimer
		f.handlers[ActionCancelTimer] = f.cancelTimer
		f.handlers[ActionGetTimers] = f.getTimers
	}
	if f.alarms != nil {
		f.handlers[ActionSoundAlarm] = f.soundAlarm
		f.handlers[ActionCancelSoundAlarm] = f.cancelSoundAlarm
	}
	if f.menu != nil {
		f.handlers[ActionToggleMenu] = f.toggleMenu
		f.handlers[ActionAddStatusItem] = f.addStatusItem
		f.handlers[ActionRemoveStatusItem] = f.removeStatusItem
		f.handlers[ActionRefreshMenu] = f.refreshMenu
		f.handlers[ActionProcessMenuAction] = f.processMenuAction
	}
	return f
}

// Actions returns the names Handle accepts, sorted.
func (f *Facade) Actions() []string {
	return slices.Sorted(maps.Keys(f.handlers))
}

// Handle runs action with args.
//
// Validation errors (invalid argument, invalid time, not found) are returned
// as errors. Not-enabled warnings and external failures are folded into the
// response and logged.
func (f *Facade) Handle(ctx context.Context, action string, args map[string]any) (Response, error) {
	h, ok := f.handlers[action]
	if !ok {
		f.recorder.IncAction(action, metrics.ResultFailed)
		return Response{Action: action}, ferrors.NotFoundError("unknown action").
			WithContext("action", action).
			Build()
	}
	if args == nil {
		args = map[string]any{}
	}

	start := f.clock.Now()
	resp, err := h(ctx, args)
	resp.Action = action
	elapsed := f.clock.Since(start)

	switch {
	case err == nil:
		f.recorder.IncAction(action, metrics.ResultSuccess)
		f.logger.Debug("Action handled", logfields.Action(action), logfields.Duration(elapsed))
		return resp, nil
	case ferrors.IsWarning(err):
		f.recorder.IncAction(action, metrics.ResultWarning)
		f.logger.Warn("Action skipped", logfields.Action(action), logfields.Error(err))
		resp.Warning = err.Error()
		return resp, nil
	case isValidation(err):
		f.recorder.IncAction(action, metrics.ResultFailed)
		f.logger.Debug("Action rejected", logfields.Action(action), logfields.Error(err))
		return resp, err
	default:
		f.recorder.IncAction(action, metrics.ResultFailed)
		f.logger.Error("Action failed", logfields.Action(action), logfields.Error(err))
		resp.Error = err.Error()
		return resp, nil
	}
}

func isValidation(err error) bool {
	switch ferrors.GetCategory(err) {
	case ferrors.CategoryInvalidArgument, ferrors.CategoryInvalidTime, ferrors.CategoryNotFound:
		return true
	}
	return false
}

func (f *Facade) setTimer(ctx context.Context, args map[string]any) (Response, error) {
	owner := argString(args, "device_id", "entity_id")
	phrase, info := timephrase.Decode(argString(args, "time"))
	extra, err := argMap(args, "extra")
	if err != nil {
		return Response{}, err
	}
	res, err := f.timers.Add(ctx, timers.AddRequest{
		Class:  argString(args, "type", "class"),
		Owner:  owner,
		Info:   info,
		Phrase: phrase,
		Name:   argString(args, "name"),
		Extra:  extra,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Response: res.Response,
		Data:     map[string]any{"timer_id": res.ID, "timer": f.timerData(res.Timer)},
	}, nil
}

func (f *Facade) snoozeTimer(ctx context.Context, args map[string]any) (Response, error) {
	id := argString(args, "timer_id")
	if id == "" {
		return Response{}, ferrors.InvalidArgumentError("timer_id is required").Build()
	}
	_, info := timephrase.Decode(argString(args, "time"))
	extra, err := argMap(args, "extra")
	if err != nil {
		return Response{}, err
	}
	res, err := f.timers.Snooze(ctx, timers.SnoozeRequest{ID: id, Info: info, Extra: extra})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Response: res.Response,
		Data:     map[string]any{"timer_id": res.ID, "timer": f.timerData(res.Timer)},
	}, nil
}

func (f *Facade) cancelTimer(ctx context.Context, args map[string]any) (Response, error) {
	all, err := argBool(args, "cancel_all")
	if err != nil {
		return Response{}, err
	}
	n, err := f.timers.Cancel(ctx, timers.CancelRequest{
		ID:    argString(args, "timer_id"),
		Owner: argString(args, "device_id", "entity_id"),
		All:   all != nil && *all,
	})
	if err != nil {
		return Response{}, err
	}
	msg := "No timers to cancel"
	switch {
	case n == 1:
		msg = "Timer cancelled"
	case n > 1:
		msg = fmt.Sprintf("%d timers cancelled", n)
	}
	return Response{Response: msg, Data: map[string]any{"cancelled": n}}, nil
}

func (f *Facade) getTimers(_ context.Context, args map[string]any) (Response, error) {
	includeExpired, err := argBool(args, "include_expired")
	if err != nil {
		return Response{}, err
	}
	found := f.timers.Get(timers.GetRequest{
		ID:             argString(args, "timer_id"),
		Owner:          argString(args, "device_id", "entity_id"),
		Name:           argString(args, "name"),
		IncludeExpired: includeExpired != nil && *includeExpired,
	})
	list := make([]map[string]any, 0, len(found))
	for _, t := range found {
		list = append(list, f.timerData(t))
	}
	return Response{Data: map[string]any{"timers": list, "count": len(list)}}, nil
}

func (f *Facade) timerData(t timers.Timer) map[string]any {
	now := f.clock.Now()
	d := map[string]any{
		"id":      t.ID,
		"owner":   t.Owner,
		"class":   t.Class,
		"status":  string(t.Status),
		"fire_at": t.FireAt.Format(time.RFC3339),
	}
	if t.Name != "" {
		d["name"] = t.Name
	}
	if t.Status == timers.StatusActive {
		d["remaining_seconds"] = int(t.Remaining(now).Seconds())
		d["remaining"] = timephrase.DescribeUntil(t.FireAt, now)
	}
	if len(t.Extra) > 0 {
		d["extra"] = maps.Clone(t.Extra)
	}
	return d
}

func (f *Facade) soundAlarm(ctx context.Context, args map[string]any) (Response, error) {
	resume, err := argBool(args, "resume_media")
	if err != nil {
		return Response{}, err
	}
	repeats, err := argInt(args, "max_repeats")
	if err != nil {
		return Response{}, err
	}
	res, err := f.alarms.Sound(ctx, alarms.SoundRequest{
		Target:     argString(args, "entity_id"),
		MediaURL:   argString(args, "media_file"),
		MediaType:  argString(args, "media_type"),
		Resume:     resume != nil && *resume,
		MaxRepeats: repeats,
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Data: map[string]any{
		"entity_id": res.Target,
		"media_url": res.MediaURL,
		"replaced":  res.Replaced,
	}}, nil
}

func (f *Facade) cancelSoundAlarm(ctx context.Context, args map[string]any) (Response, error) {
	n := f.alarms.Cancel(ctx, argString(args, "entity_id"))
	return Response{Data: map[string]any{"cancelled": n}}, nil
}

func (f *Facade) toggleMenu(ctx context.Context, args map[string]any) (Response, error) {
	device, err := requireDevice(args)
	if err != nil {
		return Response{}, err
	}
	show, err := argBool(args, "show")
	if err != nil {
		return Response{}, err
	}
	timeout, err := argDuration(args, "timeout")
	if err != nil {
		return Response{}, err
	}
	opts := menu.ToggleOptions{Show: show, Timeout: timeout}
	if _, ok := args["menu_items"]; ok {
		opts.Items = statestore.EnsureList(args["menu_items"])
	}
	active, err := f.menu.Toggle(ctx, device, opts)
	if err != nil {
		return Response{}, err
	}
	return Response{Data: map[string]any{"entity_id": device, "menu_active": active}}, nil
}

func (f *Facade) addStatusItem(ctx context.Context, args map[string]any) (Response, error) {
	device, err := requireDevice(args)
	if err != nil {
		return Response{}, err
	}
	toMenu, err := argBool(args, "menu")
	if err != nil {
		return Response{}, err
	}
	timeout, err := argDuration(args, "timeout")
	if err != nil {
		return Response{}, err
	}
	items := statestore.EnsureList(args["status_item"])
	if err := f.menu.AddItems(ctx, device, items, toMenu != nil && *toMenu, timeout); err != nil {
		return Response{}, err
	}
	return Response{Data: map[string]any{"entity_id": device, "items": items}}, nil
}

func (f *Facade) removeStatusItem(ctx context.Context, args map[string]any) (Response, error) {
	device, err := requireDevice(args)
	if err != nil {
		return Response{}, err
	}
	fromMenu, err := argBool(args, "menu")
	if err != nil {
		return Response{}, err
	}
	items := statestore.EnsureList(args["status_item"])
	if err := f.menu.RemoveItems(ctx, device, items, fromMenu != nil && *fromMenu); err != nil {
		return Response{}, err
	}
	return Response{Data: map[string]any{"entity_id": device, "items": items}}, nil
}

func (f *Facade) refreshMenu(ctx context.Context, args map[string]any) (Response, error) {
	device := argString(args, "entity_id")
	if device == "" {
		f.menu.RefreshAll(ctx)
		return Response{}, nil
	}
	return Response{Data: map[string]any{"entity_id": device}}, f.menu.Refresh(ctx, device)
}

func (f *Facade) processMenuAction(ctx context.Context, args map[string]any) (Response, error) {
	device, err := requireDevice(args)
	if err != nil {
		return Response{}, err
	}
	action := argString(args, "menu_action")
	if action == "" {
		return Response{}, ferrors.InvalidArgumentError("menu_action is required").Build()
	}
	if err := f.menu.ProcessMenuAction(ctx, device, action); err != nil {
		return Response{}, err
	}
	return Response{Data: map[string]any{"entity_id": device, "menu_action": action}}, nil
}

func (f *Facade) decodeTime(_ context.Context, args map[string]any) (Response, error) {
	text := argString(args, "time")
	sentence, info := timephrase.Decode(text)
	if info == nil {
		return Response{}, ferrors.InvalidTimeError("no time expression recognised").
			WithContext("time", text).
			Build()
	}
	now := f.clock.Now()
	at, err := timephrase.Resolve(info, now)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Response: info.String(),
		Data: map[string]any{
			"sentence": sentence,
			"kind":     info.Kind.String(),
			"info":     info,
			"fire_at":  at.Format(time.RFC3339),
			"in":       timephrase.DescribeUntil(at, now),
		},
	}, nil
}

func requireDevice(args map[string]any) (string, error) {
	device := argString(args, "entity_id", "device_id")
	if device == "" {
		return "", ferrors.InvalidArgumentError("entity_id is required").Build()
	}
	return device, nil
}

// argString returns the first non-empty string among keys.
func argString(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(statestore.Attributes(args).String(k)); s != "" {
			return s
		}
	}
	return ""
}

// argBool returns nil when key is absent.
func argBool(args map[string]any, key string) (*bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case float64:
		b = t != 0
	case int:
		b = t != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, invalidArg(key, v)
		}
		b = parsed
	default:
		return nil, invalidArg(key, v)
	}
	return &b, nil
}

// argInt returns 0 when key is absent.
func argInt(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, invalidArg(key, v)
		}
		return n, nil
	default:
		return 0, invalidArg(key, v)
	}
}

// argDuration accepts seconds as a number or numeric string, or a Go
// duration string such as "90s". It returns nil when key is absent.
func argDuration(args map[string]any, key string) (*time.Duration, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var d time.Duration
	switch t := v.(type) {
	case int:
		d = time.Duration(t) * time.Second
	case float64:
		d = time.Duration(t * float64(time.Second))
	case string:
		s := strings.TrimSpace(t)
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			d = time.Duration(secs * float64(time.Second))
			break
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, invalidArg(key, v)
		}
		d = parsed
	default:
		return nil, invalidArg(key, v)
	}
	if d < 0 {
		return nil, invalidArg(key, v)
	}
	return &d, nil
}

func argMap(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, invalidArg(key, v)
	}
	return m, nil
}

func invalidArg(key string, v any) error {
	return ferrors.InvalidArgumentError("invalid value for " + key).
		WithContext("value", fmt.Sprint(v)).
		Build()
}
