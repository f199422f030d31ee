package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/satellited/internal/events"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/services"
)

// Conn is the part of *nats.Conn the transport needs.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
}

type actionHandler interface {
	Handle(ctx context.Context, action string, args map[string]any) (services.Response, error)
}

// actionReply is the JSON reply sent for every action request.
type actionReply struct {
	services.Response
	Code string `json:"code,omitempty"`
}

type entityMessage struct {
	EntityID string `json:"entity_id"`
	View     string `json:"view,omitempty"`
}

type menuChangedMessage struct {
	EntityID    string   `json:"entity_id"`
	Active      bool     `json:"active"`
	StatusIcons []string `json:"status_icons"`
}

// Transport bridges the message bus and the service facade:
//
//	<prefix>.action.<name>      request/reply into the facade
//	<prefix>.media.finished     playback completion
//	<prefix>.view.changed       device view switches
//	<prefix>.platform.started   one-shot startup signal
//	<prefix>.menu.changed       outbound menu change notifications
type Transport struct {
	conn    Conn
	prefix  string
	facade  actionHandler
	bus     *events.Bus
	errs    *ferrors.HTTPErrorAdapter
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	subs    []*nats.Subscription
	startup chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewTransport creates a transport; Start subscribes.
func NewTransport(conn Conn, prefix string, facade actionHandler, bus *events.Bus, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		conn:    conn,
		prefix:  prefix,
		facade:  facade,
		bus:     bus,
		errs:    ferrors.NewHTTPErrorAdapter(logger),
		logger:  logger,
		timeout: 30 * time.Second,
		startup: make(chan struct{}),
	}
}

// Startup is closed when the platform announces it has started.
func (t *Transport) Startup() <-chan struct{} { return t.startup }

func (t *Transport) subject(parts ...string) string {
	return t.prefix + "." + strings.Join(parts, ".")
}

// Start subscribes to inbound subjects and forwards menu changes until ctx
// ends or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	handlers := map[string]nats.MsgHandler{
		t.subject("action", "*"): func(m *nats.Msg) {
			reply := t.handleAction(ctx, m.Subject, m.Data)
			if m.Reply == "" {
				return
			}
			if err := t.conn.Publish(m.Reply, reply); err != nil {
				t.logger.Warn("Failed to send action reply", logfields.Subject(m.Subject), logfields.Error(err))
			}
		},
		t.subject("media", "finished"): func(m *nats.Msg) {
			msg, ok := t.decodeEntity(m)
			if !ok {
				return
			}
			t.publish(ctx, events.PlaybackFinished{Target: msg.EntityID})
		},
		t.subject("view", "changed"): func(m *nats.Msg) {
			msg, ok := t.decodeEntity(m)
			if !ok {
				return
			}
			t.publish(ctx, events.ViewChanged{Device: msg.EntityID, View: msg.View})
		},
	}
	for subj, h := range handlers {
		if err := t.subscribe(subj, h); err != nil {
			cancel()
			t.unsubscribeAll()
			return err
		}
	}

	startSubject := t.subject("platform", "started")
	if err := t.subscribe(startSubject, func(*nats.Msg) { t.signalStartup() }); err != nil {
		cancel()
		t.unsubscribeAll()
		return err
	}
	t.mu.Lock()
	if sub := t.subs[len(t.subs)-1]; sub != nil {
		_ = sub.AutoUnsubscribe(1)
	}
	t.mu.Unlock()

	if t.bus != nil {
		ch, unsubscribe := events.Subscribe[events.MenuChanged](t.bus, 32)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer unsubscribe()
			t.forwardMenuChanges(ctx, ch)
		}()
	}
	t.logger.Info("Transport subscribed", "prefix", t.prefix)
	return nil
}

// Stop drops subscriptions and waits for the forwarder.
func (t *Transport) Stop(context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.unsubscribeAll()
	t.wg.Wait()
	return nil
}

func (t *Transport) subscribe(subject string, h nats.MsgHandler) error {
	sub, err := t.conn.Subscribe(subject, h)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "subscribe failed").
			WithContext("subject", subject).Build()
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return nil
}

func (t *Transport) unsubscribeAll() {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, sub := range subs {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
}

func (t *Transport) signalStartup() {
	t.once.Do(func() {
		t.logger.Info("Platform started")
		close(t.startup)
	})
}

// handleAction runs one action request and returns the JSON reply.
func (t *Transport) handleAction(ctx context.Context, subject string, data []byte) []byte {
	action := subject[strings.LastIndex(subject, ".")+1:]
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var args map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return t.errorReply(action, ferrors.InvalidArgumentError("request body is not a JSON object").WithCause(err).Build())
		}
	}
	resp, err := t.facade.Handle(ctx, action, args)
	if err != nil {
		return t.errorReply(action, err)
	}
	out, err := json.Marshal(actionReply{Response: resp})
	if err != nil {
		return t.errorReply(action, ferrors.InternalError("reply is not serializable").WithCause(err).Build())
	}
	return out
}

func (t *Transport) errorReply(action string, err error) []byte {
	formatted := t.errs.FormatErrorResponse(err)
	reply := actionReply{
		Response: services.Response{Action: action, Error: formatted.Error, Warning: formatted.Warning},
		Code:     formatted.Code,
	}
	out, merr := json.Marshal(reply)
	if merr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return out
}

func (t *Transport) decodeEntity(m *nats.Msg) (entityMessage, bool) {
	var msg entityMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil || msg.EntityID == "" {
		t.logger.Warn("Ignoring malformed message", logfields.Subject(m.Subject))
		return msg, false
	}
	return msg, true
}

func (t *Transport) publish(ctx context.Context, evt any) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, evt); err != nil {
		t.logger.Warn("Failed to publish event", logfields.Error(err))
	}
}

func (t *Transport) forwardMenuChanges(ctx context.Context, ch <-chan events.MenuChanged) {
	subject := t.subject("menu", "changed")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(menuChangedMessage{EntityID: evt.Device, Active: evt.Active, StatusIcons: evt.StatusIcons})
			if err != nil {
				continue
			}
			if err := t.conn.Publish(subject, data); err != nil {
				t.logger.Warn("Failed to forward menu change", logfields.Device(evt.Device), logfields.Error(err))
			}
		}
	}
}
