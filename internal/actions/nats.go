package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
)

// Publisher is the part of *nats.Conn used to send invocations.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
	RequestMsgWithContext(ctx context.Context, m *nats.Msg) (*nats.Msg, error)
}

// NATSInvoker publishes each invocation as JSON on
// <prefix>.invoke.<namespace>.<action>. With RequestTimeout set it waits for
// a reply and treats a reply carrying an "error" field as failure.
type NATSInvoker struct {
	conn           Publisher
	prefix         string
	RequestTimeout time.Duration
	logger         *slog.Logger
}

// NewNATSInvoker returns an invoker publishing under prefix.
func NewNATSInvoker(conn Publisher, prefix string, logger *slog.Logger) *NATSInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSInvoker{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject used for namespace.action.
func (n *NATSInvoker) Subject(namespace, action string) string {
	return fmt.Sprintf("%s.invoke.%s.%s", n.prefix, namespace, action)
}

type invocation struct {
	Namespace string         `json:"namespace"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

type invocationReply struct {
	Error string `json:"error,omitempty"`
}

func (n *NATSInvoker) Invoke(ctx context.Context, namespace, action string, payload map[string]any) error {
	data, err := json.Marshal(invocation{Namespace: namespace, Action: action, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return ferrors.InvalidArgumentError("action payload is not serializable").WithCause(err).Build()
	}
	msg := nats.NewMsg(n.Subject(namespace, action))
	msg.Data = data

	if n.RequestTimeout <= 0 {
		if err := n.conn.PublishMsg(msg); err != nil {
			return n.failed(namespace, action, err)
		}
		n.logger.Debug("Invoked action", logfields.Action(namespace+"."+action))
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, n.RequestTimeout)
	defer cancel()
	reply, err := n.conn.RequestMsgWithContext(rctx, msg)
	if err != nil {
		return n.failed(namespace, action, err)
	}
	var r invocationReply
	if len(reply.Data) > 0 && json.Unmarshal(reply.Data, &r) == nil && r.Error != "" {
		return n.failed(namespace, action, fmt.Errorf("%s", r.Error))
	}
	return nil
}

func (n *NATSInvoker) failed(namespace, action string, err error) error {
	return ferrors.ExternalWriteError("action invocation failed").
		WithCause(err).
		WithContext("action", namespace+"."+action).
		Build()
}
