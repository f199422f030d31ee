// Package actions calls named actions on the home-automation platform, such
// as navigating a display or playing media on a player.
package actions

import (
	"context"
	"maps"
	"sync"
)

// Invoker calls action in namespace with payload.
type Invoker interface {
	Invoke(ctx context.Context, namespace, action string, payload map[string]any) error
}

// Call is one recorded invocation.
type Call struct {
	Namespace string
	Action    string
	Payload   map[string]any
}

// Name returns "namespace.action".
func (c Call) Name() string { return c.Namespace + "." + c.Action }

// Recorder is an Invoker that stores calls in order. An optional hook runs
// after each call is recorded and its error is returned to the caller.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	hook  func(Call) error
}

func NewRecorder() *Recorder { return &Recorder{} }

// OnInvoke sets the hook.
func (r *Recorder) OnInvoke(fn func(Call) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
}

func (r *Recorder) Invoke(_ context.Context, namespace, action string, payload map[string]any) error {
	c := Call{Namespace: namespace, Action: action, Payload: maps.Clone(payload)}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		return hook(c)
	}
	return nil
}

// Calls returns the recorded calls, optionally only those named "namespace.action".
func (r *Recorder) Calls(name string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if name == "" || c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}
