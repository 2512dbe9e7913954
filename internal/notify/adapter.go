// Package notify delivers rendered alerts to their channels: the
// notification-lane consumer, the channel adapter contract, and the
// escalation webhook used for operational breaches.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Message is one rendered notification handed to a channel adapter.
// Transport details stay inside the adapter.
type Message struct {
	Channel  string
	Template string
	Title    string
	Body     string
	Link     string
	Severity string
	Data     map[string]any
}

// Adapter is the channel transport contract.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// Registry resolves adapters by channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Lookup returns the adapter for a channel.
func (r *Registry) Lookup(channel string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", channel)
	}
	return a, nil
}

// Channels lists registered channel names, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LogAdapter writes notifications to the application log. Used in
// development and as a safe default for unconfigured channels.
type LogAdapter struct {
	name   string
	logger *zap.Logger
}

func NewLogAdapter(name string, logger *zap.Logger) *LogAdapter {
	return &LogAdapter{name: name, logger: logger.Named("notify")}
}

func (a *LogAdapter) Name() string { return a.name }

func (a *LogAdapter) Send(_ context.Context, msg *Message) error {
	a.logger.Info("notification",
		zap.String("channel", msg.Channel),
		zap.String("template", msg.Template),
		zap.String("severity", msg.Severity),
		zap.String("title", msg.Title),
		zap.String("message", msg.Body),
		zap.String("link", msg.Link),
	)
	return nil
}
