package queue

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an Adapter (e.g. the amqp or sarama driver).
type Factory func() Adapter

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register is called from main (or a driver's init) once per driver name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// NewAdapter returns a driver by name ("amqp", "kafka").
func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("queue: unsupported driver %q", name)
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
