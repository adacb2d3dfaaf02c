package strategy

import (
	"fmt"
	"sort"
)

// Factory builds a fresh strategy instance from numeric parameters.
// Each simulation run gets its own instance; factories must not share
// mutable state between the strategies they produce.
type Factory func(params map[string]float64) Strategy

var registry = make(map[string]Factory)

// Register makes a strategy constructible by name.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// ByName builds a strategy by its registered name.
func ByName(name string, params map[string]float64) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (registered: %v)", name, Names())
	}
	return factory(params), nil
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
