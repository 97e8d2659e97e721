package builder

import (
	"fmt"
	"slices"
	"sync"

	"github.com/simon020286/nightly/models"
)

// ActionFactory creates an Action from the static `with:` inputs of a step
type ActionFactory func(with map[string]any) (models.Action, error)

var (
	// registry contains all registered factories by action name
	registry = make(map[string]ActionFactory)
	mu       sync.RWMutex
)

// RegisterActionType registers a factory for an action name.
// This function is called by init() in the steps package.
func RegisterActionType(name string, factory ActionFactory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// GetActionFactory returns the factory for an action name
func GetActionFactory(name string) (ActionFactory, error) {
	mu.RLock()
	defer mu.RUnlock()

	factory, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownAction, name)
	}
	return factory, nil
}

// IsKnownAction reports whether a factory is registered for name
func IsKnownAction(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}

// ListActionTypes returns all registered action names, sorted
func ListActionTypes() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
