// internal/backends/backends.go
package backends

import (
	"context"
	"sort"
	"sync"

	"github.com/facturabot/coordination/internal/observability"
	"github.com/facturabot/coordination/internal/store"
)

var (
	constructorsMu sync.RWMutex
	constructors   = make(map[string]Constructor)
)

// Config the raw type of the backend configurations.
type Config any

// Constructor The signature of a backend constructor.
type Constructor func(ctx context.Context, options Config, logger *observability.SLogger) (store.Backend, error)

// Register registers a new backend constructor.
// It panics if the constructor is nil or if it's called twice for the same name.
func Register(name string, cttr Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	if cttr == nil {
		panic("coordination: Register constructor is nil")
	}

	if _, dup := constructors[name]; dup {
		panic("coordination: Register called twice for constructor " + name)
	}

	constructors[name] = cttr
}

// Unregister unregisters a backend constructor.
func Unregister(name string) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	delete(constructors, name)
}

// UnregisterAllConstructors unregisters all backend constructors.
func UnregisterAllConstructors() {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()

	constructors = make(map[string]Constructor)
}

// Constructors returns a sorted list of the names of the registered constructors.
func Constructors() []string {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()

	list := make([]string, 0, len(constructors))
	for name := range constructors {
		list = append(list, name)
	}

	sort.Strings(list)

	return list
}

// NewBackend creates a new backend instance using the named constructor.
func NewBackend(ctx context.Context, name string, options Config, logger *observability.SLogger) (store.Backend, error) {
	constructorsMu.RLock()
	construct, ok := constructors[name]
	constructorsMu.RUnlock()

	if !ok || construct == nil {
		return nil, &store.UnknownConstructorError{Backend: name}
	}

	return construct(ctx, options, logger)
}
