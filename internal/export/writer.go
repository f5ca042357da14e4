package export

import (
	"fmt"
	"sort"
	"sync"
)

// Writer renders a snapshot into files in a directory.
type Writer interface {
	// Name is the format name used in configuration.
	Name() string

	// Write returns the paths of the files it created.
	Write(dir string, tables []Table) ([]string, error)
}

var (
	registry = make(map[string]Writer)
	mu       sync.RWMutex
)

// Register adds a writer to the registry.
func Register(w Writer) {
	mu.Lock()
	defer mu.Unlock()
	registry[w.Name()] = w
}

// Get retrieves a writer by format name.
func Get(name string) (Writer, error) {
	mu.RLock()
	defer mu.RUnlock()

	w, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown export format: %s", name)
	}
	return w, nil
}

// List returns all registered format names, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
