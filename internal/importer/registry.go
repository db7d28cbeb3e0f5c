package importer

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[EntityType]Processor)
	registryMu sync.RWMutex
)

// Register adds a row processor to the registry.
// Panics if a processor for the same entity type is already registered.
func Register(p Processor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[p.EntityType()]; exists {
		panic(fmt.Sprintf("processor already registered: %s", p.EntityType()))
	}
	registry[p.EntityType()] = p
}

// GetProcessor returns the row processor for an entity type.
// Returns false if not registered.
func GetProcessor(et EntityType) (Processor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := registry[et]
	return p, ok
}

// Processors returns all registered processors sorted by entity type.
func Processors() []Processor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Processor, 0, len(registry))
	for _, p := range registry {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityType() < result[j].EntityType()
	})
	return result
}

// ClearRegistry removes all registered processors.
// Primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[EntityType]Processor)
}
