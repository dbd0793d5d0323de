package dataset

import (
	"io"
	"sort"
	"sync"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
	"github.com/pion/logging"
)

// DefaultMaxInterfaces is the default registry capacity.
const DefaultMaxInterfaces = 4

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// MaxInterfaces bounds the number of instances. Default: 4.
	MaxInterfaces int

	// Storage is shared by every instance.
	Storage storage.Storage

	// Rand sources identity randomness. Nil uses crypto/rand.
	Rand io.Reader

	LoggerFactory logging.LoggerFactory
}

// Registry maps interface IDs to their dataset Instance.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	instances map[link.InterfaceID]*Instance
	config    RegistryConfig
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.MaxInterfaces <= 0 {
		config.MaxInterfaces = DefaultMaxInterfaces
	}
	return &Registry{
		instances: make(map[link.InterfaceID]*Instance),
		config:    config,
	}
}

// Init creates the instance for id and restores its persisted state.
// A load error is returned alongside the usable instance.
//
// Returns ErrInterfaceExists if id is already initialized and
// ErrRegistryFull at capacity.
func (r *Registry) Init(id link.InterfaceID, eui64 link.ExtAddress) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[id]; exists {
		return nil, ErrInterfaceExists
	}
	if len(r.instances) >= r.config.MaxInterfaces {
		return nil, ErrRegistryFull
	}

	in, err := NewInstance(Config{
		Interface:     id,
		Storage:       r.config.Storage,
		EUI64:         eui64,
		Rand:          r.config.Rand,
		LoggerFactory: r.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	r.instances[id] = in
	return in, in.Load()
}

// Teardown removes the instance for id. Persisted state is kept.
//
// Returns ErrInterfaceNotFound if id is unknown.
func (r *Registry) Teardown(id link.InterfaceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[id]; !exists {
		return ErrInterfaceNotFound
	}
	delete(r.instances, id)
	return nil
}

// Get returns the instance for id.
func (r *Registry) Get(id link.InterfaceID) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.instances[id]
	return in, ok
}

// IDs returns the initialized interface IDs in ascending order.
func (r *Registry) IDs() []link.InterfaceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]link.InterfaceID, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of initialized interfaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
