package plugin

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// RegisterFunc is what a compiled-in plugin package exposes to bind its
// callbacks into a freshly (re)loaded Plugin's Registrar.
type RegisterFunc func(r *Registrar) error

// Registry is the process-wide map from descriptor package name to its
// compiled-in registration function, analogous to the surrounding
// framework's GlobalPluginFactory() singleton for in-process plugins.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]RegisterFunc
}

var globalRegistry = &Registry{ctors: make(map[string]RegisterFunc)}

// Global returns the process-wide Registry that package init() functions
// register into via Register.
func Global() *Registry { return globalRegistry }

// Register binds name to ctor in the registry. Plugin packages call this
// from an init() function, mirroring factory.RegisterPlugin in the
// surrounding framework.
func Register(name string, ctor RegisterFunc) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.ctors[name] = ctor
}

func (r *Registry) lookup(name string) (RegisterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[name]
	return ctor, ok
}

func loadDescriptorYAML(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
