package renderer

import (
	"sync"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// FallbackType is the renderer kind used when nothing matches a descriptor.
const FallbackType = "generic"

// Registry maps discriminator strings (extension type, falling back to
// object type) to renderer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the builtin renderers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("UniSetObject", func() Renderer { return NewUniSetObjectRenderer() })
	r.Register("UniSetManager", func() Renderer { return NewUniSetObjectRenderer() })
	r.Register("IONotifyController", func() Renderer { return NewIONotifyRenderer() })
	r.Register(FallbackType, func() Renderer { return NewGenericRenderer() })
	return r
}

// Register adds or replaces a factory for a discriminator.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// Resolve picks the renderer for a descriptor. A registered extension type
// wins over the object type; anything unknown gets the fallback renderer.
// The returned kind is the canonical rendererType shown to the operator.
func (r *Registry) Resolve(desc models.ObjectDescriptor) (Renderer, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if desc.ExtensionType != "" {
		if f, ok := r.factories[desc.ExtensionType]; ok {
			return f(), desc.ExtensionType
		}
	}
	if f, ok := r.factories[desc.ObjectType]; ok {
		return f(), desc.ObjectType
	}

	return r.factories[FallbackType](), FallbackType
}
