// Package renderer resolves object descriptors to the polymorphic behavior
// bound to a session, without the engine hardcoding object types.
package renderer

import (
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// Renderer is the capability set every session binding must implement.
// The session manager treats all four operations as mandatory and calls
// Destroy exactly once per session.
type Renderer interface {
	// CreateView produces the initial static view-structure descriptor.
	CreateView(desc models.ObjectDescriptor) models.View
	// Initialize wires up recurring behavior after the view exists.
	Initialize()
	// Update applies one incoming data snapshot. It must be idempotent.
	Update(data map[string]interface{}) error
	// Destroy releases any renderer-owned long-lived resource.
	Destroy() error
}

// MetricSource is optionally implemented by renderers that expose numeric
// series for chart buffers. Renderers without it get the default numeric
// field extraction.
type MetricSource interface {
	Metrics(data map[string]interface{}) map[string]float64
}

// Factory constructs a fresh renderer instance. Each session owns its own
// instance; renderers share no state across sessions.
type Factory func() Renderer
