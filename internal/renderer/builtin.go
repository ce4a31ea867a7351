package renderer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// NumericFields extracts every top-level numeric field of a data snapshot.
// Used both by the default metric extraction and the builtin renderers.
func NumericFields(data map[string]interface{}) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range data {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case float32:
			out[k] = float64(n)
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case bool:
			if n {
				out[k] = 1
			} else {
				out[k] = 0
			}
		}
	}
	return out
}

// GenericRenderer is the fallback for unknown object types. It displays the
// raw descriptor and accepts arbitrary additional data without error.
type GenericRenderer struct {
	mu       sync.Mutex
	lastData map[string]interface{}
}

// NewGenericRenderer creates the fallback renderer.
func NewGenericRenderer() *GenericRenderer {
	return &GenericRenderer{}
}

// CreateView returns a raw dump of the descriptor.
func (g *GenericRenderer) CreateView(desc models.ObjectDescriptor) models.View {
	return models.View{
		"kind":       FallbackType,
		"descriptor": desc,
	}
}

// Initialize is a no-op for the generic renderer.
func (g *GenericRenderer) Initialize() {}

// Update stores the snapshot as-is. It never fails regardless of shape.
func (g *GenericRenderer) Update(data map[string]interface{}) error {
	g.mu.Lock()
	g.lastData = data
	g.mu.Unlock()
	return nil
}

// Destroy is a no-op for the generic renderer.
func (g *GenericRenderer) Destroy() error { return nil }

// LastData returns the most recently applied snapshot.
func (g *GenericRenderer) LastData() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastData
}

// UniSetObjectRenderer renders plain UniSet objects and managers: a field
// table plus one chart metric per numeric field.
type UniSetObjectRenderer struct {
	mu        sync.Mutex
	desc      models.ObjectDescriptor
	lastData  map[string]interface{}
	destroyed bool
}

// NewUniSetObjectRenderer creates a renderer for plain UniSet objects.
func NewUniSetObjectRenderer() *UniSetObjectRenderer {
	return &UniSetObjectRenderer{}
}

// CreateView lists the descriptor fields the view layer lays out.
func (u *UniSetObjectRenderer) CreateView(desc models.ObjectDescriptor) models.View {
	u.mu.Lock()
	u.desc = desc
	u.mu.Unlock()

	title := desc.TextName
	if title == "" {
		title = desc.Name
	}
	return models.View{
		"kind":       "unisetobject",
		"title":      title,
		"objectType": desc.ObjectType,
	}
}

// Initialize is a no-op; the update stream drives everything.
func (u *UniSetObjectRenderer) Initialize() {}

// Update applies one data snapshot.
func (u *UniSetObjectRenderer) Update(data map[string]interface{}) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.destroyed {
		return fmt.Errorf("renderer already destroyed")
	}
	u.lastData = data
	return nil
}

// Destroy marks the renderer released.
func (u *UniSetObjectRenderer) Destroy() error {
	u.mu.Lock()
	u.destroyed = true
	u.mu.Unlock()
	return nil
}

// Metrics exposes every numeric field as a chart series.
func (u *UniSetObjectRenderer) Metrics(data map[string]interface{}) map[string]float64 {
	return NumericFields(data)
}

// IONotifyRenderer renders IONotifyController extensions: a sensor table
// with one chart metric per sensor.
type IONotifyRenderer struct {
	mu        sync.Mutex
	sensors   []string
	destroyed bool
}

// NewIONotifyRenderer creates a renderer for IONotifyController objects.
func NewIONotifyRenderer() *IONotifyRenderer {
	return &IONotifyRenderer{}
}

// CreateView declares the sensor-table layout.
func (r *IONotifyRenderer) CreateView(desc models.ObjectDescriptor) models.View {
	return models.View{
		"kind":  "ionotify",
		"title": desc.Name,
	}
}

// Initialize is a no-op; sensors are discovered from updates.
func (r *IONotifyRenderer) Initialize() {}

// Update records the sensor set from the snapshot's "sensors" list.
func (r *IONotifyRenderer) Update(data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return fmt.Errorf("renderer already destroyed")
	}

	metrics := sensorValues(data)
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	r.sensors = names
	return nil
}

// Destroy marks the renderer released.
func (r *IONotifyRenderer) Destroy() error {
	r.mu.Lock()
	r.destroyed = true
	r.mu.Unlock()
	return nil
}

// Metrics exposes one series per sensor.
func (r *IONotifyRenderer) Metrics(data map[string]interface{}) map[string]float64 {
	return sensorValues(data)
}

// Sensors returns the sensor names seen in the latest update.
func (r *IONotifyRenderer) Sensors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sensors
}

// sensorValues pulls {name, value} pairs out of a snapshot's "sensors"
// list. Unparseable entries are skipped, not errors.
func sensorValues(data map[string]interface{}) map[string]float64 {
	out := make(map[string]float64)

	list, ok := data["sensors"].([]interface{})
	if !ok {
		return out
	}
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if name == "" {
			continue
		}
		if vals := NumericFields(entry); len(vals) > 0 {
			if v, ok := vals["value"]; ok {
				out[name] = v
			}
		}
	}
	return out
}
