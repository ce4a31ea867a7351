// Package session maintains the set of currently open object views and
// binds each one to a renderer, an update source, and its chart buffers.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/metrics"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/renderer"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/timeseries"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/transport"
)

// fetchTimeout bounds snapshot fetches made by polling timers.
const fetchTimeout = 5 * time.Second

// Transport is the slice of the push transport the manager needs. Defined
// here so tests can substitute a fake.
type Transport interface {
	Phase() models.TransportPhase
	PollInterval() time.Duration
	Subscribe(key string, h transport.Handler) string
	Unsubscribe(id string)
}

// Fetcher is the slice of the backend client the manager needs.
type Fetcher interface {
	FetchObjectSnapshot(ctx context.Context, objectName, serverID string) (*models.ObjectSnapshot, error)
}

// Session is one open object view. It owns its renderer, subscription and
// chart buffers; no session touches another session's state.
type Session struct {
	ref          models.ObjectRef
	displayName  string
	serverName   string
	rendererType string
	phase        models.SessionPhase

	renderer renderer.Renderer
	view     models.View
	subID    string
	charts   map[string]*timeseries.Buffer

	// pollStop is non-nil exactly while a polling timer runs. Closing it
	// guarantees no further poll callbacks fire for this session.
	pollStop chan struct{}
}

// updatePayload is the body of push update messages and the shape fed by
// polling fetches.
type updatePayload struct {
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Manager drives session creation, activation and teardown.
type Manager struct {
	mu         sync.Mutex
	transport  Transport
	fetcher    Fetcher
	registry   *renderer.Registry
	window     *timeseries.Window
	sessions   map[string]*Session
	order      []string
	foreground string
}

// NewManager creates a session manager. Register HandlePhaseChange with the
// transport so sessions switch between push delivery and self-polling.
func NewManager(tr Transport, fetcher Fetcher, registry *renderer.Registry, window *timeseries.Window) *Manager {
	return &Manager{
		transport: tr,
		fetcher:   fetcher,
		registry:  registry,
		window:    window,
		sessions:  make(map[string]*Session),
	}
}

// Open opens a view of one object. Opening an already-open key activates
// the existing session without a new fetch or subscription. A failed
// initial fetch creates no session and leaves no partial state.
func (m *Manager) Open(ctx context.Context, objectName, serverID, serverName string) (models.SessionInfo, error) {
	ref := models.ObjectRef{ServerID: serverID, Name: objectName}
	key := ref.Key()

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.activateLocked(key)
		info := m.infoLocked(s)
		m.mu.Unlock()
		return info, nil
	}
	m.mu.Unlock()

	snap, err := m.fetcher.FetchObjectSnapshot(ctx, objectName, serverID)
	if err != nil {
		return models.SessionInfo{}, fmt.Errorf("opening %s: %w", key, err)
	}

	rend, kind := m.registry.Resolve(snap.Descriptor)
	view := rend.CreateView(snap.Descriptor)
	rend.Initialize()

	displayName := snap.Descriptor.TextName
	if displayName == "" {
		displayName = objectName
	}

	s := &Session{
		ref:          ref,
		displayName:  displayName,
		serverName:   serverName,
		rendererType: kind,
		phase:        models.SessionCreated,
		renderer:     rend,
		view:         view,
		charts:       make(map[string]*timeseries.Buffer),
	}

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		// Lost the race with a concurrent Open for the same key: keep the
		// existing session, discard the new renderer.
		m.activateLocked(key)
		info := m.infoLocked(existing)
		m.mu.Unlock()
		m.destroyRenderer(key, rend)
		return info, nil
	}

	m.sessions[key] = s
	m.order = append(m.order, key)
	s.subID = m.transport.Subscribe(key, func(payload json.RawMessage) {
		m.deliverPush(key, payload)
	})
	if m.transport.Phase() != models.TransportOpen {
		m.startPollingLocked(s)
	}
	m.activateLocked(key)
	info := m.infoLocked(s)
	m.mu.Unlock()

	metrics.OpenSessions.Inc()
	fmt.Printf("[Sessions] Opened %s (renderer=%s)\n", key, kind)

	// Feed the initial snapshot through the same path updates take.
	m.apply(key, snap.Data, snap.Timestamp, "initial")

	return info, nil
}

// Activate marks exactly one session as the foreground one.
func (m *Manager) Activate(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; !ok {
		return fmt.Errorf("no session for key %s", key)
	}
	m.activateLocked(key)
	return nil
}

// Close tears down a session. It is idempotent: the polling timer is
// cancelled, chart buffers released, the subscription dropped and the
// renderer destroyed exactly once — even if the renderer's teardown fails.
func (m *Manager) Close(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	delete(m.sessions, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.stopPollingLocked(s)
	s.phase = models.SessionClosed
	s.charts = nil
	subID := s.subID

	if m.foreground == key {
		m.foreground = ""
		if len(m.order) > 0 {
			m.activateLocked(m.order[len(m.order)-1])
		}
	}
	m.mu.Unlock()

	m.transport.Unsubscribe(subID)
	m.destroyRenderer(key, s.renderer)

	metrics.OpenSessions.Dec()
	fmt.Printf("[Sessions] Closed %s\n", key)
}

// HandlePhaseChange re-arms delivery for every open session on every
// transport phase transition: polling while the channel is not open,
// push-only once it is. This runs for sessions created under either mode.
func (m *Manager) HandlePhaseChange(phase models.TransportPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if phase == models.TransportOpen {
			m.stopPollingLocked(s)
		} else {
			m.startPollingLocked(s)
		}
	}
}

// ApplyPollInterval restarts every active polling timer so a changed
// process-wide interval takes effect immediately.
func (m *Manager) ApplyPollInterval() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.pollStop != nil {
			m.stopPollingLocked(s)
			m.startPollingLocked(s)
		}
	}
}

// List returns the session registry in tab order.
func (m *Manager) List() []models.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.SessionInfo, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.infoLocked(m.sessions[key]))
	}
	return out
}

// Get returns one session's registry entry.
func (m *Manager) Get(key string) (models.SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return models.SessionInfo{}, false
	}
	return m.infoLocked(s), true
}

// View returns the static view descriptor the renderer produced on open.
func (m *Manager) View(key string) (models.View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	return s.view, true
}

// ChartSnapshot returns the retained samples of one metric for charting.
func (m *Manager) ChartSnapshot(key, metric string) ([]timeseries.Sample, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	var buf *timeseries.Buffer
	if ok {
		buf = s.charts[metric]
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no session for key %s", key)
	}
	if buf == nil {
		return nil, fmt.Errorf("no chart %q for session %s", metric, key)
	}
	return buf.Snapshot(), nil
}

// deliverPush decodes a routed push message and applies it.
func (m *Manager) deliverPush(key string, payload json.RawMessage) {
	var upd updatePayload
	if err := json.Unmarshal(payload, &upd); err != nil {
		fmt.Printf("[Sessions] Dropping malformed update for %s: %v\n", key, err)
		return
	}
	m.apply(key, upd.Data, upd.Timestamp, "push")
}

// apply hands one data snapshot to the session's renderer and appends its
// metric values to the chart buffers. Renderer failures are contained per
// session: logged, never propagated.
func (m *Manager) apply(key string, data map[string]interface{}, timestamp int64, source string) {
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	rend := s.renderer

	var vals map[string]float64
	if src, ok := rend.(renderer.MetricSource); ok {
		vals = src.Metrics(data)
	} else {
		vals = renderer.NumericFields(data)
	}
	buffers := make([]*timeseries.Buffer, 0, len(vals))
	values := make([]float64, 0, len(vals))
	for name, v := range vals {
		buf := s.charts[name]
		if buf == nil {
			buf = timeseries.NewBuffer(m.window)
			s.charts[name] = buf
		}
		buffers = append(buffers, buf)
		values = append(values, v)
	}
	m.mu.Unlock()

	for i, buf := range buffers {
		buf.Append(timestamp, values[i])
	}

	if err := safeUpdate(rend, data); err != nil {
		fmt.Printf("[Sessions] Renderer update failed for %s: %v\n", key, err)
	}
	metrics.RecordUpdate(source)
}

// startPollingLocked arms the fallback polling timer. A session never runs
// a poll timer and push delivery at once: push routing stays registered,
// but the timer only exists while the transport is not open.
func (m *Manager) startPollingLocked(s *Session) {
	if s.pollStop != nil || s.phase == models.SessionClosed {
		return
	}
	stop := make(chan struct{})
	s.pollStop = stop

	key := s.ref.Key()
	name := s.ref.Name
	serverID := s.ref.ServerID
	interval := m.transport.PollInterval()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
				snap, err := m.fetcher.FetchObjectSnapshot(ctx, name, serverID)
				cancel()
				if err != nil {
					fmt.Printf("[Sessions] Poll of %s failed: %v\n", key, err)
					continue
				}
				select {
				case <-stop:
					// Cancelled while the fetch was in flight.
					return
				default:
				}
				m.apply(key, snap.Data, snap.Timestamp, "poll")
			}
		}
	}()
}

func (m *Manager) stopPollingLocked(s *Session) {
	if s.pollStop == nil {
		return
	}
	close(s.pollStop)
	s.pollStop = nil
}

// activateLocked brings one session to the foreground and backgrounds the
// rest.
func (m *Manager) activateLocked(key string) {
	m.foreground = key
	for k, s := range m.sessions {
		if k == key {
			s.phase = models.SessionActive
		} else if s.phase == models.SessionActive || s.phase == models.SessionCreated {
			s.phase = models.SessionBackground
		}
	}
}

func (m *Manager) infoLocked(s *Session) models.SessionInfo {
	charts := make([]string, 0, len(s.charts))
	for name := range s.charts {
		charts = append(charts, name)
	}
	sort.Strings(charts)

	return models.SessionInfo{
		Key:          s.ref.Key(),
		DisplayName:  s.displayName,
		ServerID:     s.ref.ServerID,
		ServerName:   s.serverName,
		RendererType: s.rendererType,
		Phase:        s.phase,
		Foreground:   s.ref.Key() == m.foreground,
		Polling:      s.pollStop != nil,
		Charts:       charts,
	}
}

// destroyRenderer releases a renderer, containing both returned errors and
// panics so teardown of the session's own resources is never blocked.
func (m *Manager) destroyRenderer(key string, r renderer.Renderer) {
	defer func() {
		if rec := recover(); rec != nil {
			fmt.Printf("[Sessions] PANIC recovered in renderer destroy for %s: %v\n", key, rec)
		}
	}()
	if err := r.Destroy(); err != nil {
		fmt.Printf("[Sessions] Renderer destroy failed for %s: %v\n", key, err)
	}
}

// safeUpdate contains renderer panics during update delivery.
func safeUpdate(r renderer.Renderer, data map[string]interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("update panicked: %v", rec)
		}
	}()
	return r.Update(data)
}
