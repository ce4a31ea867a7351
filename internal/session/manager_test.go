package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/renderer"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/timeseries"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	phase    models.TransportPhase
	interval time.Duration
	handlers map[string]transport.Handler // subscription id -> handler
	subKeys  map[string]string            // subscription id -> key
	nextID   int
	unsubs   int
}

func newFakeTransport(phase models.TransportPhase) *fakeTransport {
	return &fakeTransport{
		phase:    phase,
		interval: time.Hour,
		handlers: make(map[string]transport.Handler),
		subKeys:  make(map[string]string),
	}
}

func (f *fakeTransport) Phase() models.TransportPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeTransport) PollInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakeTransport) Subscribe(key string, h transport.Handler) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.handlers[id] = h
	f.subKeys[id] = key
	return id
}

func (f *fakeTransport) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handlers[id]; ok {
		f.unsubs++
		delete(f.handlers, id)
		delete(f.subKeys, id)
	}
}

// push delivers a payload to every handler subscribed to key, the way the
// real transport routes tagged updates.
func (f *fakeTransport) push(key string, payload string) {
	f.mu.Lock()
	var hs []transport.Handler
	for id, k := range f.subKeys {
		if k == key {
			hs = append(hs, f.handlers[id])
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(payload))
	}
}

func (f *fakeTransport) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) FetchObjectSnapshot(ctx context.Context, objectName, serverID string) (*models.ObjectSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.ObjectSnapshot{
		Descriptor: models.ObjectDescriptor{
			Name:       objectName,
			ObjectType: "TrackedObject",
		},
		Data:      map[string]interface{}{"value": 42.0},
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// trackRenderer records lifecycle calls so tests can assert delivery and
// teardown behaviour.
type trackRenderer struct {
	mu             sync.Mutex
	updates        []map[string]interface{}
	destroys       int
	panicOnDestroy bool
}

func (r *trackRenderer) CreateView(desc models.ObjectDescriptor) models.View {
	return models.View{"type": "tracked", "name": desc.Name}
}

func (r *trackRenderer) Initialize() {}

func (r *trackRenderer) Update(data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, data)
	return nil
}

func (r *trackRenderer) Destroy() error {
	r.mu.Lock()
	r.destroys++
	panicking := r.panicOnDestroy
	r.mu.Unlock()
	if panicking {
		panic("teardown exploded")
	}
	return nil
}

func (r *trackRenderer) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *trackRenderer) destroyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroys
}

// testSetup wires a manager over fakes. Every renderer created through the
// registry is recorded so tests can inspect it afterwards.
func testSetup(phase models.TransportPhase) (*Manager, *fakeTransport, *fakeFetcher, *[]*trackRenderer) {
	tr := newFakeTransport(phase)
	fetcher := &fakeFetcher{}
	reg := renderer.NewRegistry()

	created := &[]*trackRenderer{}
	var mu sync.Mutex
	reg.Register("TrackedObject", func() renderer.Renderer {
		r := &trackRenderer{}
		mu.Lock()
		*created = append(*created, r)
		mu.Unlock()
		return r
	})

	window := timeseries.NewWindow(300)
	return NewManager(tr, fetcher, reg, window), tr, fetcher, created
}

func TestOpenCreatesSession(t *testing.T) {
	m, tr, fetcher, _ := testSetup(models.TransportOpen)

	info, err := m.Open(context.Background(), "Pump1", "local", "Local SM")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if info.Key != "Pump1@local" {
		t.Errorf("Wrong key: %s", info.Key)
	}
	if info.RendererType != "TrackedObject" {
		t.Errorf("Wrong renderer type: %s", info.RendererType)
	}
	if !info.Foreground || info.Phase != models.SessionActive {
		t.Errorf("New session not foreground/active: %+v", info)
	}
	if info.Polling {
		t.Error("Session polling while transport is open")
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected 1 fetch, got %d", fetcher.callCount())
	}
	if tr.subCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", tr.subCount())
	}

	// The initial snapshot goes through the normal update path, so the
	// numeric field already has a chart buffer.
	got, ok := m.Get("Pump1@local")
	if !ok {
		t.Fatal("Session not found after Open")
	}
	if len(got.Charts) != 1 || got.Charts[0] != "value" {
		t.Errorf("Expected chart for value, got %v", got.Charts)
	}
}

func TestReopenReusesSession(t *testing.T) {
	m, tr, fetcher, created := testSetup(models.TransportOpen)

	if _, err := m.Open(context.Background(), "Pump1", "local", "Local SM"); err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	info, err := m.Open(context.Background(), "Pump1", "local", "Local SM")
	if err != nil {
		t.Fatalf("Second open failed: %v", err)
	}

	if fetcher.callCount() != 1 {
		t.Errorf("Reopen refetched: %d calls", fetcher.callCount())
	}
	if tr.subCount() != 1 {
		t.Errorf("Reopen resubscribed: %d subs", tr.subCount())
	}
	if len(*created) != 1 {
		t.Errorf("Reopen built a new renderer: %d created", len(*created))
	}
	if len(m.List()) != 1 {
		t.Errorf("Expected 1 session, got %d", len(m.List()))
	}
	if !info.Foreground {
		t.Error("Reopen did not bring the session to the foreground")
	}
}

func TestOpenFetchFailureLeavesNoState(t *testing.T) {
	m, tr, fetcher, created := testSetup(models.TransportOpen)
	fetcher.err = fmt.Errorf("object not found")

	_, err := m.Open(context.Background(), "Ghost", "local", "Local SM")
	if err == nil {
		t.Fatal("Expected error from failed fetch")
	}
	if len(m.List()) != 0 {
		t.Errorf("Failed open left sessions behind: %v", m.List())
	}
	if tr.subCount() != 0 {
		t.Errorf("Failed open left a subscription: %d", tr.subCount())
	}
	if len(*created) != 0 {
		t.Errorf("Failed open created a renderer")
	}
}

func TestCloseIsIdempotentAndDestroysOnce(t *testing.T) {
	m, tr, _, created := testSetup(models.TransportOpen)

	if _, err := m.Open(context.Background(), "Pump1", "local", "Local SM"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	m.Close("Pump1@local")
	m.Close("Pump1@local")
	m.Close("never-existed@local")

	if got := (*created)[0].destroyCount(); got != 1 {
		t.Errorf("Expected renderer destroyed exactly once, got %d", got)
	}
	if tr.unsubs != 1 {
		t.Errorf("Expected 1 unsubscribe, got %d", tr.unsubs)
	}
	if len(m.List()) != 0 {
		t.Errorf("Session still listed after close")
	}
	if _, err := m.ChartSnapshot("Pump1@local", "value"); err == nil {
		t.Error("Chart still readable after close")
	}
}

func TestCloseContainsDestroyPanic(t *testing.T) {
	m, _, _, created := testSetup(models.TransportOpen)

	if _, err := m.Open(context.Background(), "Pump1", "local", "Local SM"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	(*created)[0].panicOnDestroy = true

	// A panicking renderer must not abort session teardown.
	m.Close("Pump1@local")
	if len(m.List()) != 0 {
		t.Error("Session survived close after destroy panic")
	}
}

func TestCloseForegroundPromotesPrevious(t *testing.T) {
	m, _, _, _ := testSetup(models.TransportOpen)
	ctx := context.Background()

	if _, err := m.Open(ctx, "Pump1", "local", "Local SM"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := m.Open(ctx, "Valve3", "local", "Local SM"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	m.Close("Valve3@local")
	info, ok := m.Get("Pump1@local")
	if !ok || !info.Foreground {
		t.Errorf("Remaining session not promoted to foreground: %+v", info)
	}
}

func TestActivateSwitchesForeground(t *testing.T) {
	m, _, _, _ := testSetup(models.TransportOpen)
	ctx := context.Background()

	m.Open(ctx, "Pump1", "local", "Local SM")
	m.Open(ctx, "Valve3", "local", "Local SM")

	if err := m.Activate("Pump1@local"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	a, _ := m.Get("Pump1@local")
	b, _ := m.Get("Valve3@local")
	if !a.Foreground || a.Phase != models.SessionActive {
		t.Errorf("Activated session wrong: %+v", a)
	}
	if b.Foreground || b.Phase != models.SessionBackground {
		t.Errorf("Backgrounded session wrong: %+v", b)
	}

	if err := m.Activate("nope@local"); err == nil {
		t.Error("Activate of unknown key succeeded")
	}
}

func TestPushRoutedToOwningSession(t *testing.T) {
	m, tr, _, created := testSetup(models.TransportOpen)
	ctx := context.Background()

	m.Open(ctx, "Pump1", "local", "Local SM")
	m.Open(ctx, "Valve3", "local", "Local SM")

	a := (*created)[0]
	b := (*created)[1]
	aBefore := a.updateCount()
	bBefore := b.updateCount()

	ts := time.Now().UnixMilli()
	tr.push("Pump1@local", fmt.Sprintf(`{"timestamp":%d,"data":{"value":7}}`, ts))

	if a.updateCount() != aBefore+1 {
		t.Errorf("Targeted session missed its update")
	}
	if b.updateCount() != bBefore {
		t.Errorf("Update leaked to another session")
	}

	samples, err := m.ChartSnapshot("Pump1@local", "value")
	if err != nil {
		t.Fatalf("ChartSnapshot failed: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("Pushed sample not charted")
	}
	last := samples[len(samples)-1]
	if last.Value != 7 || last.Timestamp != ts {
		t.Errorf("Pushed sample wrong: %+v", last)
	}
}

func TestMalformedPushDropped(t *testing.T) {
	m, tr, _, created := testSetup(models.TransportOpen)

	m.Open(context.Background(), "Pump1", "local", "Local SM")
	before := (*created)[0].updateCount()

	tr.push("Pump1@local", `{not json`)

	if got := (*created)[0].updateCount(); got != before {
		t.Errorf("Malformed update reached the renderer")
	}
}

func TestPhaseChangeRearmsAllSessions(t *testing.T) {
	m, tr, _, _ := testSetup(models.TransportOpen)
	ctx := context.Background()

	m.Open(ctx, "Pump1", "local", "Local SM")
	m.Open(ctx, "Valve3", "local", "Local SM")

	for _, s := range m.List() {
		if s.Polling {
			t.Fatalf("Session %s polling while transport open", s.Key)
		}
	}

	// The channel degrades: every session, regardless of when it was
	// opened, must start its fallback timer.
	tr.mu.Lock()
	tr.phase = models.TransportDegraded
	tr.mu.Unlock()
	m.HandlePhaseChange(models.TransportDegraded)

	for _, s := range m.List() {
		if !s.Polling {
			t.Errorf("Session %s not polling after degrade", s.Key)
		}
	}

	// And back: push resumes, timers stop.
	tr.mu.Lock()
	tr.phase = models.TransportOpen
	tr.mu.Unlock()
	m.HandlePhaseChange(models.TransportOpen)

	for _, s := range m.List() {
		if s.Polling {
			t.Errorf("Session %s still polling after recovery", s.Key)
		}
	}
}

func TestOpenWhileDegradedStartsPolling(t *testing.T) {
	m, tr, fetcher, _ := testSetup(models.TransportDegraded)
	tr.mu.Lock()
	tr.interval = 10 * time.Millisecond
	tr.mu.Unlock()

	info, err := m.Open(context.Background(), "Pump1", "local", "Local SM")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !info.Polling {
		t.Fatal("Session opened under degraded transport is not polling")
	}

	// The timer drives further fetches beyond the initial one.
	deadline := time.After(2 * time.Second)
	for fetcher.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Polling fetches did not happen, calls=%d", fetcher.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Close("Pump1@local")
	settled := fetcher.callCount()
	time.Sleep(50 * time.Millisecond)
	// Allow one in-flight fetch to finish; afterwards the count must hold.
	if got := fetcher.callCount(); got > settled+1 {
		t.Errorf("Polling continued after close: %d -> %d", settled, got)
	}
}

func TestViewReturnsRendererView(t *testing.T) {
	m, _, _, _ := testSetup(models.TransportOpen)

	m.Open(context.Background(), "Pump1", "local", "Local SM")
	view, ok := m.View("Pump1@local")
	if !ok {
		t.Fatal("View not found")
	}
	if view["type"] != "tracked" || view["name"] != "Pump1" {
		t.Errorf("Unexpected view: %v", view)
	}
	if _, ok := m.View("nope@local"); ok {
		t.Error("View of unknown key resolved")
	}
}
