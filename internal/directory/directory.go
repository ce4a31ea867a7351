// Package directory aggregates objects from multiple independently
// connecting servers and preserves a last-known view when a server drops.
package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/config"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/metrics"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// ObjectLister is the slice of the backend client the directory needs.
type ObjectLister interface {
	FetchServerObjects(ctx context.Context, serverID string) ([]string, error)
}

type serverState struct {
	status models.ServerStatus
	cached []string
	// fetched is true after at least one successful fetch; servers that
	// never succeeded are omitted from the catalog.
	fetched bool
}

// Directory holds the set of known servers and, per server, the most
// recently observed object list.
type Directory struct {
	mu      sync.RWMutex
	lister  ObjectLister
	order   []string
	servers map[string]*serverState
	now     func() time.Time
}

// New creates a directory over the configured server set. Servers are
// configuration-driven: they are never deleted, only marked disconnected.
func New(servers []config.UpstreamServer, lister ObjectLister) *Directory {
	d := &Directory{
		lister:  lister,
		servers: make(map[string]*serverState, len(servers)),
		now:     time.Now,
	}
	for _, s := range servers {
		d.order = append(d.order, s.ID)
		d.servers[s.ID] = &serverState{
			status: models.ServerStatus{ID: s.ID, URL: s.URL, Name: s.Name},
		}
	}
	return d
}

// Refresh fetches the current object list of every configured server.
// Per-server failures are isolated: a failed server keeps its previous
// cachedObjects and is marked disconnected. Refresh never returns an error.
func (d *Directory) Refresh(ctx context.Context) {
	d.mu.RLock()
	order := make([]string, len(d.order))
	copy(order, d.order)
	d.mu.RUnlock()

	for _, id := range order {
		objects, err := d.lister.FetchServerObjects(ctx, id)

		d.mu.Lock()
		state, ok := d.servers[id]
		if !ok {
			d.mu.Unlock()
			continue
		}
		state.status.LastPoll = d.now()
		if err != nil {
			state.status.Connected = false
			state.status.LastError = err.Error()
			metrics.RecordRefreshFailure(id)
			fmt.Printf("[Directory] Server %s unreachable: %v\n", id, err)
		} else {
			state.cached = objects
			state.fetched = true
			state.status.Connected = true
			state.status.LastError = ""
			state.status.ObjectCount = len(objects)
		}
		d.mu.Unlock()
	}
}

// Snapshot returns the catalog in configured server order. A disconnected
// server keeps showing its last known objects; a server that never fetched
// successfully is omitted entirely rather than shown as an empty group.
func (d *Directory) Snapshot() []models.CatalogGroup {
	d.mu.RLock()
	defer d.mu.RUnlock()

	groups := make([]models.CatalogGroup, 0, len(d.order))
	for _, id := range d.order {
		state := d.servers[id]
		if !state.fetched {
			continue
		}
		objects := make([]string, len(state.cached))
		copy(objects, state.cached)
		groups = append(groups, models.CatalogGroup{
			ServerID:   state.status.ID,
			ServerName: state.status.Name,
			Connected:  state.status.Connected,
			Objects:    objects,
			LastPoll:   state.status.LastPoll,
			LastError:  state.status.LastError,
		})
	}
	return groups
}

// ServerStatuses returns the full per-server state, including servers that
// never fetched successfully (for the status view, not the catalog).
func (d *Directory) ServerStatuses() []models.ServerStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]models.ServerStatus, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.servers[id].status)
	}
	return out
}

// ServerName resolves a configured server's display name.
func (d *Directory) ServerName(serverID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, ok := d.servers[serverID]
	if !ok {
		return "", false
	}
	return state.status.Name, true
}
