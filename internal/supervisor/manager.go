package supervisor

import (
	"sort"
	"sync"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/reaper"
	"github.com/airup-sh/airupd/internal/task"
)

// providedSuffix routes a lookup through the aliases table instead of the
// primary name table (spec §4.7 "get(name)").
const providedSuffix = ".provided"

// Manager is the registry of Supervisors (spec §4.7): a name table, plus a
// "provides" alias table resolved through the providedSuffix. Reads
// dominate writes, so both tables share one RWMutex, held only across
// supervise/remove/gc.
type Manager struct {
	reaper *reaper.Reaper

	mu          sync.RWMutex
	supervisors map[string]*Supervisor
	provided    map[string]*Supervisor
}

// NewManager creates an empty Manager bound to r, which every Supervisor it
// creates will use for child-process reaping.
func NewManager(r *reaper.Reaper) *Manager {
	return &Manager{
		reaper:      r,
		supervisors: make(map[string]*Supervisor),
		provided:    make(map[string]*Supervisor),
	}
}

// Supervise inserts a new Supervisor for m, or returns the already-registered
// one if m.Name is already known (spec §4.7 "insert-or-return"). Each
// provides[] capability is registered in the aliases table; a collision
// with an already-aliased capability is resolved first-writer-wins (the
// earlier registration is kept).
func (m *Manager) Supervise(svc *manifest.Service) *Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sv, ok := m.supervisors[svc.Name]; ok {
		return sv
	}

	sv := New(svc, m.reaper, m)
	m.supervisors[svc.Name] = sv
	for _, capability := range svc.ServiceMeta.Provides {
		if _, taken := m.provided[capability]; !taken {
			m.provided[capability] = sv
		}
	}
	return sv
}

// Get looks up a Supervisor by name. A name ending in providedSuffix is
// routed through the aliases table instead (spec §4.7 "get(name)").
func (m *Manager) Get(name string) (*Supervisor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if capability, ok := strippedProvidedSuffix(name); ok {
		sv, found := m.provided[capability]
		return sv, found
	}
	sv, found := m.supervisors[name]
	return sv, found
}

func strippedProvidedSuffix(name string) (string, bool) {
	const suf = providedSuffix
	if len(name) > len(suf) && name[len(name)-len(suf):] == suf {
		return name[:len(name)-len(suf)], true
	}
	return "", false
}

// List returns a sorted snapshot of registered service names.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.supervisors))
	for name := range m.supervisors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters the named Supervisor. With permissive=false it fails
// if the service isn't Stopped (UnitStarted), has a running task
// (TaskExists), has a recorded last_error, or still backs a live
// `provides` alias. With permissive=true only the Stopped/no-task checks
// apply (spec §4.7 "remove"/"gc").
func (m *Manager) Remove(name string, permissive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sv, ok := m.supervisors[name]
	if !ok {
		return apierror.ErrObjectNotFound
	}
	if !sv.IsIdle() {
		if sv.Query().Status != StatusStopped {
			return apierror.ErrUnitStarted
		}
		return apierror.ErrTaskExists
	}
	if !permissive {
		if sv.HasError() {
			return apierror.Internal("service has a recorded last_error")
		}
		for capability, aliased := range m.provided {
			if aliased == sv {
				return apierror.Unsupported("service still provides `" + capability + "`")
			}
		}
	}

	delete(m.supervisors, name)
	for capability, aliased := range m.provided {
		if aliased == sv {
			delete(m.provided, capability)
		}
	}
	return nil
}

// GC removes every idle (Stopped, no task) Supervisor, including ones with a
// recorded last_error or a live `provides` alias (whose aliases are
// cleared), ignoring individual failures (spec §4.7 "gc()").
func (m *Manager) GC() {
	for _, name := range m.List() {
		_ = m.Remove(name, true)
	}
}

// RefreshAll re-reads each registered service's manifest from paths and
// replaces the in-memory copy where the service is currently idle,
// best-effort (spec §4.7 "Refresh").
func (m *Manager) RefreshAll(load func(name string) (*manifest.Service, error)) {
	for _, name := range m.List() {
		sv, ok := m.Get(name)
		if !ok {
			continue
		}
		fresh, err := load(name)
		if err != nil {
			continue
		}
		_ = sv.RefreshManifest(fresh)
	}
}

// MakeActive satisfies task.Daemon: it resolves name (applying the
// providedSuffix routing Get does) and starts that Supervisor.
func (m *Manager) MakeActive(name string) (task.Handle, error) {
	sv, ok := m.Get(name)
	if !ok {
		return nil, apierror.DependencyNotSatisfied(name)
	}
	return sv.MakeActive()
}

// IsActive satisfies task.Daemon.
func (m *Manager) IsActive(name string) (active bool, found bool) {
	sv, ok := m.Get(name)
	if !ok {
		return false, false
	}
	return sv.Query().Status == StatusActive, true
}
