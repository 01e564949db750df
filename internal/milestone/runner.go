// Package milestone implements the Milestone Runner (spec §4.9): entering
// a milestone loads its manifest, recurses into its dependencies (breaking
// cycles), then starts the services it lists according to the milestone's
// start policy.
package milestone

import (
	"time"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/logger"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/supervisor"
)

// MilestoneLoader resolves a milestone by name to its directory manifest.
type MilestoneLoader func(name string) (*manifest.Milestone, error)

// ServiceLoader resolves a service by name to its manifest, for registering
// listed services that the Manager does not know yet: the `cache` verb
// (spec's `system.cache_service`: register without starting), and the
// `start` and `run` verbs before they start one.
type ServiceLoader func(name string) (*manifest.Service, error)

// Runner drives milestone entry against a Manager.
type Runner struct {
	Manager       *supervisor.Manager
	LoadMilestone MilestoneLoader
	LoadService   ServiceLoader
	RebootTimeout time.Duration // config `reboot_timeout`, spec §4.9
	PowerManager  PowerManager
}

// PowerManager is the platform power-management verb collaborator invoked
// by a reboot-class milestone once every service has been stopped. A
// no-op implementation is a valid PowerManager: the spec names power
// management bindings as out of scope beyond satisfying this interface.
type PowerManager interface {
	Poweroff() error
	Reboot() error
	Halt() error
}

// rebootClassMilestones additionally stop every running service before
// invoking their power-manager verb (spec §4.9 "Reboot-class milestones").
var rebootClassMilestones = map[string]func(PowerManager) error{
	"reboot":   PowerManager.Reboot,
	"poweroff": PowerManager.Poweroff,
	"halt":     PowerManager.Halt,
}

// Enter loads and runs the named milestone, recursing into its
// dependencies first. A dependency cycle is detected via visited and
// broken with a warning rather than an error.
func (r *Runner) Enter(name string) error {
	return r.enter(name, make(map[string]bool, 8))
}

func (r *Runner) enter(name string, visited map[string]bool) error {
	ms, err := r.LoadMilestone(name)
	if err != nil {
		logger.Errorf("milestone: failed to load %q: %v", name, err)
		return err
	}

	if visited[ms.Name] {
		logger.Warnf("milestone: dependency loop detected at %q, breaking loop", ms.DisplayName())
		return nil
	}
	visited[ms.Name] = true

	logger.Noticef("milestone: entering %s", ms.DisplayName())

	for _, dep := range ms.Manifest.Milestone.Dependencies {
		if err := r.enter(dep, visited); err != nil {
			logger.Warnf("milestone: dependency %q of %q failed: %v", dep, ms.Name, err)
		}
	}

	items, errs := ms.Items()
	for _, e := range errs {
		logger.Warnf("milestone: %s: %v", ms.Name, e)
	}

	r.runItems(ms, items)

	if stop, ok := rebootClassMilestones[ms.Name]; ok {
		r.stopAll()
		if r.PowerManager != nil {
			return stop(r.PowerManager)
		}
	}

	return nil
}

func (r *Runner) runItems(ms *manifest.Milestone, items []manifest.Item) {
	var toStart []string
	for _, item := range items {
		switch item.Verb {
		case manifest.ItemCache:
			r.cache(item.Entity)
		case manifest.ItemRun:
			r.cache(item.Entity)
			r.run(item.Entity)
		case manifest.ItemStart:
			r.cache(item.Entity)
			toStart = append(toStart, item.Entity)
		}
	}
	if len(toStart) == 0 {
		return
	}

	switch ms.Manifest.Milestone.Kind {
	case manifest.MilestoneSerial:
		r.startSerial(toStart)
	case manifest.MilestoneSync:
		r.startSync(toStart)
	default:
		r.startAsync(toStart)
	}
}

// cache registers a service's manifest with the Manager without starting
// it (spec's `system.cache_service`). An already registered service is left
// as it is.
func (r *Runner) cache(name string) {
	if _, ok := r.Manager.Get(name); ok {
		return
	}
	svc, err := r.LoadService(name)
	if err != nil {
		logger.Errorf("milestone: failed to cache %q: %v", name, err)
		return
	}
	r.Manager.Supervise(svc)
}

// run starts a service and waits for the task to fully complete,
// regardless of the milestone's Async/Serial/Sync policy — distinct from
// `start`, which is scheduled per that policy. A supplemented verb named
// in spec §6's milestone item grammar; not present in the original
// project's plain service-name lists.
func (r *Runner) run(name string) {
	sv, ok := r.Manager.Get(name)
	if !ok {
		logger.Errorf("milestone: unknown service %q", name)
		return
	}
	h, err := sv.MakeActive()
	if err != nil {
		logger.Errorf("milestone: failed to run %q: %v", name, err)
		return
	}
	if err := h.Wait(); err != nil {
		logger.Errorf("milestone: %q exited with error: %v", name, err)
	}
}

// startAsync fires Manager.start without awaiting completion; UnitStarted
// counts as success (spec §4.9 "Async").
func (r *Runner) startAsync(names []string) {
	for _, name := range names {
		name := name
		sv, ok := r.Manager.Get(name)
		if !ok {
			logger.Errorf("milestone: unknown service %q", name)
			continue
		}
		go func() {
			if _, err := sv.Start(); err != nil && !isUnitStarted(err) {
				logger.Errorf("milestone: failed to start %q: %v", name, err)
				return
			}
			logger.Noticef("milestone: starting %s", sv.Manifest().DisplayName())
		}()
	}
}

// startSerial calls MakeActive and awaits each in turn; a failure is
// logged but does not stop subsequent services (spec §4.9 "Serial").
func (r *Runner) startSerial(names []string) {
	for _, name := range names {
		sv, ok := r.Manager.Get(name)
		if !ok {
			logger.Errorf("milestone: unknown service %q", name)
			continue
		}
		h, err := sv.MakeActive()
		if err != nil {
			logger.Errorf("milestone: failed to start %q: %v", name, err)
			continue
		}
		if err := h.Wait(); err != nil {
			logger.Errorf("milestone: failed to start %q: %v", name, err)
			continue
		}
		logger.Noticef("milestone: starting %s", sv.Manifest().DisplayName())
	}
}

// startSync issues every start concurrently, but Enter does not return
// from this step until all of them have reached Active or failed (spec
// §4.9 "Sync").
func (r *Runner) startSync(names []string) {
	done := make(chan struct{}, len(names))
	for _, name := range names {
		name := name
		go func() {
			defer func() { done <- struct{}{} }()
			sv, ok := r.Manager.Get(name)
			if !ok {
				logger.Errorf("milestone: unknown service %q", name)
				return
			}
			h, err := sv.MakeActive()
			if err != nil {
				logger.Errorf("milestone: failed to start %q: %v", name, err)
				return
			}
			if err := h.Wait(); err != nil {
				logger.Errorf("milestone: failed to start %q: %v", name, err)
				return
			}
			logger.Noticef("milestone: starting %s", sv.Manifest().DisplayName())
		}()
	}
	for range names {
		<-done
	}
}

// stopAll stops every registered service concurrently, bounded by
// RebootTimeout (spec §4.9 "Reboot-class milestones"). Individual stop
// failures are logged; NotStarted/Unsupported are expected for services
// already stopped or without a stop path and are not logged as errors.
func (r *Runner) stopAll() {
	names := r.Manager.List()
	done := make(chan struct{}, len(names))
	for _, name := range names {
		name := name
		go func() {
			defer func() { done <- struct{}{} }()
			sv, ok := r.Manager.Get(name)
			if !ok {
				return
			}
			h, err := sv.Stop()
			if err != nil {
				if isNotStartedOrUnsupported(err) {
					return
				}
				logger.Errorf("milestone: failed to stop %q: %v", name, err)
				return
			}
			if err := h.Wait(); err != nil && !isNotStartedOrUnsupported(err) {
				logger.Errorf("milestone: %q failed to stop cleanly: %v", name, err)
			}
		}()
	}

	if r.RebootTimeout <= 0 {
		for range names {
			<-done
		}
		return
	}
	timer := time.NewTimer(r.RebootTimeout)
	defer timer.Stop()
	for i := 0; i < len(names); i++ {
		select {
		case <-done:
		case <-timer.C:
			return
		}
	}
}

func isUnitStarted(err error) bool {
	return apierror.Of(err, apierror.KindUnitStarted)
}

func isNotStartedOrUnsupported(err error) bool {
	return apierror.Of(err, apierror.KindNotStarted) || apierror.Of(err, apierror.KindUnsupported)
}
