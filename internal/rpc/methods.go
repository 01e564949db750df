package rpc

import (
	"context"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/milestone"
	"github.com/airup-sh/airupd/internal/supervisor"
)

// ServiceLoader resolves a service manifest by name; API uses it to
// supervise a service on first reference (spec §4.7's "insert-or-return"
// surfaced through every `system.*_service` method that doesn't require
// the service to already be running).
type ServiceLoader func(name string) (*manifest.Service, error)

// PowerManager is the platform power-management verb collaborator for
// `system.poweroff|reboot|halt` (the same interface `internal/milestone`
// uses for reboot-class milestones).
type PowerManager = milestone.PowerManager

// BuildInfo is the static payload for `info.version`/`info.build_manifest`.
type BuildInfo struct {
	Version  string `cbor:"version"`
	Manifest string `cbor:"build_manifest"`
}

// API wires the Supervisor Core's public surface (spec §6) onto a Router.
type API struct {
	Manager      *supervisor.Manager
	LoadService  ServiceLoader
	Milestones   *milestone.Runner
	PowerManager PowerManager
	Build        BuildInfo
	bootTime     int64
}

// NewAPI returns an API bound to its collaborators, stamping its own boot
// timestamp once (spec's QuerySystem.boot_timestamp).
func NewAPI(m *supervisor.Manager, loadService ServiceLoader, milestones *milestone.Runner, pm PowerManager, build BuildInfo, bootTime int64) *API {
	return &API{
		Manager:      m,
		LoadService:  loadService,
		Milestones:   milestones,
		PowerManager: pm,
		Build:        build,
		bootTime:     bootTime,
	}
}

// Register installs every method in spec §6's surface onto router.
func (a *API) Register(router *Router) {
	router.HandleFunc("system.start_service", a.startService)
	router.HandleFunc("system.stop_service", a.stopService)
	router.HandleFunc("system.kill_service", a.killService)
	router.HandleFunc("system.reload_service", a.reloadService)
	router.HandleFunc("system.cache_service", a.cacheService)
	router.HandleFunc("system.uncache_service", a.uncacheService)
	router.HandleFunc("system.query_service", a.queryService)
	router.HandleFunc("system.query_system", a.querySystem)
	router.HandleFunc("system.list_services", a.listServices)
	router.HandleFunc("system.interrupt_service_task", a.interruptServiceTask)
	router.HandleFunc("system.sideload_service", a.sideloadService)
	router.HandleFunc("system.refresh", a.refresh)
	router.HandleFunc("system.gc", a.gc)
	router.HandleFunc("system.enter_milestone", a.enterMilestone)
	router.HandleFunc("system.trigger_event", a.triggerEvent)
	router.HandleFunc("system.poweroff", a.poweroff)
	router.HandleFunc("system.reboot", a.reboot)
	router.HandleFunc("system.halt", a.halt)
	router.HandleFunc("debug.dump", a.debugDump)
	router.HandleFunc("info.version", a.infoVersion)
	router.HandleFunc("info.build_manifest", a.infoBuildManifest)
}

// getOrSupervise resolves name to a Supervisor, loading and registering
// its manifest on first reference (mirrors the original `start_service`'s
// "supervised or load-then-supervise" fallback).
func (a *API) getOrSupervise(name string) (*supervisor.Supervisor, error) {
	if sv, ok := a.Manager.Get(name); ok {
		return sv, nil
	}
	svc, err := a.LoadService(name)
	if err != nil {
		return nil, apierror.ErrObjectNotFound
	}
	return a.Manager.Supervise(svc), nil
}

// requireSupervised resolves name to an already-registered Supervisor, or
// NotStarted if the named service is known but never started, or
// ObjectNotFound if it's entirely unknown (mirrors the original
// `stop_service`/`reload_service`'s behavior of distinguishing those two
// cases via a storage lookup).
func (a *API) requireSupervised(name string) (*supervisor.Supervisor, error) {
	if sv, ok := a.Manager.Get(name); ok {
		return sv, nil
	}
	if _, err := a.LoadService(name); err != nil {
		return nil, apierror.ErrObjectNotFound
	}
	return nil, apierror.ErrNotStarted
}

func (a *API) startService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	sv, err := a.getOrSupervise(name)
	if err != nil {
		return nil, err
	}
	_, err = sv.Start()
	return nil, err
}

func (a *API) stopService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	sv, err := a.requireSupervised(name)
	if err != nil {
		return nil, err
	}
	_, err = sv.Stop()
	return nil, err
}

func (a *API) killService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	sv, err := a.requireSupervised(name)
	if err != nil {
		return nil, err
	}
	return nil, sv.Kill()
}

func (a *API) reloadService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	sv, err := a.requireSupervised(name)
	if err != nil {
		return nil, err
	}
	_, err = sv.Reload()
	return nil, err
}

func (a *API) cacheService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	_, err = a.getOrSupervise(name)
	return nil, err
}

func (a *API) uncacheService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	return nil, a.Manager.Remove(name, false)
}

// QueryService is the wire result of `system.query_service`.
type QueryService struct {
	Status      string            `cbor:"status"`
	StatusSince int64             `cbor:"status_since,omitempty"`
	Pid         int               `cbor:"pid,omitempty"`
	TaskClass   string            `cbor:"task_class,omitempty"`
	LastError   *ErrorPayload     `cbor:"last_error,omitempty"`
	Definition  *manifest.Service `cbor:"definition"`
}

func (a *API) queryService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	if sv, ok := a.Manager.Get(name); ok {
		q := sv.Query()
		wire := QueryService{
			Status:      q.Status.String(),
			StatusSince: q.StatusSince,
			Pid:         q.Pid,
			Definition:  q.Manifest,
		}
		if q.TaskClass != nil {
			wire.TaskClass = string(*q.TaskClass)
		}
		if q.LastError != nil {
			resp := ToResponse(q.LastError)
			if payload, ok := resp.Payload.(ErrorPayload); ok {
				wire.LastError = &payload
			}
		}
		return wire, nil
	}

	svc, err := a.LoadService(name)
	if err != nil {
		return nil, apierror.ErrObjectNotFound
	}
	return QueryService{Status: supervisor.StatusStopped.String(), Definition: svc}, nil
}

// QuerySystem is the wire result of `system.query_system`.
type QuerySystem struct {
	BootTimestamp int64    `cbor:"boot_timestamp"`
	Services      []string `cbor:"services"`
}

func (a *API) querySystem(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	return QuerySystem{
		BootTimestamp: a.bootTime,
		Services:      a.Manager.List(),
	}, nil
}

func (a *API) listServices(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	return a.Manager.List(), nil
}

func (a *API) interruptServiceTask(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	sv, err := a.requireSupervised(name)
	if err != nil {
		return nil, err
	}
	return nil, sv.InterruptTask()
}

// sideload_service's params are a 2-element array: [name, manifest TOML].
func (a *API) sideloadService(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	var raw [2]string
	if err := DecodeParams(params, &raw); err != nil {
		return nil, err
	}
	svc, err := manifest.ParseService([]byte(raw[1]))
	if err != nil {
		return nil, apierror.ErrInvalidParams
	}
	svc.Name = raw[0]
	a.Manager.Supervise(svc)
	return nil, nil
}

// RefreshError is one failure entry of `system.refresh`'s result.
type RefreshError struct {
	Name  string `cbor:"name"`
	Error string `cbor:"error"`
}

func (a *API) refresh(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	var errs []RefreshError
	a.Manager.RefreshAll(func(name string) (*manifest.Service, error) {
		svc, err := a.LoadService(name)
		if err != nil {
			errs = append(errs, RefreshError{Name: "service-manifest:" + name, Error: err.Error()})
		}
		return svc, err
	})
	return errs, nil
}

func (a *API) gc(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	a.Manager.GC()
	return nil, nil
}

func (a *API) enterMilestone(_ context.Context, params cbor.RawMessage) (interface{}, error) {
	name, err := DecodeSingleParam(params)
	if err != nil {
		return nil, err
	}
	if a.Milestones == nil {
		return nil, apierror.Unsupported("milestone runner not configured")
	}
	return nil, a.Milestones.Enter(name)
}

// triggerEvent is a supplemented no-op surfacing point: the event-source
// daemon that would produce events is explicitly out of scope (spec §1),
// so this only validates shape and reports success, giving a future
// event dispatcher a stable method name to attach to.
func (a *API) triggerEvent(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	return nil, nil
}

func (a *API) poweroff(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	if a.PowerManager == nil {
		return nil, apierror.Unsupported("power manager not configured")
	}
	return nil, a.PowerManager.Poweroff()
}

func (a *API) reboot(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	if a.PowerManager == nil {
		return nil, apierror.Unsupported("power manager not configured")
	}
	return nil, a.PowerManager.Reboot()
}

func (a *API) halt(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	if a.PowerManager == nil {
		return nil, apierror.Unsupported("power manager not configured")
	}
	return nil, a.PowerManager.Halt()
}

func (a *API) debugDump(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	var dump string
	for _, name := range a.Manager.List() {
		sv, ok := a.Manager.Get(name)
		if !ok {
			continue
		}
		q := sv.Query()
		dump += name + ": " + q.Status.String()
		if q.Pid != 0 {
			dump += " pid=" + strconv.Itoa(q.Pid)
		}
		if q.TaskClass != nil {
			dump += " task=" + string(*q.TaskClass)
		}
		dump += "\n"
	}
	return dump, nil
}

func (a *API) infoVersion(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	return a.Build.Version, nil
}

func (a *API) infoBuildManifest(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
	return a.Build.Manifest, nil
}
