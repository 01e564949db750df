// Command airupd is the Supervisor Core daemon: it supervises services,
// enters a bootstrap milestone, and serves the RPC surface over a
// Unix-domain socket (spec §1, §5, §6).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airup-sh/airupd/internal/config"
	"github.com/airup-sh/airupd/internal/dirchain"
	"github.com/airup-sh/airupd/internal/logger"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/milestone"
	"github.com/airup-sh/airupd/internal/reaper"
	"github.com/airup-sh/airupd/internal/rpc"
	"github.com/airup-sh/airupd/internal/supervisor"
)

var version = "dev"

func main() {
	milestoneName := flag.String("milestone", "", "bootstrap milestone to enter (default: AIRUP_MILESTONE or \"default\")")
	buildManifestPath := flag.String("build-manifest", "", "override the compiled-in build manifest")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger.SetLogger(logger.New(os.Stderr, "airupd: "))
	if *verbose {
		os.Setenv("AIRUPD_DEBUG", "1")
	}

	if err := run(*milestoneName, *buildManifestPath); err != nil {
		logger.Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(milestoneFlag, buildManifestPath string) error {
	build := config.Default()
	if buildManifestPath != "" {
		loaded, err := config.Load(buildManifestPath)
		if err != nil {
			return fmt.Errorf("load build manifest: %w", err)
		}
		build = loaded
	}

	if err := os.MkdirAll(build.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	lock, err := acquireLock(build.LockPath())
	if err != nil {
		return err
	}
	defer lock.Close()

	r := reaper.New()
	if err := r.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer r.Stop()

	services := dirchain.New(build.ServiceDir)
	milestones := dirchain.New(build.MilestoneDir)

	loadService := func(name string) (*manifest.Service, error) {
		path, ok := services.Find(name + manifest.Suffix)
		if !ok {
			return nil, fmt.Errorf("no such service: %s", name)
		}
		return manifest.LoadService(path)
	}
	loadMilestone := func(name string) (*manifest.Milestone, error) {
		path, ok := milestones.Find(name)
		if !ok {
			return nil, fmt.Errorf("no such milestone: %s", name)
		}
		return manifest.LoadMilestone(path)
	}

	mgr := supervisor.NewManager(r)
	power := noopPowerManager{}

	runner := &milestone.Runner{
		Manager:       mgr,
		LoadMilestone: loadMilestone,
		LoadService:   loadService,
		RebootTimeout: 30 * time.Second,
		PowerManager:  power,
	}

	buildJSON, err := json.Marshal(build)
	if err != nil {
		return fmt.Errorf("encode build manifest: %w", err)
	}
	api := rpc.NewAPI(mgr, loadService, runner, power, rpc.BuildInfo{
		Version:  version,
		Manifest: string(buildJSON),
	}, time.Now().Unix())

	router := rpc.NewRouter()
	api.Register(router)
	srv := rpc.NewServer(router)

	sockPath := build.SocketPath()
	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sockPath, err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	bootstrap := milestoneFlag
	if bootstrap == "" {
		bootstrap = os.Getenv("AIRUP_MILESTONE")
	}
	if bootstrap == "" {
		bootstrap = "default"
	}
	go func() {
		if err := runner.Enter(bootstrap); err != nil {
			logger.Errorf("bootstrap milestone %q failed: %v", bootstrap, err)
		}
	}()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Noticef("exiting on %s signal", sig)
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("rpc server stopped: %v", err)
		}
	}

	srv.Close()
	stopAll(mgr)
	return nil
}

// stopAll stops every registered service on shutdown, best-effort.
func stopAll(mgr *supervisor.Manager) {
	for _, name := range mgr.List() {
		sv, ok := mgr.Get(name)
		if !ok {
			continue
		}
		h, err := sv.Stop()
		if err != nil {
			continue
		}
		h.Wait()
	}
}
