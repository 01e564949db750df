package milestone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/reaper"
	"github.com/airup-sh/airupd/internal/supervisor"
)

// testLayout writes a milestone directory and a sibling services directory
// under t.TempDir(), and returns loaders a Runner can use.
type testLayout struct {
	milestonesDir string
	servicesDir   string
}

func newLayout(t *testing.T) *testLayout {
	t.Helper()
	root := t.TempDir()
	l := &testLayout{
		milestonesDir: filepath.Join(root, "milestones"),
		servicesDir:   filepath.Join(root, "services"),
	}
	if err := os.MkdirAll(l.milestonesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(l.servicesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return l
}

func (l *testLayout) writeMilestone(t *testing.T, name, metaTOML, listContents string) {
	t.Helper()
	dir := filepath.Join(l.milestonesDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.MilestoneManifestFileName), []byte(metaTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	if listContents != "" {
		if err := os.WriteFile(filepath.Join(dir, "main"+manifest.MilestoneListSuffix), []byte(listContents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func (l *testLayout) writeService(t *testing.T, name, start string) {
	t.Helper()
	body := "[service]\nkind = \"oneshot\"\n\n[exec]\nstart = \"" + start + "\"\n"
	path := filepath.Join(l.servicesDir, name+manifest.Suffix)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (l *testLayout) milestoneLoader() MilestoneLoader {
	return func(name string) (*manifest.Milestone, error) {
		return manifest.LoadMilestone(filepath.Join(l.milestonesDir, name))
	}
}

func (l *testLayout) serviceLoader() ServiceLoader {
	return func(name string) (*manifest.Service, error) {
		return manifest.LoadService(filepath.Join(l.servicesDir, name+manifest.Suffix))
	}
}

func newTestRunner(t *testing.T, l *testLayout) *Runner {
	t.Helper()
	r := reaper.New()
	if err := r.Start(); err != nil {
		t.Fatalf("reaper.Start: %v", err)
	}
	t.Cleanup(r.Stop)
	m := supervisor.NewManager(r)
	return &Runner{
		Manager:       m,
		LoadMilestone: l.milestoneLoader(),
		LoadService:   l.serviceLoader(),
	}
}

func waitForActive(t *testing.T, m *supervisor.Manager, name string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		sv, ok := m.Get(name)
		if ok && sv.Query().Status == supervisor.StatusActive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q to become active", name)
}

func TestEnterCachesWithoutStarting(t *testing.T) {
	l := newLayout(t)
	l.writeService(t, "svc-a", "/bin/true")
	l.writeMilestone(t, "boot", "[milestone]\nkind = \"async\"\n", "cache svc-a\n")

	run := newTestRunner(t, l)
	if err := run.Enter("boot"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	sv, ok := run.Manager.Get("svc-a")
	if !ok {
		t.Fatal("want svc-a registered by the cache verb")
	}
	if sv.Query().Status != supervisor.StatusStopped {
		t.Error("want cache to register without starting")
	}
}

func TestEnterRunWaitsForCompletion(t *testing.T) {
	l := newLayout(t)
	l.writeService(t, "svc-a", "/bin/true")
	l.writeMilestone(t, "boot", "[milestone]\nkind = \"async\"\n", "run svc-a\n")

	run := newTestRunner(t, l)
	if err := run.Enter("boot"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	sv, ok := run.Manager.Get("svc-a")
	if !ok || sv.Query().Status != supervisor.StatusActive {
		t.Error("want svc-a Active once Enter returns, since run awaits completion")
	}
}

func TestEnterStartAsyncDoesNotBlock(t *testing.T) {
	l := newLayout(t)
	l.writeService(t, "svc-a", "/bin/true")
	l.writeMilestone(t, "boot", "[milestone]\nkind = \"async\"\n", "start svc-a\n")

	run := newTestRunner(t, l)
	if err := run.Enter("boot"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	waitForActive(t, run.Manager, "svc-a", time.Second)
}

func TestEnterStartSyncWaitsForAllServices(t *testing.T) {
	l := newLayout(t)
	l.writeService(t, "svc-a", "/bin/true")
	l.writeService(t, "svc-b", "/bin/true")
	l.writeMilestone(t, "boot", "[milestone]\nkind = \"sync\"\n", "start svc-a\nstart svc-b\n")

	run := newTestRunner(t, l)
	if err := run.Enter("boot"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	for _, name := range []string{"svc-a", "svc-b"} {
		sv, ok := run.Manager.Get(name)
		if !ok || sv.Query().Status != supervisor.StatusActive {
			t.Errorf("want %s Active once a Sync milestone's Enter returns", name)
		}
	}
}

func TestEnterSkipsDependencyCycle(t *testing.T) {
	l := newLayout(t)
	l.writeMilestone(t, "a", "[milestone]\nkind = \"async\"\ndependencies = [\"b\"]\n", "")
	l.writeMilestone(t, "b", "[milestone]\nkind = \"async\"\ndependencies = [\"a\"]\n", "")

	run := newTestRunner(t, l)
	if err := run.Enter("a"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
}

type stubPowerManager struct {
	calls []string
}

func (p *stubPowerManager) Poweroff() error { p.calls = append(p.calls, "poweroff"); return nil }
func (p *stubPowerManager) Reboot() error   { p.calls = append(p.calls, "reboot"); return nil }
func (p *stubPowerManager) Halt() error     { p.calls = append(p.calls, "halt"); return nil }

func TestEnterRebootStopsServicesThenInvokesPowerManager(t *testing.T) {
	l := newLayout(t)
	l.writeService(t, "svc-a", "/bin/sleep 30")
	l.writeMilestone(t, "reboot", "[milestone]\nkind = \"serial\"\n", "start svc-a\n")

	run := newTestRunner(t, l)
	pm := &stubPowerManager{}
	run.PowerManager = pm
	run.RebootTimeout = 2 * time.Second

	if err := run.Enter("reboot"); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	sv, ok := run.Manager.Get("svc-a")
	if !ok || sv.Query().Status != supervisor.StatusStopped {
		t.Error("want svc-a stopped by the reboot-class milestone's stop-all step")
	}
	if len(pm.calls) != 1 || pm.calls[0] != "reboot" {
		t.Errorf("got power manager calls %v, want [reboot]", pm.calls)
	}
}

func TestParseItemRejectsUnknownVerb(t *testing.T) {
	if _, err := manifest.ParseItem("destroy svc-a"); err == nil {
		t.Fatal("want an error for an unknown verb")
	}
	if _, err := manifest.ParseItem("not-enough-parts"); err == nil {
		t.Fatal("want an error for a line without a service name")
	}
}

func TestMilestoneDisplayNameFallsBackToName(t *testing.T) {
	l := newLayout(t)
	l.writeMilestone(t, "boot", "[milestone]\n", "")
	ms, err := manifest.LoadMilestone(filepath.Join(l.milestonesDir, "boot"))
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	if got := ms.DisplayName(); got != "boot" {
		t.Errorf("got %q, want %q", got, "boot")
	}
}

func TestItemsSkipsCommentsAndBlankLines(t *testing.T) {
	l := newLayout(t)
	l.writeMilestone(t, "boot", "[milestone]\n", "# a comment\n\nstart svc-a\n")
	ms, err := manifest.LoadMilestone(filepath.Join(l.milestonesDir, "boot"))
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	items, errs := ms.Items()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(items) != 1 || items[0].Entity != "svc-a" {
		t.Errorf("got %v, want one item for svc-a", items)
	}
}
