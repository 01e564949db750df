package supervisor

import (
	"testing"

	"github.com/airup-sh/airupd/internal/reaper"
)

func TestSuperviseInsertsOnce(t *testing.T) {
	m := NewManager(reaper.New())
	svc := oneshotService("svc-a", "/bin/true")

	sv1 := m.Supervise(svc)
	sv2 := m.Supervise(svc)
	if sv1 != sv2 {
		t.Fatal("want the same Supervisor returned for a repeated name")
	}
	if got := m.List(); len(got) != 1 || got[0] != "svc-a" {
		t.Errorf("got %v, want [svc-a]", got)
	}
}

func TestGetRoutesProvidedSuffix(t *testing.T) {
	m := NewManager(reaper.New())
	svc := oneshotService("svc-a", "/bin/true")
	svc.ServiceMeta.Provides = []string{"cap-x"}
	sv := m.Supervise(svc)

	got, ok := m.Get("cap-x.provided")
	if !ok || got != sv {
		t.Fatalf("got (%v, %v), want the supervisor providing cap-x", got, ok)
	}
	if _, ok := m.Get("no-such-cap.provided"); ok {
		t.Error("want not found for an unregistered capability")
	}
}

func TestProvidesCollisionIsFirstWriterWins(t *testing.T) {
	m := NewManager(reaper.New())
	first := oneshotService("svc-a", "/bin/true")
	first.ServiceMeta.Provides = []string{"cap-x"}
	second := oneshotService("svc-b", "/bin/true")
	second.ServiceMeta.Provides = []string{"cap-x"}

	svA := m.Supervise(first)
	m.Supervise(second)

	got, ok := m.Get("cap-x.provided")
	if !ok || got != svA {
		t.Errorf("want svc-a to keep the cap-x alias (first writer wins)")
	}
}

func TestRemoveFailsWhileActive(t *testing.T) {
	m, _ := newTestManager(t)
	sv := m.Supervise(simpleService("svc-a", "/bin/sleep 30"))
	h, err := sv.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Wait()

	if err := m.Remove("svc-a", false); err == nil {
		t.Fatal("want Remove to fail while the service is Active")
	}

	stopH, err := sv.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopH.Wait()

	if err := m.Remove("svc-a", false); err != nil {
		t.Fatalf("Remove after Stop: %v", err)
	}
	if _, ok := m.Get("svc-a"); ok {
		t.Error("want svc-a gone after Remove")
	}
}

func TestRemoveFailsWhileProvidingAlias(t *testing.T) {
	m := NewManager(reaper.New())
	svc := oneshotService("svc-a", "/bin/true")
	svc.ServiceMeta.Provides = []string{"cap-x"}
	m.Supervise(svc)

	if err := m.Remove("svc-a", false); err == nil {
		t.Fatal("want Remove to fail while the alias is still live (non-permissive)")
	}
}

func TestGCRemovesIdleServicesOnly(t *testing.T) {
	m := NewManager(reaper.New())
	m.Supervise(oneshotService("idle-svc", "/bin/true"))
	active := m.Supervise(simpleService("active-svc", "/bin/sleep 30"))

	h, err := active.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Wait()

	m.GC()

	if _, ok := m.Get("idle-svc"); ok {
		t.Error("want idle-svc removed by GC")
	}
	if _, ok := m.Get("active-svc"); !ok {
		t.Error("want active-svc kept by GC")
	}
}

func TestManagerMakeActiveSatisfiesDaemon(t *testing.T) {
	m, _ := newTestManager(t)
	m.Supervise(oneshotService("dep", "/bin/true"))

	h, err := m.MakeActive("dep")
	if err != nil {
		t.Fatalf("MakeActive: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("dep task failed: %v", err)
	}
	active, found := m.IsActive("dep")
	if !found || !active {
		t.Errorf("got (%v, %v), want (true, true)", active, found)
	}
}

func TestManagerIsActiveUnknownService(t *testing.T) {
	m := NewManager(reaper.New())
	if _, found := m.IsActive("nope"); found {
		t.Error("want found=false for an unregistered service")
	}
}
