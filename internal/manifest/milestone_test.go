package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMilestoneDir(t *testing.T, dir, tomlBody string, lists map[string]string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if tomlBody != "" {
		if err := os.WriteFile(filepath.Join(dir, MilestoneManifestFileName), []byte(tomlBody), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for name, body := range lists {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadMilestoneDecodesMetadata(t *testing.T) {
	dir := writeMilestoneDir(t, filepath.Join(t.TempDir(), "multi-user"), `
[milestone]
display-name = "Multi User"
kind = "serial"
dependencies = ["network"]
`, nil)

	m, err := LoadMilestone(dir)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	if m.Name != "multi-user" {
		t.Errorf("got name %q", m.Name)
	}
	if m.DisplayName() != "Multi User" {
		t.Errorf("got display name %q", m.DisplayName())
	}
	if m.Manifest.Milestone.Kind != MilestoneSerial {
		t.Errorf("got kind %q", m.Manifest.Milestone.Kind)
	}
	if len(m.Manifest.Milestone.Dependencies) != 1 || m.Manifest.Milestone.Dependencies[0] != "network" {
		t.Errorf("got dependencies %v", m.Manifest.Milestone.Dependencies)
	}
}

func TestDisplayNameFallsBackToName(t *testing.T) {
	dir := writeMilestoneDir(t, filepath.Join(t.TempDir(), "rescue"), "[milestone]\n", nil)

	m, err := LoadMilestone(dir)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	if m.DisplayName() != "rescue" {
		t.Errorf("got %q", m.DisplayName())
	}
}

func TestLoadMilestoneDefaultResolvesSymlinkTarget(t *testing.T) {
	base := t.TempDir()
	target := writeMilestoneDir(t, filepath.Join(base, "multi-user"), "[milestone]\n", nil)
	link := filepath.Join(base, "default")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMilestone(link)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	if m.Name != "multi-user" {
		t.Errorf("got name %q, want symlink target's basename", m.Name)
	}
}

func TestLoadMilestoneMissingManifestFails(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadMilestone(dir); err == nil {
		t.Fatal("got nil error, want failure for missing milestone.airf")
	}
}

func TestParseItemAcceptsKnownVerbs(t *testing.T) {
	cases := []struct {
		line string
		verb ItemVerb
		ent  string
	}{
		{"cache sshd", ItemCache, "sshd"},
		{"start network", ItemStart, "network"},
		{"run backup-job", ItemRun, "backup-job"},
	}
	for _, c := range cases {
		item, err := ParseItem(c.line)
		if err != nil {
			t.Fatalf("ParseItem(%q): %v", c.line, err)
		}
		if item.Verb != c.verb || item.Entity != c.ent {
			t.Errorf("ParseItem(%q) = %+v", c.line, item)
		}
	}
}

func TestParseItemRejectsUnknownVerb(t *testing.T) {
	if _, err := ParseItem("frobnicate sshd"); err == nil {
		t.Fatal("got nil error, want unknown-verb failure")
	}
}

func TestParseItemRejectsMalformedLine(t *testing.T) {
	if _, err := ParseItem("sshd"); err == nil {
		t.Fatal("got nil error, want malformed-line failure")
	}
}

func TestItemsConcatenatesListsAndSkipsCommentsAndBlankLines(t *testing.T) {
	dir := writeMilestoneDir(t, filepath.Join(t.TempDir(), "default"), "[milestone]\n", map[string]string{
		"a.list.airf": "start network\n# a comment\n\nstart sshd\n",
		"b.list.airf": "cache syslog\n",
		"ignore.txt":  "start not-a-list-file\n",
	})

	m, err := LoadMilestone(dir)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	items, errs := m.Items()
	if len(errs) != 0 {
		t.Fatalf("got errs %v", errs)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(items), items)
	}

	byEntity := map[string]ItemVerb{}
	for _, it := range items {
		byEntity[it.Entity] = it.Verb
	}
	if byEntity["network"] != ItemStart || byEntity["sshd"] != ItemStart || byEntity["syslog"] != ItemCache {
		t.Errorf("got %+v", byEntity)
	}
}

func TestItemsCollectsErrorsForMalformedLinesWithoutAborting(t *testing.T) {
	dir := writeMilestoneDir(t, filepath.Join(t.TempDir(), "default"), "[milestone]\n", map[string]string{
		"a.list.airf": "start network\nbogus-line\nstart sshd\n",
	})

	m, err := LoadMilestone(dir)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	items, errs := m.Items()
	if len(errs) != 1 {
		t.Fatalf("got %d errs, want 1: %v", len(errs), errs)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want the two well-formed lines", len(items))
	}
}

func TestItemsWalksDirectoryChain(t *testing.T) {
	base := t.TempDir()
	root := writeMilestoneDir(t, filepath.Join(base, "default"), "[milestone]\n", map[string]string{
		"a.list.airf": "start network\n",
	})
	vendor := filepath.Join(root, "chain_next")
	writeMilestoneDir(t, vendor, "", map[string]string{
		"b.list.airf": "cache syslog\n",
	})

	m, err := LoadMilestone(root)
	if err != nil {
		t.Fatalf("LoadMilestone: %v", err)
	}
	items, errs := m.Items()
	if len(errs) != 0 {
		t.Fatalf("got errs %v", errs)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 across the chain: %+v", len(items), items)
	}
}
