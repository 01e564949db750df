package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/airup-sh/airupd/internal/dirchain"
)

// MilestoneKind selects a milestone's start policy (spec §4.9).
type MilestoneKind string

const (
	MilestoneAsync  MilestoneKind = "async"
	MilestoneSync   MilestoneKind = "sync"
	MilestoneSerial MilestoneKind = "serial"
)

// MilestoneMetadata is the `[milestone]` section of milestone.airf.
type MilestoneMetadata struct {
	DisplayName  *string       `toml:"display-name"`
	Description  *string       `toml:"description"`
	Dependencies []string      `toml:"dependencies"`
	Tags         []string      `toml:"tags"`
	Kind         MilestoneKind `toml:"kind"`
}

// MilestoneManifestFileName is the metadata file name inside a milestone
// directory.
const MilestoneManifestFileName = "milestone.airf"

// MilestoneListSuffix is the suffix of a milestone's item-list files.
const MilestoneListSuffix = ".list.airf"

// MilestoneManifest decodes milestone.airf.
type MilestoneManifest struct {
	Milestone MilestoneMetadata `toml:"milestone"`
}

// Milestone is a fully-resolved milestone directory.
type Milestone struct {
	Name     string
	Manifest MilestoneManifest
	Chain    dirchain.Chain
}

// DisplayName returns the configured display name, falling back to Name.
func (m *Milestone) DisplayName() string {
	if m.Manifest.Milestone.DisplayName != nil {
		return *m.Manifest.Milestone.DisplayName
	}
	return m.Name
}

// LoadMilestone reads a milestone directory at path. The stem of path is
// used as the milestone name, with the Rust source's "default" special
// case (an alias resolved to its target's basename) preserved.
func LoadMilestone(path string) (*Milestone, error) {
	manifestPath := filepath.Join(path, MilestoneManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var m MilestoneManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode milestone: %w", err)
	}

	name := filepath.Base(path)
	if name == "default" {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			name = filepath.Base(resolved)
		}
	}

	return &Milestone{Name: name, Manifest: m, Chain: dirchain.New(path)}, nil
}

// ItemVerb is the verb prefixing each line of a milestone list file.
type ItemVerb string

const (
	ItemCache ItemVerb = "cache"
	ItemStart ItemVerb = "start"
	ItemRun   ItemVerb = "run"
)

// Item is one parsed line of a `*.list.airf` file.
type Item struct {
	Verb   ItemVerb
	Entity string
}

// ParseItem parses one `{cache|start|run} <service>` line.
func ParseItem(s string) (Item, error) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return Item{}, fmt.Errorf("manifest: malformed milestone item %q", s)
	}
	verb := ItemVerb(parts[0])
	switch verb {
	case ItemCache, ItemStart, ItemRun:
		return Item{Verb: verb, Entity: parts[1]}, nil
	default:
		return Item{}, fmt.Errorf("manifest: unknown verb %q in milestone item", parts[0])
	}
}

// Items reads and concatenates every `*.list.airf` file visible across the
// milestone's directory chain, skipping malformed lines with a returned
// list of errors rather than aborting.
func (m *Milestone) Items() ([]Item, []error) {
	names, err := m.Chain.ReadChain()
	if err != nil {
		return nil, []error{err}
	}

	var items []Item
	var errs []error
	for _, name := range names {
		if !strings.HasSuffix(name, MilestoneListSuffix) {
			continue
		}
		path, ok := m.Chain.Find(name)
		if !ok {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			item, err := ParseItem(line)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			items = append(items, item)
		}
		f.Close()
	}
	return items, errs
}
