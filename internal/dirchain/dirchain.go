// Package dirchain implements "directory chains": a search path made of a
// base directory plus zero or more directories linked by a chain_next
// entry, used to let vendor-supplied and locally-overridden service and
// milestone files coexist (spec's manifest resolution, supplemented from
// the original project's directory-chain filesystem layout).
package dirchain

import (
	"os"
	"path/filepath"
	"sort"
)

// Chain is a directory chain rooted at Base.
type Chain struct {
	Base string
}

// New returns a Chain rooted at base.
func New(base string) Chain {
	return Chain{Base: base}
}

// Find looks up name across the chain, returning the first directory in
// chain order that contains it.
func (c Chain) Find(name string) (string, bool) {
	dir := c.Base
	for {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
		next := filepath.Join(dir, "chain_next")
		if _, err := os.Stat(next); err != nil {
			return "", false
		}
		dir = next
	}
}

// End returns the last directory in the chain.
func (c Chain) End() string {
	dir := c.Base
	for {
		next := filepath.Join(dir, "chain_next")
		if _, err := os.Stat(next); err != nil {
			return dir
		}
		dir = next
	}
}

// ReadChain lists the entries visible across the whole chain, deduplicated
// by name with earlier links in the chain taking priority. Names are sorted
// within each link, and links appear in chain order.
func (c Chain) ReadChain() ([]string, error) {
	seen := map[string]bool{}
	var names []string
	dir := c.Base

	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		hasNext := false
		var batch []string
		for _, e := range entries {
			if e.Name() == "chain_next" {
				hasNext = true
				continue
			}
			if seen[e.Name()] {
				continue
			}
			seen[e.Name()] = true
			batch = append(batch, e.Name())
		}
		sort.Strings(batch)
		names = append(names, batch...)

		if !hasNext {
			break
		}
		dir = filepath.Join(dir, "chain_next")
	}

	return names, nil
}

// FindOrCreate finds name across the chain, or creates it empty at the end
// of the chain if absent.
func (c Chain) FindOrCreate(name string) (string, error) {
	if p, ok := c.Find(name); ok {
		return p, nil
	}
	p := filepath.Join(c.End(), name)
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	f.Close()
	return p, nil
}
