// Copyright © 2024 The ELPS authors

// Package outline describes the static declaration structure of a test
// file: an ordered forest of groups and tests with names and source lines.
// Several outline producers (LSP document symbols, s-expression and YAML
// outline files) are adapted into the single Forest shape so the result
// tree only ever depends on this package.
package outline

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// DefaultSeparator joins the names of nested groups and tests into a full
// name, matching the names reported by the test runner.
const DefaultSeparator = " "

// Decl is a single group or test declaration.
type Decl struct {
	// Name is the name written at the declaration site.
	Name string
	// FullName is the names of all enclosing groups and Name joined by the
	// forest separator.
	FullName string
	// Line is the 1-based source line of the declaration, 0 when unknown.
	Line     int
	IsGroup  bool
	Children []*Decl
}

// Forest is the ordered list of top level declarations of one file.
type Forest []*Decl

// Provider gives access to the outline of a file. A false second return
// value means the file has not been parsed yet.
type Provider interface {
	OutlineFor(fileID string) (Forest, bool)
}

// Clone returns a deep copy of f.
func (f Forest) Clone() Forest {
	return cloneDecls(f)
}

func cloneDecls(decls []*Decl) []*Decl {
	if decls == nil {
		return nil
	}
	out := make([]*Decl, len(decls))
	for i, d := range decls {
		cp := *d
		cp.Children = cloneDecls(d.Children)
		out[i] = &cp
	}
	return out
}

// Qualify fills in FullName for every declaration in f and returns f.
func Qualify(f Forest, sep string) Forest {
	qualify(f, "", sep)
	return f
}

func qualify(decls []*Decl, prefix, sep string) {
	for _, d := range decls {
		if prefix == "" {
			d.FullName = d.Name
		} else {
			d.FullName = prefix + sep + d.Name
		}
		qualify(d.Children, d.FullName, sep)
	}
}

// Lookup finds the declaration among decls with the given full name and
// kind whose line is closest to line.  Ties, and lookups without a line,
// resolve to the earliest declaration.  The index of the declaration in
// decls is returned alongside it, or -1 when nothing matches.
func Lookup(decls []*Decl, fullName string, isGroup bool, line int) (*Decl, int) {
	best, bestIdx, bestDist := (*Decl)(nil), -1, 0
	for i, d := range decls {
		if d.IsGroup != isGroup || d.FullName != fullName {
			continue
		}
		dist := 0
		if line > 0 && d.Line > 0 {
			dist = abs(d.Line - line)
		}
		if best == nil || dist < bestDist {
			best, bestIdx, bestDist = d, i, dist
		}
	}
	return best, bestIdx
}

// Count returns the number of declarations in f, groups included.
func (f Forest) Count() int {
	n := 0
	for _, d := range f {
		n += 1 + Forest(d.Children).Count()
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Registry is an in-memory Provider.  Outline producers store the result
// of parsing a file with Set; the result tree reads them back when the
// file is opened.
type Registry struct {
	mu       sync.RWMutex
	outlines map[string]Forest
}

var _ Provider = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{outlines: make(map[string]Forest)}
}

// Set records the outline of fileID, replacing any previous outline.
func (r *Registry) Set(fileID string, f Forest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outlines[fileID] = f
}

// Remove forgets the outline of fileID.
func (r *Registry) Remove(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outlines, fileID)
}

// OutlineFor implements Provider.
func (r *Registry) OutlineFor(fileID string) (Forest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.outlines[fileID]
	return f, ok
}

// Load reads an outline file.  The format is chosen by extension: .yaml
// and .yml files hold YAML outlines, .json files hold LSP document symbols
// and anything else is read as an s-expression outline.
func Load(path string) (Forest, error) {
	b, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "reading outline %s", path)
	}
	var f Forest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err = ParseYAML(b)
	case ".json":
		f, err = ParseDocumentSymbols(b)
	default:
		f, err = ParseSExpr(b)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing outline %s", path)
	}
	return f, nil
}
