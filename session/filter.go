// Copyright © 2024 The ELPS authors

package session

import (
	"regexp"
	"strings"
)

// Filter restricts a run to a subset of the tests in its files.  The zero
// Filter selects every test.  A test is selected when any criterion
// matches it.
type Filter struct {
	// Names are exact full test names.
	Names []string
	// Groups are full group names; every test below a listed group is
	// selected.
	Groups []string
	// Pattern is matched against full test names.
	Pattern *regexp.Regexp
}

// IsZero reports whether f selects everything.
func (f Filter) IsZero() bool {
	return len(f.Names) == 0 && len(f.Groups) == 0 && f.Pattern == nil
}

// Covers reports whether the test with the given full name is selected by
// f.  sep joins group and test names.
func (f Filter) Covers(fullName, sep string) bool {
	if f.IsZero() {
		return true
	}
	for _, name := range f.Names {
		if name == fullName {
			return true
		}
	}
	for _, g := range f.Groups {
		if fullName == g || strings.HasPrefix(fullName, g+sep) {
			return true
		}
	}
	return f.Pattern != nil && f.Pattern.MatchString(fullName)
}

// Request describes a run.
type Request struct {
	// Files are the suite files the run executes.
	Files []string
	// Filter selects the tests of every file without an entry in
	// FileFilters.
	Filter Filter
	// FileFilters select the tests of single files.
	FileFilters map[string]Filter
	// Fresh starts from a clean claim state.  Results are kept until the
	// run overwrites them.
	Fresh bool
	// MergeGroups reuses existing group nodes even when the session has
	// already claimed them.
	MergeGroups bool
}

// FilterFor returns the filter selecting the tests of file.
func (r Request) FilterFor(file string) Filter {
	if f, ok := r.FileFilters[file]; ok {
		return f
	}
	return r.Filter
}

// Filtered reports whether the run selects a subset of any file.
func (r Request) Filtered() bool {
	if !r.Filter.IsZero() {
		return true
	}
	for _, f := range r.FileFilters {
		if !f.IsZero() {
			return true
		}
	}
	return false
}
