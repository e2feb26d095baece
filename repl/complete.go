// Copyright © 2018 The ELPS authors

package repl

import (
	"sort"
	"strings"

	"github.com/luthersystems/testview/results"
)

// commandCompleter implements readline.AutoCompleter.  The first word
// completes to a command name; the argument after a command taking a file
// completes to the files of the result tree.
type commandCompleter struct {
	tree *results.Tree
}

var fileCommands = map[string]bool{
	"failures":    true,
	"outline":     true,
	"rerun-test":  true,
	"rerun-group": true,
}

func (c *commandCompleter) Do(line []rune, pos int) ([][]rune, int) {
	start := pos
	for start > 0 && line[start-1] != ' ' && line[start-1] != '\t' {
		start--
	}
	prefix := string(line[start:pos])
	before := strings.Fields(string(line[:start]))

	var candidates []string
	switch {
	case len(before) == 0:
		candidates = matching(Commands(), prefix)
	case len(before) == 1 && fileCommands[before[0]]:
		var files []string
		for _, s := range c.tree.Suites() {
			files = append(files, s.Name)
		}
		candidates = matching(files, prefix)
	}
	if len(candidates) == 0 {
		return nil, 0
	}

	// Each entry is the suffix to append.
	result := make([][]rune, 0, len(candidates))
	for _, name := range candidates {
		result = append(result, []rune(name[len(prefix):]))
	}
	return result, len(prefix)
}

func matching(names []string, prefix string) []string {
	var result []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}
