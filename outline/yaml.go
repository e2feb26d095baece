// Copyright © 2024 The ELPS authors

package outline

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// yamlDecl is one entry of a YAML outline.  Exactly one of Group and Test
// is set.
//
//   - group: parsing
//     line: 3
//     children:
//   - test: empty input
//     line: 4
type yamlDecl struct {
	Group    string     `yaml:"group"`
	Test     string     `yaml:"test"`
	Line     int        `yaml:"line"`
	Children []yamlDecl `yaml:"children"`
}

// ParseYAML parses a YAML outline and qualifies it with the default
// separator.
func ParseYAML(b []byte) (Forest, error) {
	var decls []yamlDecl
	if err := yaml.Unmarshal(b, &decls); err != nil {
		return nil, err
	}
	f, err := fromYAML(decls)
	if err != nil {
		return nil, err
	}
	return Qualify(f, DefaultSeparator), nil
}

func fromYAML(decls []yamlDecl) (Forest, error) {
	f := make(Forest, 0, len(decls))
	for _, y := range decls {
		if (y.Group == "") == (y.Test == "") {
			return nil, errors.Newf("line %d: outline entry needs exactly one of group or test", y.Line)
		}
		d := &Decl{Name: y.Test, Line: y.Line}
		if y.Group != "" {
			d.Name = y.Group
			d.IsGroup = true
			children, err := fromYAML(y.Children)
			if err != nil {
				return nil, err
			}
			d.Children = children
		} else if len(y.Children) > 0 {
			return nil, errors.Newf("line %d: test %q cannot contain declarations", y.Line, y.Test)
		}
		f = append(f, d)
	}
	return f, nil
}
