// Copyright © 2024 The ELPS authors

package outline

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	parsec "github.com/prataprc/goparsec"
)

/*
S-expression outlines are the compact form used for fixtures and for
outline producers that run out of process:

	outline := decl*
	decl    := '(' kind <string> <line>? decl* ')'
	kind    := 'group' | 'test'
	line    := /[0-9]+/

Comments start with ';' and run to the end of the line.  Only groups may
contain nested declarations.
*/

type symbol string

type sexprList struct {
	items []parsec.ParsecNode
	pos   int
}

// ParseSExpr parses an s-expression outline and qualifies it with the
// default separator.
func ParseSExpr(text []byte) (Forest, error) {
	s := parsec.NewScanner(text)
	s = s.TrackLineno()
	p := newOutlineParser()
	var f Forest
	root, s := p(s)
	for root != nil {
		switch node := root.(type) {
		case *parsec.Terminal:
			// comment
		case *sexprList:
			d, err := listDecl(node)
			if err != nil {
				return nil, err
			}
			f = append(f, d)
		default:
			return nil, errors.Newf("unexpected top level value %v", node)
		}
		root, s = p(s)
	}
	_, s = s.SkipWS()
	if !s.Endof() {
		b, _ := s.Match(`.{1,16}`)
		return nil, errors.Newf("%d: unexpected outline text starting: %s", s.Lineno(), b)
	}
	return Qualify(f, DefaultSeparator), nil
}

func newOutlineParser() parsec.Parser {
	openP := parsec.Atom("(", "OPENP")
	closeP := parsec.Atom(")", "CLOSEP")
	comment := parsec.Token(`;([^\n]*[^\s])?`, "COMMENT")
	integer := parsec.Token(`[0-9]+`, "INT")
	sym := parsec.Token(`[A-Za-z][A-Za-z0-9_\-]*`, "SYMBOL")
	term := parsec.OrdChoice(termNode, parsec.String(), integer, sym)
	var expr parsec.Parser // forward declaration allows for recursive parsing
	exprList := parsec.Kleene(nil, &expr)
	list := parsec.And(listNode, openP, exprList, closeP)
	expr = parsec.OrdChoice(nil, comment, term, list)
	return expr
}

func termNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	if len(nodes) == 0 {
		return nil
	}
	switch term := nodes[0].(type) {
	case string:
		// goparsec hands back the unescaped string wrapped in quotes.
		return term[1 : len(term)-1]
	case *parsec.Terminal:
		switch term.Name {
		case "INT":
			n, err := strconv.Atoi(term.Value)
			if err != nil {
				return fmt.Errorf("bad line number %q: %v", term.Value, err)
			}
			return n
		case "SYMBOL":
			return symbol(term.Value)
		}
	}
	return nodes[0]
}

func listNode(nodes []parsec.ParsecNode) parsec.ParsecNode {
	l := &sexprList{}
	if open, ok := nodes[0].(*parsec.Terminal); ok {
		l.pos = open.Position
	}
	l.items = flatten(nodes)
	return l
}

func flatten(nodes []parsec.ParsecNode) []parsec.ParsecNode {
	var items []parsec.ParsecNode
	for _, n := range nodes {
		switch node := n.(type) {
		case *parsec.Terminal:
			switch node.Name {
			case "COMMENT", "OPENP", "CLOSEP":
				continue
			}
			items = append(items, node)
		case []parsec.ParsecNode:
			items = append(items, flatten(node)...)
		case nil:
		default:
			items = append(items, node)
		}
	}
	return items
}

func listDecl(l *sexprList) (*Decl, error) {
	if len(l.items) < 2 {
		return nil, errors.Newf("offset %d: declaration needs a kind and a name", l.pos)
	}
	kind, ok := l.items[0].(symbol)
	if !ok || (kind != "group" && kind != "test") {
		return nil, errors.Newf("offset %d: declaration kind must be group or test, got %v", l.pos, l.items[0])
	}
	name, ok := l.items[1].(string)
	if !ok {
		return nil, errors.Newf("offset %d: %s name must be a string, got %v", l.pos, kind, l.items[1])
	}
	d := &Decl{Name: name, IsGroup: kind == "group"}
	rest := l.items[2:]
	if len(rest) > 0 {
		switch v := rest[0].(type) {
		case int:
			d.Line = v
			rest = rest[1:]
		case error:
			return nil, errors.Wrapf(v, "offset %d", l.pos)
		}
	}
	for _, item := range rest {
		child, ok := item.(*sexprList)
		if !ok {
			return nil, errors.Newf("offset %d: unexpected value %v in %s %q", l.pos, item, kind, name)
		}
		if !d.IsGroup {
			return nil, errors.Newf("offset %d: test %q cannot contain declarations", l.pos, name)
		}
		c, err := listDecl(child)
		if err != nil {
			return nil, err
		}
		d.Children = append(d.Children, c)
	}
	return d, nil
}
