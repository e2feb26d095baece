// Copyright © 2024 The ELPS authors

package outline

import (
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// declCall matches the label a language server gives to a test or group
// call in its document outline, e.g. `group("parsing")` or `test('empty')`.
var declCall = regexp.MustCompile(`^\s*(\w+)\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')`)

var groupCalls = map[string]bool{
	"group":    true,
	"describe": true,
}

var testCalls = map[string]bool{
	"test":        true,
	"testWidgets": true,
	"it":          true,
}

// FromDocumentSymbols converts the hierarchical document symbols returned
// by a language server into a Forest.  Symbols that are not a test or
// group call are dropped but their children are still searched, so a test
// declared inside main() ends up at the top level.  Namespace symbols are
// treated as groups named after the symbol.
func FromDocumentSymbols(symbols []protocol.DocumentSymbol, sep string) Forest {
	return Qualify(fromSymbols(symbols), sep)
}

func fromSymbols(symbols []protocol.DocumentSymbol) Forest {
	var f Forest
	for i := range symbols {
		sym := &symbols[i]
		name, isGroup, ok := symbolDecl(sym)
		if !ok {
			f = append(f, fromSymbols(sym.Children)...)
			continue
		}
		d := &Decl{
			Name:    name,
			Line:    int(sym.Range.Start.Line) + 1,
			IsGroup: isGroup,
		}
		if isGroup {
			d.Children = fromSymbols(sym.Children)
		}
		f = append(f, d)
	}
	return f
}

func symbolDecl(sym *protocol.DocumentSymbol) (name string, isGroup bool, ok bool) {
	m := declCall.FindStringSubmatch(sym.Name)
	if m != nil {
		name = m[2]
		if name == "" {
			name = m[3]
		}
		name = unescape(name)
		switch {
		case groupCalls[m[1]]:
			return name, true, true
		case testCalls[m[1]]:
			return name, false, true
		}
		return "", false, false
	}
	if sym.Kind == protocol.SymbolKindNamespace {
		return sym.Name, true, true
	}
	return "", false, false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseDocumentSymbols decodes a JSON array of LSP document symbols, as
// returned by a textDocument/documentSymbol request, into a Forest.
func ParseDocumentSymbols(b []byte) (Forest, error) {
	var symbols []protocol.DocumentSymbol
	err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(b, &symbols)
	if err != nil {
		return nil, err
	}
	return FromDocumentSymbols(symbols, DefaultSeparator), nil
}
