/*
Copyright © 2026 Porter Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package match extracts dependency specifiers from source text without
// executing or fully evaluating it (spec.md §4.1). The script matcher
// parses with tree-sitter so occurrences inside string/template/comment
// regions structurally cannot be captured; a second, plain-Go pass over
// the same tree statically evaluates "LIT" == "LIT" branch conditions.
package match

import (
	"embed"
	"fmt"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

// MatchError is returned only for I/O failures; malformed syntax always
// produces a best-effort result instead (spec.md §4.1).
type MatchError struct {
	Op  string
	Err error
}

func (e *MatchError) Error() string { return fmt.Sprintf("match: %s: %v", e.Op, e.Err) }
func (e *MatchError) Unwrap() error { return e.Err }

// Specifier is one dependency specifier found in source order.
type Specifier struct {
	Value     string
	IsDynamic bool
	Line      int // 1-indexed
}

var typescriptLanguage = ts.NewLanguage(tsTypescript.LanguageTypescript())

var parserPool = sync.Pool{
	New: func() any {
		p := ts.NewParser()
		if err := p.SetLanguage(typescriptLanguage); err != nil {
			panic("match: failed to set typescript language: " + err.Error())
		}
		return p
	},
}

func getParser() *ts.Parser {
	return parserPool.Get().(*ts.Parser)
}

func putParser(p *ts.Parser) {
	p.Reset()
	parserPool.Put(p)
}

var (
	importsQuery     *ts.Query
	importsQueryOnce sync.Once
	importsQueryErr  error
)

func getImportsQuery() (*ts.Query, error) {
	importsQueryOnce.Do(func() {
		data, err := queryFiles.ReadFile("queries/typescript/imports.scm")
		if err != nil {
			importsQueryErr = &MatchError{Op: "read query", Err: err}
			return
		}
		q, qerr := ts.NewQuery(typescriptLanguage, string(data))
		if qerr != nil {
			importsQueryErr = &MatchError{Op: "parse query", Err: qerr}
			return
		}
		importsQuery = q
	})
	return importsQuery, importsQueryErr
}

// deadRange is a byte range statically known to never execute.
type deadRange struct{ start, end uint }

// FindAll extracts dependency specifiers from JavaScript/TypeScript
// source. It never hangs on adversarial input: tree-sitter parsing is
// linear in source length and always produces a (possibly partial) tree.
func FindAll(source []byte) ([]Specifier, error) {
	query, err := getImportsQuery()
	if err != nil {
		return nil, err
	}

	parser := getParser()
	defer putParser(parser)

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, nil
	}
	defer tree.Close()

	root := tree.RootNode()
	dead := collectDeadRanges(root, source)

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var specs []Specifier
	matches := cursor.Matches(query, root, source)
	names := query.CaptureNames()

	for {
		m := matches.Next()
		if m == nil {
			break
		}
		for _, cap := range m.Captures {
			name := names[cap.Index]
			if name != "import.spec" && name != "reexport.spec" &&
				name != "require.spec" && name != "dynamicImport.spec" {
				continue
			}
			start := cap.Node.StartByte()
			if inDeadRange(dead, start) {
				continue
			}
			specs = append(specs, Specifier{
				Value:     cap.Node.Utf8Text(source),
				IsDynamic: name == "dynamicImport.spec",
				Line:      int(cap.Node.StartPosition().Row) + 1,
			})
		}
	}
	return specs, nil
}

func inDeadRange(ranges []deadRange, pos uint) bool {
	for _, r := range ranges {
		if pos >= r.start && pos < r.end {
			return true
		}
	}
	return false
}

// collectDeadRanges walks the tree for if-statements (and ternaries)
// whose condition is a binary "==" / "!=" comparison of two string
// literals, and returns the byte range of whichever branch is
// statically unreachable (spec.md §4.1). An unrecognized condition
// keeps both branches, per spec.
func collectDeadRanges(root *ts.Node, source []byte) []deadRange {
	var dead []deadRange
	var walk func(n *ts.Node)
	walk = func(n *ts.Node) {
		if n == nil {
			return
		}
		switch n.Kind() {
		case "if_statement":
			cond := n.ChildByFieldName("condition")
			conseq := n.ChildByFieldName("consequence")
			alt := n.ChildByFieldName("alternative")
			if cond != nil {
				if result, ok := evalStaticBool(cond, source); ok {
					if !result && conseq != nil {
						dead = append(dead, deadRange{conseq.StartByte(), conseq.EndByte()})
					} else if result && alt != nil {
						dead = append(dead, deadRange{alt.StartByte(), alt.EndByte()})
					}
				}
			}
		case "ternary_expression":
			cond := n.ChildByFieldName("condition")
			conseq := n.ChildByFieldName("consequence")
			alt := n.ChildByFieldName("alternative")
			if cond != nil {
				if result, ok := evalStaticBool(cond, source); ok {
					if !result && conseq != nil {
						dead = append(dead, deadRange{conseq.StartByte(), conseq.EndByte()})
					} else if result && alt != nil {
						dead = append(dead, deadRange{alt.StartByte(), alt.EndByte()})
					}
				}
			}
		}
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			child := n.Child(uint(i))
			walk(child)
		}
	}
	walk(root)
	return dead
}

// evalStaticBool evaluates a condition node of the shape
// "LIT" == "LIT" / "LIT" != "LIT" where both operands are string
// literals, possibly wrapped in parentheses (an if statement's condition
// always is). ok is false for any other shape, leaving both branches live.
func evalStaticBool(cond *ts.Node, source []byte) (result bool, ok bool) {
	for cond.Kind() == "parenthesized_expression" {
		cond = cond.NamedChild(0)
		if cond == nil {
			return false, false
		}
	}
	if cond.Kind() != "binary_expression" {
		return false, false
	}
	op := cond.ChildByFieldName("operator")
	left := cond.ChildByFieldName("left")
	right := cond.ChildByFieldName("right")
	if op == nil || left == nil || right == nil {
		return false, false
	}
	opText := op.Utf8Text(source)
	if opText != "==" && opText != "===" && opText != "!=" && opText != "!==" {
		return false, false
	}
	lv, lok := stringLiteralValue(left, source)
	rv, rok := stringLiteralValue(right, source)
	if !lok || !rok {
		return false, false
	}
	eq := lv == rv
	if opText == "!=" || opText == "!==" {
		return !eq, true
	}
	return eq, true
}

func stringLiteralValue(n *ts.Node, source []byte) (string, bool) {
	if n.Kind() != "string" {
		return "", false
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(uint(i))
		if child != nil && child.Kind() == "string_fragment" {
			return child.Utf8Text(source), true
		}
	}
	return "", true // empty string literal
}
