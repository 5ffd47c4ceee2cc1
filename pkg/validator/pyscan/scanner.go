// Package pyscan extracts the structural facts the validator and source
// normalizer need — imports, class/function definitions, annotated
// assignments, and call expressions — from the Python source the
// implementer agent produces (FastAPI + SQLModel backends). Every
// extraction walks a real parse tree: go-tree-sitter's Python grammar
// replaces what used to be a hand-rolled bracket/string scanner, so a
// multi-line call or a nested string literal is handled the way the
// grammar defines it rather than approximated with regular expressions.
package pyscan

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ParseError reports a source file tree-sitter could not parse cleanly.
type ParseError struct {
	Message string
	Line    int
}

// parseSource runs the Python grammar over source and returns its root
// node together with the byte slice node offsets are relative to.
func parseSource(source string) (*sitter.Node, []byte, *ParseError) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(source)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, nil, &ParseError{Message: err.Error(), Line: 1}
	}
	root := tree.RootNode()
	if !root.HasError() {
		return root, content, nil
	}

	bad := firstErrorNode(root)
	if bad == nil {
		return nil, nil, &ParseError{Message: "syntax error", Line: 1}
	}
	return nil, nil, &ParseError{
		Message: fmt.Sprintf("syntax error near %q", snippet(bad.Content(content))),
		Line:    int(bad.StartPoint().Row) + 1,
	}
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsMissing() || n.Type() == "ERROR" {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func snippet(s string) string {
	const max = 40
	if len(s) > max {
		return s[:max]
	}
	return s
}

func nodeLine(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func sameRange(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}
