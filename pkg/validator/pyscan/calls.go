package pyscan

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Call is a single `callee(args...)` invocation found in source text.
type Call struct {
	Callee  string
	Args    []string
	Raw     string
	Line    int
	EndByte int // byte offset one past the call's closing paren, for locating what follows it
}

// FindCalls scans src for every invocation of an identifier matching
// calleeSuffix — the callee's last dotted component, e.g. calleeSuffix
// "Field" also matches "sqlmodel.Field(...)". Line numbers are 1-based.
func FindCalls(src, calleeSuffix string) []Call {
	return findCalls(src, func(name string) bool { return lastComponent(name) == calleeSuffix })
}

// FindAllCalls scans src for every call expression regardless of callee
// name, used by the usage pass to check keyword arguments against local
// function signatures.
func FindAllCalls(src string) []Call {
	return findCalls(src, func(string) bool { return true })
}

func findCalls(src string, match func(name string) bool) []Call {
	root, content, perr := parseSource(src)
	if perr != nil {
		return nil
	}
	var calls []Call
	collectCalls(root, content, match, &calls)
	return calls
}

func collectCalls(n *sitter.Node, content []byte, match func(string) bool, out *[]Call) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "call" {
			if c, ok := callFromNode(child, content); ok && match(c.Callee) {
				*out = append(*out, c)
			}
		}
		collectCalls(child, content, match, out)
	}
}

func callFromNode(n *sitter.Node, content []byte) (Call, bool) {
	fn := n.ChildByFieldName("function")
	args := n.ChildByFieldName("arguments")
	if fn == nil || args == nil {
		return Call{}, false
	}
	argTexts := make([]string, 0, args.NamedChildCount())
	for i := 0; i < int(args.NamedChildCount()); i++ {
		argTexts = append(argTexts, args.NamedChild(i).Content(content))
	}
	return Call{
		Callee:  fn.Content(content),
		Args:    argTexts,
		Raw:     n.Content(content),
		Line:    nodeLine(n),
		EndByte: int(n.EndByte()),
	}, true
}

func lastComponent(dotted string) string {
	idx := strings.LastIndexByte(dotted, '.')
	if idx == -1 {
		return dotted
	}
	return dotted[idx+1:]
}

// KeywordArg splits a single "key=value" argument into its parts. ok is
// false for positional arguments (no top-level '=').
func KeywordArg(arg string) (key, value string, ok bool) {
	depth := 0
	inSingle := byte(0)
	for i := 0; i < len(arg); i++ {
		c := arg[i]
		switch {
		case inSingle != 0:
			if c == '\\' {
				i++
				continue
			}
			if c == inSingle {
				inSingle = 0
			}
		case c == '\'' || c == '"':
			inSingle = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '=' && depth == 0:
			// Don't trip on "==", "!=", "<=", ">=".
			if i+1 < len(arg) && arg[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.ContainsRune("!<>=", rune(arg[i-1])) {
				continue
			}
			return strings.TrimSpace(arg[:i]), strings.TrimSpace(arg[i+1:]), true
		}
	}
	return "", "", false
}

// FindKeywordArg returns the value of the first occurrence of key among
// args, or ("", false) if absent.
func FindKeywordArg(args []string, key string) (string, bool) {
	for _, a := range args {
		k, v, ok := KeywordArg(a)
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// KeywordArgCount counts how many args declare the given keyword name,
// used to detect duplicate keyword arguments in a single call.
func KeywordArgCount(args []string, key string) int {
	count := 0
	for _, a := range args {
		if k, _, ok := KeywordArg(a); ok && k == key {
			count++
		}
	}
	return count
}

// StringArgs returns the unquoted values of every positional argument in
// args that is a plain quoted string literal.
func StringArgs(args []string) []string {
	var out []string
	for _, a := range args {
		if v, ok := unquote(a); ok {
			out = append(out, v)
		}
	}
	return out
}

func unquote(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1], true
		}
	}
	return "", false
}
