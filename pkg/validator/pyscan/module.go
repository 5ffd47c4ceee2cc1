package pyscan

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Import is a single "from X import Y [as Z]" or "import X [as Z]"
// statement.
type Import struct {
	FromModule string // "" for a plain "import x" statement
	Name       string // imported symbol, or the module itself for "import x"
	Alias      string // "" if no "as" clause
}

// BoundName is the local name an import binds, respecting any alias.
func (im Import) BoundName() string {
	if im.Alias != "" {
		return im.Alias
	}
	return im.Name
}

// FuncSig is a top-level function's call contract.
type FuncSig struct {
	Name      string
	Params    []string
	HasKwargs bool
}

// AcceptsKeyword reports whether a call to this function may pass keyword
// name, either because it's a declared parameter or the function accepts
// **kwargs.
func (f FuncSig) AcceptsKeyword(name string) bool {
	if f.HasKwargs {
		return true
	}
	for _, p := range f.Params {
		if p == name {
			return true
		}
	}
	return false
}

// AnnotatedAssignment is a "name: Type = ..." statement, used to detect
// name/type collisions (e.g. a field named `date` annotated `date`).
type AnnotatedAssignment struct {
	Name string
	Type string
	Line int
}

// Module is the result of scanning one generated source file.
type Module struct {
	Path   string
	Source string

	Exports   map[string]bool
	Functions map[string]FuncSig
	Imports   []Import

	RouterPrefixes        map[string]string // variable name -> prefix string
	HasCreateAll          bool
	ExplicitIndexedFields map[string]bool
	ClassesWithTable      map[string]bool
	ClassHasPrimaryKey    map[string]bool
	AnnotatedAssignments  []AnnotatedAssignment

	FieldCalls         []Call
	IndexCalls         []Call
	IncludeRouterCalls []Call
}

// Parse scans source text into a Module. A non-nil ParseError means
// tree-sitter could not parse the text cleanly.
func Parse(path, source string) (*Module, *ParseError) {
	root, content, perr := parseSource(source)
	if perr != nil {
		return nil, perr
	}

	m := &Module{
		Path:                  path,
		Source:                source,
		Exports:               make(map[string]bool),
		Functions:             make(map[string]FuncSig),
		RouterPrefixes:        make(map[string]string),
		ExplicitIndexedFields: make(map[string]bool),
		ClassesWithTable:      make(map[string]bool),
		ClassHasPrimaryKey:    make(map[string]bool),
	}

	collectImports(root, content, m)
	collectAnnotatedAssignments(root, content, m)

	for i := 0; i < int(root.NamedChildCount()); i++ {
		walkTopLevel(root.NamedChild(i), content, m)
	}

	m.HasCreateAll = strings.Contains(source, "metadata.create_all(")
	m.FieldCalls = FindCalls(source, "Field")
	m.IndexCalls = FindCalls(source, "Index")
	m.IncludeRouterCalls = FindCalls(source, "include_router")

	for _, c := range m.IndexCalls {
		strs := StringArgs(c.Args)
		for i, s := range strs {
			if i == 0 {
				continue // first string arg is the index name, e.g. "ix_todo_due_date"
			}
			m.ExplicitIndexedFields[s] = true
		}
	}

	return m, nil
}

// collectImports walks the whole tree (imports can appear inside a
// function or a try/except, not only at module level) gathering every
// import_statement / import_from_statement.
func collectImports(n *sitter.Node, content []byte, m *Module) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "import_from_statement":
			moduleNode := child.ChildByFieldName("module_name")
			module := ""
			if moduleNode != nil {
				module = moduleNode.Content(content)
			}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				item := child.NamedChild(j)
				if sameRange(item, moduleNode) {
					continue
				}
				name, alias := importItem(item, content)
				if name == "" || name == "*" {
					continue
				}
				m.Imports = append(m.Imports, Import{FromModule: module, Name: name, Alias: alias})
			}
		case "import_statement":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				name, alias := importItem(child.NamedChild(j), content)
				if name == "" {
					continue
				}
				m.Imports = append(m.Imports, Import{Name: name, Alias: alias})
			}
		}
		collectImports(child, content, m)
	}
}

func importItem(n *sitter.Node, content []byte) (name, alias string) {
	switch n.Type() {
	case "aliased_import":
		nameNode := n.ChildByFieldName("name")
		aliasNode := n.ChildByFieldName("alias")
		if nameNode == nil {
			return "", ""
		}
		name = nameNode.Content(content)
		if aliasNode != nil {
			alias = aliasNode.Content(content)
		}
		return name, alias
	case "dotted_name", "identifier":
		return n.Content(content), ""
	case "wildcard_import":
		return "*", ""
	default:
		return "", ""
	}
}

// collectAnnotatedAssignments gathers every "name: Type = ..." statement
// anywhere in the file, top-level or nested inside a class body.
func collectAnnotatedAssignments(n *sitter.Node, content []byte, m *Module) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "assignment" {
			if typeNode := child.ChildByFieldName("type"); typeNode != nil {
				if left := child.ChildByFieldName("left"); left != nil && left.Type() == "identifier" {
					m.AnnotatedAssignments = append(m.AnnotatedAssignments, AnnotatedAssignment{
						Name: left.Content(content),
						Type: strings.TrimSpace(typeNode.Content(content)),
						Line: nodeLine(child),
					})
				}
			}
		}
		collectAnnotatedAssignments(child, content, m)
	}
}

// walkTopLevel handles one direct statement of the module body, the
// tree-sitter equivalent of the old scanner's "indent == 0" guard.
func walkTopLevel(n *sitter.Node, content []byte, m *Module) {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			walkTopLevel(def, content, m)
		}
	case "function_definition":
		sig := parseFuncSig(n, content)
		if sig.Name == "" {
			return
		}
		m.Functions[sig.Name] = sig
		m.Exports[sig.Name] = true
	case "class_definition":
		name, hasTable := parseClassHeader(n, content)
		if name == "" {
			return
		}
		m.Exports[name] = true
		m.ClassesWithTable[name] = hasTable
		if body := n.ChildByFieldName("body"); body != nil && hasPrimaryKeyField(body, content) {
			m.ClassHasPrimaryKey[name] = true
		}
	case "expression_statement":
		if n.NamedChildCount() == 0 {
			return
		}
		walkAssignment(n.NamedChild(0), content, m)
	}
}

func parseFuncSig(n *sitter.Node, content []byte) FuncSig {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return FuncSig{}
	}
	sig := FuncSig{Name: nameNode.Content(content)}
	params := n.ChildByFieldName("parameters")
	if params == nil {
		return sig
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "dictionary_splat_pattern":
			sig.HasKwargs = true
		default:
			name := paramName(p, content)
			if name == "" || name == "self" || name == "cls" {
				continue
			}
			sig.Params = append(sig.Params, name)
		}
	}
	return sig
}

func paramName(n *sitter.Node, content []byte) string {
	if n.Type() == "identifier" {
		return n.Content(content)
	}
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		return nameNode.Content(content)
	}
	if n.NamedChildCount() > 0 {
		return paramName(n.NamedChild(0), content)
	}
	return ""
}

func parseClassHeader(n *sitter.Node, content []byte) (name string, hasTable bool) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return "", false
	}
	name = nameNode.Content(content)
	bases := n.ChildByFieldName("superclasses")
	if bases == nil {
		return name, false
	}
	for i := 0; i < int(bases.NamedChildCount()); i++ {
		b := bases.NamedChild(i)
		if b.Type() != "keyword_argument" {
			continue
		}
		keyNode := b.ChildByFieldName("name")
		valNode := b.ChildByFieldName("value")
		if keyNode != nil && valNode != nil && keyNode.Content(content) == "table" && valNode.Content(content) == "True" {
			hasTable = true
		}
	}
	return name, hasTable
}

// hasPrimaryKeyField reports whether any Field(...) call inside body
// (at any nesting depth) declares primary_key=True.
func hasPrimaryKeyField(n *sitter.Node, content []byte) bool {
	found := false
	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if found {
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "call" {
				if c, ok := callFromNode(child, content); ok && lastComponent(c.Callee) == "Field" {
					if v, ok := FindKeywordArg(c.Args, "primary_key"); ok && strings.TrimSpace(v) == "True" {
						found = true
						return
					}
				}
			}
			walk(child)
		}
	}
	walk(n)
	return found
}

func walkAssignment(n *sitter.Node, content []byte, m *Module) {
	if n.Type() != "assignment" {
		return
	}
	left := n.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := left.Content(content)
	m.Exports[name] = true

	if n.ChildByFieldName("type") != nil {
		return // annotated; already collected by collectAnnotatedAssignments
	}

	right := n.ChildByFieldName("right")
	if right == nil || right.Type() != "call" {
		return
	}
	call, ok := callFromNode(right, content)
	if !ok || lastComponent(call.Callee) != "APIRouter" {
		return
	}
	if prefix, ok := FindKeywordArg(call.Args, "prefix"); ok {
		if v, ok := unquote(prefix); ok {
			m.RouterPrefixes[name] = v
		}
	}
}
