package pyscan

import sitter "github.com/smacker/go-tree-sitter"

// AttrRef is a `name.attr` attribute access where name is a bare
// identifier, the shape the validator checks against a module's exports
// (a longer chain like a.b.c only contributes its innermost pair, a.b,
// since that's the part anchored to a plain name).
type AttrRef struct {
	Object string
	Attr   string
	Line   int
}

// FindAttrRefs scans src for every `identifier.identifier` attribute
// access.
func FindAttrRefs(src string) []AttrRef {
	root, content, perr := parseSource(src)
	if perr != nil {
		return nil
	}
	var out []AttrRef
	collectAttrRefs(root, content, &out)
	return out
}

func collectAttrRefs(n *sitter.Node, content []byte, out *[]AttrRef) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "attribute" {
			obj := child.ChildByFieldName("object")
			attr := child.ChildByFieldName("attribute")
			if obj != nil && attr != nil && obj.Type() == "identifier" {
				*out = append(*out, AttrRef{
					Object: obj.Content(content),
					Attr:   attr.Content(content),
					Line:   nodeLine(child),
				})
			}
		}
		collectAttrRefs(child, content, out)
	}
}
