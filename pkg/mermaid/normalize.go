// Package mermaid normalizes LLM-produced Mermaid diagram text into a
// syntactically valid top-down flowchart. The function is pure and
// idempotent: Normalize(Normalize(x)) == Normalize(x) for all x.
package mermaid

import (
	"regexp"
	"strings"
)

// minimalDiagram is what an empty or unrecoverable input normalizes to.
const minimalDiagram = "flowchart TD\n    A[\"Start\"]"

var (
	zeroWidthMarks = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}]`)
	fenceLine      = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
	flowchartDecl  = regexp.MustCompile(`(?i)^\s*(flowchart|graph)\s+\w+\s*$`)
	noteLine       = regexp.MustCompile(`(?i)^\s*note\b.*$`)
	ampersandDecl  = regexp.MustCompile(`^(\s*)([A-Za-z0-9_]+(\s*&\s*[A-Za-z0-9_]+)+)(\s*(-->|---|\.-\.|\.\.>)?.*)$`)
	dottedEdge     = regexp.MustCompile(`-\.\s*([^-]*?)\s*\.->`)
	bracketLabel   = regexp.MustCompile(`\[([^\[\]"]*[\s,.:;!?()/][^\[\]"]*)\]`)
	arrowGlyphs    = strings.NewReplacer(
		"->", "→",
		"<-", "←",
		"=>", "⇒",
		"<=", "⇐",
	)
)

// Normalize rewrites raw into a valid top-down Mermaid flowchart.
func Normalize(raw string) string {
	s := stripFencesAndMarks(raw)
	s = normalizeLineEndings(s)
	s = strings.TrimSpace(s)

	if s == "" {
		return minimalDiagram
	}

	lines := strings.Split(s, "\n")
	lines = dropNoteLines(lines)
	lines = forceFlowchartTD(lines)
	lines = expandAmpersandDecls(lines)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = rewriteDottedEdges(line)
		line = quoteBracketLabels(line)
		line = rewriteArrowGlyphsInLabels(line)
		out = append(out, line)
	}

	result := strings.TrimRight(strings.Join(out, "\n"), "\n")
	if result == "" {
		return minimalDiagram
	}
	return result
}

// stripFencesAndMarks removes Markdown code fences, a leading BOM, and
// zero-width marks that LLMs sometimes inject.
func stripFencesAndMarks(s string) string {
	s = strings.TrimPrefix(s, "\xef\xbb\xbf")
	s = zeroWidthMarks.ReplaceAllString(s, "")
	s = fenceLine.ReplaceAllString(s, "")
	return s
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// dropNoteLines removes unsupported `note ...` syntax lines entirely.
func dropNoteLines(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if noteLine.MatchString(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// forceFlowchartTD ensures the diagram opens with "flowchart TD", replacing
// any existing flowchart/graph declaration line (whatever its direction)
// and inserting one if none is present.
func forceFlowchartTD(lines []string) []string {
	for i, l := range lines {
		if flowchartDecl.MatchString(l) {
			out := make([]string, 0, len(lines))
			out = append(out, lines[:i]...)
			out = append(out, "flowchart TD")
			out = append(out, lines[i+1:]...)
			return out
		}
	}
	return append([]string{"flowchart TD"}, lines...)
}

// expandAmpersandDecls rewrites "A & B --> C" shorthand into one edge
// declaration per left-hand node.
func expandAmpersandDecls(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		m := ampersandDecl.FindStringSubmatch(l)
		if m == nil {
			out = append(out, l)
			continue
		}
		indent := m[1]
		nodes := strings.Split(m[2], "&")
		suffix := m[4]
		for _, n := range nodes {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			out = append(out, indent+n+suffix)
		}
	}
	return out
}

// rewriteDottedEdges turns "-. label .->" into the plain labeled arrow
// form "-- label -->".
func rewriteDottedEdges(line string) string {
	return dottedEdge.ReplaceAllString(line, "-- $1 -->")
}

// quoteBracketLabels wraps unquoted square-bracket node labels containing
// whitespace or punctuation in double quotes, e.g. [Order Service] ->
// ["Order Service"].
func quoteBracketLabels(line string) string {
	return bracketLabel.ReplaceAllStringFunc(line, func(match string) string {
		inner := match[1 : len(match)-1]
		if strings.HasPrefix(inner, "\"") && strings.HasSuffix(inner, "\"") {
			return match
		}
		return "[\"" + inner + "\"]"
	})
}

// rewriteArrowGlyphsInLabels replaces ASCII arrow glyphs inside edge pipe
// labels (|...|) with their Unicode arrow equivalents, since Mermaid edge
// label text containing "->" confuses some renderers.
func rewriteArrowGlyphsInLabels(line string) string {
	start := strings.Index(line, "|")
	if start == -1 {
		return line
	}
	end := strings.Index(line[start+1:], "|")
	if end == -1 {
		return line
	}
	end += start + 1
	label := line[start+1 : end]
	rewritten := arrowGlyphs.Replace(label)
	return line[:start+1] + rewritten + line[end:]
}
