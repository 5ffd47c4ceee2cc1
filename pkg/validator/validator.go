// Package validator implements the deterministic code validator: a
// whole-bundle static consistency check over the generated FastAPI/SQLModel
// backend, producing a TestRunReport with check = import_smoke. It never
// calls an LLM and never shells out — every finding is derived from
// pkg/validator/pyscan's tree-sitter parse of the bundle.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tarsy-labs/forge/pkg/artifact"
	"github.com/tarsy-labs/forge/pkg/validator/pyscan"
)

type failure struct {
	file    string
	message string
	line    int
}

func (f failure) key() string {
	return fmt.Sprintf("%s\x00%s\x00%d", f.file, f.message, f.line)
}

// Run performs the two-pass validation over code and returns the
// resulting TestRunReport.
func Run(code *artifact.GeneratedCode) artifact.TestRunReport {
	paths := code.SortedPaths()
	modules := make(map[string]*pyscan.Module, len(paths))
	var failures []failure

	for _, p := range paths {
		if !strings.HasSuffix(p, ".py") {
			continue
		}
		cf, _ := code.File(p)
		m, perr := pyscan.Parse(p, cf.Content)
		if perr != nil {
			failures = append(failures, failure{file: p, message: "syntax: " + perr.Message, line: perr.Line})
			continue
		}
		modules[p] = m
		failures = append(failures, checkAnnotationCollisions(p, m)...)
	}

	moduleIndex := buildModuleIndex(modules)

	for _, p := range paths {
		m, ok := modules[p]
		if !ok {
			continue
		}
		failures = append(failures, checkUsage(p, m, moduleIndex, code)...)
	}

	failures = append(failures, checkDuplicateBootstrap(modules)...)
	failures = dedupFailures(failures)

	return buildReport(failures)
}

// pathToModule converts a bundle path like "app/models/todo.py" into its
// dotted module name "app.models.todo". "app/__init__.py" maps to "app".
func pathToModule(p string) string {
	p = strings.TrimSuffix(p, ".py")
	p = strings.ReplaceAll(p, "/", ".")
	p = strings.TrimSuffix(p, ".__init__")
	return p
}

func buildModuleIndex(modules map[string]*pyscan.Module) map[string]*pyscan.Module {
	idx := make(map[string]*pyscan.Module, len(modules))
	for p, m := range modules {
		idx[pathToModule(p)] = m
	}
	return idx
}

func checkAnnotationCollisions(path string, m *pyscan.Module) []failure {
	var out []failure
	for _, ann := range m.AnnotatedAssignments {
		if referencesOwnName(ann.Type, ann.Name) {
			out = append(out, failure{
				file:    path,
				message: fmt.Sprintf("field %q is annotated with a type that textually references its own name (%q)", ann.Name, ann.Type),
				line:    ann.Line,
			})
		}
	}
	return out
}

func referencesOwnName(typeExpr, name string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	return re.MatchString(typeExpr)
}

// boundModuleAliases returns, for module m, the local names that are bound
// to another file in the bundle (as opposed to a plain symbol import).
func boundModuleAliases(m *pyscan.Module, moduleIndex map[string]*pyscan.Module) map[string]string {
	aliases := make(map[string]string)
	for _, im := range m.Imports {
		if im.FromModule == "" {
			if _, ok := moduleIndex[im.Name]; ok {
				aliases[im.BoundName()] = im.Name
			}
			continue
		}
		dotted := im.FromModule + "." + im.Name
		if _, ok := moduleIndex[dotted]; ok {
			aliases[im.BoundName()] = dotted
		}
	}
	return aliases
}

func checkUsage(path string, m *pyscan.Module, moduleIndex map[string]*pyscan.Module, code *artifact.GeneratedCode) []failure {
	var out []failure
	src := m.Source

	aliases := boundModuleAliases(m, moduleIndex)
	out = append(out, checkModuleAttrs(path, src, aliases, moduleIndex)...)
	out = append(out, checkLocalCallKeywords(path, src, m, aliases, moduleIndex)...)
	out = append(out, checkSessionExecPatterns(path, src)...)
	out = append(out, checkPrimaryKeys(path, m)...)
	out = append(out, checkFieldCalls(path, m)...)
	out = append(out, checkIncludeRouterDuplicates(path, m, moduleIndex)...)
	out = append(out, checkEmailStr(path, src, code)...)
	return out
}

func checkModuleAttrs(path, src string, aliases map[string]string, moduleIndex map[string]*pyscan.Module) []failure {
	var out []failure
	for _, ref := range pyscan.FindAttrRefs(src) {
		dotted, ok := aliases[ref.Object]
		if !ok {
			continue
		}
		target := moduleIndex[dotted]
		if target == nil {
			continue
		}
		if !target.Exports[ref.Attr] {
			out = append(out, failure{
				file:    path,
				message: fmt.Sprintf("%s.%s is not exported by module %q", ref.Object, ref.Attr, dotted),
				line:    ref.Line,
			})
		}
	}
	return out
}

func checkLocalCallKeywords(path, src string, m *pyscan.Module, aliases map[string]string, moduleIndex map[string]*pyscan.Module) []failure {
	var out []failure
	for _, c := range pyscan.FindAllCalls(src) {
		var sig pyscan.FuncSig
		var found bool

		if strings.Contains(c.Callee, ".") {
			parts := strings.SplitN(c.Callee, ".", 2)
			if dotted, ok := aliases[parts[0]]; ok {
				if target := moduleIndex[dotted]; target != nil {
					sig, found = target.Functions[parts[1]]
				}
			}
		} else if s, ok := m.Functions[c.Callee]; ok {
			sig, found = s, true
		}

		if !found {
			continue
		}
		for _, a := range c.Args {
			key, _, isKw := pyscan.KeywordArg(a)
			if !isKw {
				continue
			}
			if !sig.AcceptsKeyword(key) {
				out = append(out, failure{
					file:    path,
					message: fmt.Sprintf("%s() called with unknown keyword argument %q", c.Callee, key),
					line:    c.Line,
				})
			}
		}
	}
	return out
}

func checkSessionExecPatterns(path, src string) []failure {
	var out []failure
	for _, c := range pyscan.FindCalls(src, "exec") {
		if c.Callee != "session.exec" {
			continue
		}
		tail := src[c.EndByte:]
		tailEnd := len(tail)
		if tailEnd > 40 {
			tailEnd = 40
		}
		lookahead := tail[:tailEnd]
		switch {
		case strings.HasPrefix(lookahead, ".scalar_one()"):
			out = append(out, failure{file: path, message: "session.exec(...).scalar_one() is runtime-incompatible", line: c.Line})
		case strings.HasPrefix(lookahead, ".one()[0]"):
			out = append(out, failure{file: path, message: "session.exec(...).one()[0] raises TypeError on scalar selects", line: c.Line})
		case strings.HasPrefix(lookahead, ".first()[0]"):
			out = append(out, failure{file: path, message: "session.exec(...).first()[0] raises TypeError on scalar selects", line: c.Line})
		}
	}
	return out
}

func checkPrimaryKeys(path string, m *pyscan.Module) []failure {
	var out []failure
	names := make([]string, 0, len(m.ClassesWithTable))
	for name := range m.ClassesWithTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !m.ClassesWithTable[name] {
			continue
		}
		if !m.ClassHasPrimaryKey[name] {
			out = append(out, failure{
				file:    path,
				message: fmt.Sprintf("class %q declares table=True but has no Field(primary_key=True)", name),
				line:    0,
			})
		}
	}
	return out
}

func checkFieldCalls(path string, m *pyscan.Module) []failure {
	var out []failure
	for _, c := range m.FieldCalls {
		if v, ok := pyscan.FindKeywordArg(c.Args, "pattern"); ok {
			out = append(out, failure{file: path, message: fmt.Sprintf("Field(pattern=%s) is invalid; use regex=", v), line: c.Line})
		}

		_, hasSA := pyscan.FindKeywordArg(c.Args, "sa_column")
		if hasSA {
			for _, kw := range []string{"primary_key", "index", "foreign_key"} {
				if _, ok := pyscan.FindKeywordArg(c.Args, kw); ok {
					out = append(out, failure{file: path, message: fmt.Sprintf("Field(sa_column=..., %s=...) cannot coexist", kw), line: c.Line})
				}
			}
		}

		seen := map[string]int{}
		for _, a := range c.Args {
			if k, _, ok := pyscan.KeywordArg(a); ok {
				seen[k]++
			}
		}
		for k, n := range seen {
			if n > 1 {
				out = append(out, failure{file: path, message: fmt.Sprintf("Field() has duplicate keyword argument %q", k), line: c.Line})
			}
		}

		if v, ok := pyscan.FindKeywordArg(c.Args, "index"); ok && strings.TrimSpace(v) == "True" {
			if name, ok := pyscan.FindKeywordArg(c.Args, "name"); ok {
				if n, unquoted := unquote(name); unquoted && m.ExplicitIndexedFields[n] {
					out = append(out, failure{file: path, message: fmt.Sprintf("field %q has both index=True and an explicit Index() declaration", n), line: c.Line})
				}
			}
		}
	}
	return out
}

func checkIncludeRouterDuplicates(path string, m *pyscan.Module, moduleIndex map[string]*pyscan.Module) []failure {
	var out []failure
	for _, c := range m.IncludeRouterCalls {
		if len(c.Args) == 0 {
			continue
		}
		routerName, _, isKw := pyscan.KeywordArg(c.Args[0])
		if isKw {
			continue
		}
		routerName = c.Args[0]

		prefix, ok := pyscan.FindKeywordArg(c.Args, "prefix")
		if !ok {
			continue
		}
		prefixVal, ok := unquote(prefix)
		if !ok || prefixVal == "/" {
			continue
		}

		declared, ok := m.RouterPrefixes[routerName]
		if !ok {
			for _, other := range moduleIndex {
				if p, ok := other.RouterPrefixes[routerName]; ok {
					declared = p
					break
				}
			}
		}
		if declared == prefixVal {
			out = append(out, failure{
				file:    path,
				message: fmt.Sprintf("include_router(%s, prefix=%q) duplicates the router's own prefix declaration", routerName, prefixVal),
				line:    c.Line,
			})
		}
	}
	return out
}

func checkEmailStr(path, src string, code *artifact.GeneratedCode) []failure {
	if !strings.Contains(src, "EmailStr") {
		return nil
	}
	for _, d := range code.Dependencies {
		if d == "email-validator" || strings.Contains(d, "pydantic[email]") {
			return nil
		}
	}
	return []failure{{
		file:    path,
		message: "EmailStr is used but neither email-validator nor pydantic[email] is declared in dependencies",
		line:    0,
	}}
}

func checkDuplicateBootstrap(modules map[string]*pyscan.Module) []failure {
	db, hasDB := modules["app/database.py"]
	main, hasMain := modules["app/main.py"]
	if hasDB && hasMain && db.HasCreateAll && main.HasCreateAll {
		return []failure{{
			file:    "app/main.py",
			message: "app/database.py and app/main.py both bootstrap metadata.create_all(); bootstrap must happen exactly once",
			line:    0,
		}}
	}
	return nil
}

func dedupFailures(in []failure) []failure {
	seen := make(map[string]struct{}, len(in))
	out := make([]failure, 0, len(in))
	for _, f := range in {
		k := f.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

func buildReport(failures []failure) artifact.TestRunReport {
	byFile := make(map[string][]string)
	var order []string
	testFailures := make([]artifact.TestFailure, 0, len(failures))

	for _, f := range failures {
		line := f.line
		var linePtr *int
		if line > 0 {
			linePtr = &line
		}
		check := artifact.CheckImportSmoke
		if strings.HasPrefix(f.message, "syntax:") {
			check = artifact.CheckSyntax
		}
		testFailures = append(testFailures, artifact.TestFailure{
			Check:      check,
			Message:    f.message,
			FilePath:   f.file,
			LineNumber: linePtr,
			Patchable:  true,
		})
		if _, ok := byFile[f.file]; !ok {
			order = append(order, f.file)
		}
		byFile[f.file] = append(byFile[f.file], f.message)
	}

	patchRequests := make([]artifact.FilePatchRequest, 0, len(order))
	for _, file := range order {
		patchRequests = append(patchRequests, artifact.FilePatchRequest{
			Path:         file,
			Reason:       "Deterministic validator found unresolved imports or incompatible function contracts",
			Instructions: byFile[file],
		})
	}

	return artifact.TestRunReport{
		Passed:        len(testFailures) == 0,
		ChecksRun:     []artifact.CheckKind{artifact.CheckImportSmoke},
		Failures:      testFailures,
		PatchRequests: patchRequests,
	}
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
