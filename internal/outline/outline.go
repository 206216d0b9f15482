// Package outline lists the declarations of a source file with the
// zero-based line ranges that line edits address.
package outline

import (
	"bufio"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var ErrUnsupported = errors.New("no outline for this file type")

type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // func|method|type|var|const|class|function|interface|def
	Line      int    `json:"line"`
	EndLine   int    `json:"endLine"`
	Signature string `json:"signature"`
	Exported  bool   `json:"exported"`
}

// File picks an extractor by extension.
func File(path, src string) ([]Symbol, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return Go(src)
	case ".ts", ".tsx", ".js", ".jsx", ".mjs":
		return Script(src), nil
	case ".py":
		return Python(src), nil
	}
	return nil, ErrUnsupported
}

// Go parses src and returns its top-level declarations.
func Go(src string) ([]Symbol, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "src.go", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	var out []Symbol
	add := func(name, kind, sig string, n ast.Node) {
		if name == "" || name == "_" {
			return
		}
		out = append(out, Symbol{
			Name:      name,
			Kind:      kind,
			Line:      fset.Position(n.Pos()).Line - 1,
			EndLine:   fset.Position(n.End()).Line - 1,
			Signature: sig,
			Exported:  ast.IsExported(name),
		})
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			var kind string
			switch d.Tok {
			case token.CONST:
				kind = "const"
			case token.VAR:
				kind = "var"
			case token.TYPE:
				kind = "type"
			default:
				continue
			}
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					add(s.Name.Name, kind, s.Name.Name, s)
				case *ast.ValueSpec:
					for _, nm := range s.Names {
						add(nm.Name, kind, nm.Name, s)
					}
				}
			}
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv == nil || len(d.Recv.List) == 0 {
				add(name, "func", name, d)
				continue
			}
			add(name, "method", recvName(d.Recv.List[0].Type)+"."+name, d)
		}
	}
	sortSymbols(out)
	return out, nil
}

func recvName(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.StarExpr:
		return recvName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return recvName(t.X)
	case *ast.IndexListExpr:
		return recvName(t.X)
	}
	return "recv"
}

type lineRule struct {
	re   *regexp.Regexp
	kind string
	sig  func(name string) string
}

var scriptRules = []lineRule{
	{regexp.MustCompile(`^\s*(export\s+)?(?:default\s+)?(?:async\s+)?function\*?\s+([A-Za-z_$][\w$]*)\s*\(`), "function", func(n string) string { return n + "()" }},
	{regexp.MustCompile(`^\s*(export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)\b`), "class", nil},
	{regexp.MustCompile(`^\s*(export\s+)?interface\s+([A-Za-z_$][\w$]*)\b`), "interface", nil},
	{regexp.MustCompile(`^\s*(export\s+)?type\s+([A-Za-z_$][\w$]*)\s*[=<]`), "type", nil},
	{regexp.MustCompile(`^(export\s+)?const\s+([A-Za-z_$][\w$]*)\b`), "const", nil},
	{regexp.MustCompile(`^(export\s+)?let\s+([A-Za-z_$][\w$]*)\b`), "let", nil},
	{regexp.MustCompile(`^(export\s+)?var\s+([A-Za-z_$][\w$]*)\b`), "var", nil},
}

// Script scans TypeScript/JavaScript line by line. Only the start line is
// known; EndLine equals Line.
func Script(src string) []Symbol {
	var out []Symbol
	scanLines(src, func(i int, s string) {
		t := strings.TrimSpace(s)
		if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "*") {
			return
		}
		for _, r := range scriptRules {
			m := r.re.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			sig := m[2]
			if r.sig != nil {
				sig = r.sig(m[2])
			}
			out = append(out, Symbol{Name: m[2], Kind: r.kind, Line: i, EndLine: i, Signature: sig, Exported: m[1] != ""})
			return
		}
	})
	return out
}

var rePyDef = regexp.MustCompile(`^(\s*)(async\s+def|def|class)\s+([A-Za-z_]\w*)`)

// Python uses indentation to close blocks: a def or class ends at the last
// non-blank line before the next line indented at or above its own level.
func Python(src string) []Symbol {
	type open struct {
		idx    int
		indent int
	}
	var (
		out   []Symbol
		stack []open
		last  = -1
		quals []string
	)
	closeTo := func(indent int) {
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			quals = quals[:len(quals)-1]
			out[top.idx].EndLine = max(last, out[top.idx].Line)
		}
	}
	scanLines(src, func(i int, s string) {
		t := strings.TrimSpace(s)
		if t == "" || strings.HasPrefix(t, "#") {
			return
		}
		indent := len(s) - len(strings.TrimLeft(s, " \t"))
		closeTo(indent)
		if m := rePyDef.FindStringSubmatch(s); m != nil {
			kind := "def"
			if m[2] == "class" {
				kind = "class"
			}
			sig := strings.Join(append(slices.Clone(quals), m[3]), ".")
			out = append(out, Symbol{Name: m[3], Kind: kind, Line: i, EndLine: i, Signature: sig, Exported: !strings.HasPrefix(m[3], "_")})
			stack = append(stack, open{idx: len(out) - 1, indent: indent})
			quals = append(quals, m[3])
		}
		last = i
	})
	closeTo(0)
	return out
}

func scanLines(src string, fn func(i int, line string)) {
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for i := 0; sc.Scan(); i++ {
		fn(i, sc.Text())
	}
}

func sortSymbols(s []Symbol) {
	slices.SortStableFunc(s, func(a, b Symbol) int {
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		return strings.Compare(a.Name, b.Name)
	})
}
