// Command sqllint checks that every SQL constant in the given packages
// starts with a `--sql <uuid>` marker and that no marker is reused.
//
//	go run ./internal/tools/sqllint ./internal/sqlinline
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	statementPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter|drop)\b`)
	markerPattern    = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type finding struct {
	pos     token.Position
	name    string
	message string
}

func (f finding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.pos.Filename, f.pos.Line, f.message, f.name)
}

// linter collects findings across files so duplicate markers are caught
// between packages too.
type linter struct {
	fset     *token.FileSet
	seen     map[string]token.Position
	findings []finding
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), seen: map[string]token.Position{}}
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}

	l := newLinter()
	for _, target := range targets {
		if err := l.walk(target); err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
	}
	if len(l.findings) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: bad SQL markers")
		for _, f := range l.findings {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		os.Exit(1)
	}
}

func (l *linter) walk(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.file(path)
	})
}

func (l *linter) file(path string) error {
	file, err := parser.ParseFile(l.fset, path, nil, 0)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			text, err := unquote(lit.Value)
			if err != nil || !statementPattern.MatchString(text) {
				continue
			}
			name := "_"
			if i < len(spec.Names) {
				name = spec.Names[i].Name
			}
			l.check(l.fset.Position(lit.Pos()), name, text)
		}
		return true
	})
	return nil
}

func (l *linter) check(pos token.Position, name, text string) {
	m := markerPattern.FindStringSubmatch(firstLine(text))
	if m == nil {
		l.findings = append(l.findings, finding{pos: pos, name: name, message: "missing or invalid --sql <uuid> marker"})
		return
	}
	if prev, dup := l.seen[m[1]]; dup {
		l.findings = append(l.findings, finding{
			pos:     pos,
			name:    name,
			message: fmt.Sprintf("marker %s already used at %s:%d", m[1], prev.Filename, prev.Line),
		})
		return
	}
	l.seen[m[1]] = pos
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if strings.HasPrefix(v, "`") {
		return strings.Trim(v, "`"), nil
	}
	return strconv.Unquote(v)
}
