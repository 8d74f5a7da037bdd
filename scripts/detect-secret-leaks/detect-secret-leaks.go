// Command detect-secret-leaks scans the source tree for patterns that
// would put card data or credentials where the governance engine
// promises they never go: log fields named after secrets, raw cipher
// primitives used outside the keyring package, and PAN-length digit
// runs in non-test code.
package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type Finding struct {
	File    string
	Line    int
	Problem string
}

// forbiddenLogKeys are field names that must never appear in a log
// call. Masked forms (last4, token) are fine; the raw names are not.
var forbiddenLogKeys = map[string]bool{
	"pan":           true,
	"card_number":   true,
	"cvv":           true,
	"cvc":           true,
	"password":      true,
	"authorization": true,
	"master_key":    true,
	"jwt_secret":    true,
}

// cipherImports may only be used by the keyring package; everything
// else goes through it.
var cipherImports = map[string]bool{
	"crypto/aes":    true,
	"crypto/cipher": true,
	"crypto/hmac":   true,
}

const keyringPackage = "internal/infrastructure/crypto"

var panRun = regexp.MustCompile(`[0-9]{13,19}`)

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	var findings []Finding
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == "_examples" || name == "vendor" || (strings.HasPrefix(name, ".") && name != ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if strings.Contains(path, "detect-secret-leaks") {
			return nil
		}
		findings = append(findings, scanFile(path)...)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "walk failed: %v\n", err)
		os.Exit(2)
	}

	if len(findings) == 0 {
		fmt.Println("no secret leaks detected")
		return
	}
	for _, f := range findings {
		fmt.Printf("%s:%d: %s\n", f.File, f.Line, f.Problem)
	}
	fmt.Printf("\n%d potential leak(s)\n", len(findings))
	os.Exit(1)
}

func scanFile(path string) []Finding {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return []Finding{{File: path, Line: 0, Problem: fmt.Sprintf("parse failed: %v", err)}}
	}

	var findings []Finding

	if !strings.Contains(filepath.ToSlash(path), keyringPackage) {
		for _, imp := range node.Imports {
			p := strings.Trim(imp.Path.Value, `"`)
			if cipherImports[p] {
				findings = append(findings, Finding{
					File:    path,
					Line:    fset.Position(imp.Pos()).Line,
					Problem: fmt.Sprintf("imports %s outside %s", p, keyringPackage),
				})
			}
		}
	}

	ast.Inspect(node, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.CallExpr:
			if !isLogCallee(x.Fun) {
				return true
			}
			for _, arg := range x.Args {
				lit, ok := arg.(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				key := strings.ToLower(strings.Trim(lit.Value, "`\""))
				if forbiddenLogKeys[key] {
					findings = append(findings, Finding{
						File:    path,
						Line:    fset.Position(lit.Pos()).Line,
						Problem: fmt.Sprintf("log field named %q", key),
					})
				}
			}
		case *ast.BasicLit:
			if x.Kind == token.STRING && panRun.MatchString(x.Value) {
				findings = append(findings, Finding{
					File:    path,
					Line:    fset.Position(x.Pos()).Line,
					Problem: "PAN-length digit run in a string literal",
				})
			}
		}
		return true
	})

	return findings
}

// isLogCallee recognizes zap field constructors and leveled logger
// methods, where a forbidden key name is a leak rather than a word.
func isLogCallee(fun ast.Expr) bool {
	sel, ok := fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	if ident, ok := sel.X.(*ast.Ident); ok && ident.Name == "zap" {
		return true
	}
	switch sel.Sel.Name {
	case "Debug", "Info", "Warn", "Error", "Fatal":
		return true
	}
	return false
}
