package architecture_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"
)

// peerDomains are the governance domains that must stay independent of
// each other. The shared kernel (errors, values, sanitize) is importable
// by anyone and is deliberately absent from this list.
var peerDomains = []string{"access", "audit", "consent", "payment", "privacy", "retention"}

// allowedDomainEdges are the cross-domain imports the model requires.
// Privacy records carry their retention category and purge action, so
// the privacy domain reads retention's types.
var allowedDomainEdges = map[string][]string{
	"privacy": {"retention"},
}

func TestPeerDomainsStayIndependent(t *testing.T) {
	for _, domain := range peerDomains {
		t.Run(domain, func(t *testing.T) {
			files, err := filepath.Glob(filepath.Join("../../internal/domain", domain, "*.go"))
			if err != nil {
				t.Fatal(err)
			}
			if len(files) == 0 {
				t.Fatalf("domain %s has no files", domain)
			}

			for _, file := range files {
				for _, imp := range getFileImports(t, file) {
					for _, other := range peerDomains {
						if other == domain || !strings.HasSuffix(imp, "internal/domain/"+other) {
							continue
						}
						if edgeAllowed(domain, other) {
							continue
						}
						t.Errorf("domain %s imports peer domain %s (in %s)", domain, other, file)
					}
				}
			}
		})
	}
}

// TestDomainStaysPure ensures the domain layer never reaches out to
// infrastructure, transports, or logging. Domain types return errors;
// the service layer decides what to log and where to store.
func TestDomainStaysPure(t *testing.T) {
	forbidden := []string{
		"database/sql",
		"github.com/jackc/pgx",
		"github.com/lib/pq",
		"github.com/redis/go-redis",
		"github.com/twmb/franz-go",
		"github.com/aws/aws-sdk-go-v2",
		"github.com/knadh/koanf",
		"go.uber.org/zap",
		"net/http",
		"google.golang.org/grpc",
		"governance-backend/internal/infrastructure",
		"governance-backend/internal/service",
		"governance-backend/internal/api",
	}

	for _, file := range domainFiles(t) {
		for _, imp := range getFileImports(t, file) {
			for _, bad := range forbidden {
				if strings.Contains(imp, bad) {
					t.Errorf("domain file %s imports %s", file, imp)
				}
			}
		}
	}
}

// TestServicesStayOffTransports ensures the engines never know about the
// REST or websocket edge. The dependency points the other way.
func TestServicesStayOffTransports(t *testing.T) {
	files, err := filepath.Glob("../../internal/service/*/*.go")
	if err != nil {
		t.Fatal(err)
	}
	flat, err := filepath.Glob("../../internal/service/*.go")
	if err != nil {
		t.Fatal(err)
	}
	files = append(files, flat...)

	for _, file := range files {
		for _, imp := range getFileImports(t, file) {
			if strings.Contains(imp, "governance-backend/internal/api") {
				t.Errorf("service file %s imports transport package %s", file, imp)
			}
		}
	}
}

// TestValueObjectsAreImmutable ensures value objects expose no setters.
// A Money or RetentionDays is replaced, never mutated.
func TestValueObjectsAreImmutable(t *testing.T) {
	files, err := filepath.Glob("../../internal/domain/values/*.go")
	if err != nil {
		t.Fatal(err)
	}

	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		fset := token.NewFileSet()
		node, err := parser.ParseFile(fset, file, nil, 0)
		if err != nil {
			t.Fatalf("parsing %s: %v", file, err)
		}
		ast.Inspect(node, func(n ast.Node) bool {
			if fn, ok := n.(*ast.FuncDecl); ok {
				if fn.Recv != nil && strings.HasPrefix(fn.Name.Name, "Set") {
					t.Errorf("value object in %s has setter method %s", file, fn.Name.Name)
				}
			}
			return true
		})
	}
}

// Helpers

func edgeAllowed(from, to string) bool {
	for _, ok := range allowedDomainEdges[from] {
		if ok == to {
			return true
		}
	}
	return false
}

func domainFiles(t *testing.T) []string {
	t.Helper()
	dirs, err := filepath.Glob("../../internal/domain/*")
	if err != nil {
		t.Fatal(err)
	}
	var files []string
	for _, dir := range dirs {
		fs, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			t.Fatal(err)
		}
		for _, f := range fs {
			if !strings.HasSuffix(f, "_test.go") {
				files = append(files, f)
			}
		}
	}
	if len(files) == 0 {
		t.Fatal("no domain files found")
	}
	return files
}

func getFileImports(t *testing.T, filename string) []string {
	t.Helper()
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filename, nil, parser.ImportsOnly)
	if err != nil {
		t.Fatalf("parsing %s: %v", filename, err)
	}
	imports := make([]string, 0, len(node.Imports))
	for _, imp := range node.Imports {
		imports = append(imports, strings.Trim(imp.Path.Value, `"`))
	}
	return imports
}
