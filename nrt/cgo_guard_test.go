package nrt

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// TestNoCgoImportInNrtPackage enforces the project's no-CGO contract for nrt/.
func TestNoCgoImportInNrtPackage(t *testing.T) {
	nrtDir, err := resolveNrtPackageDir()
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{nrtDir, filepath.Join(nrtDir, "nrttest")} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("failed to read package directory %s: %v", dir, err)
		}

		fset := token.NewFileSet()
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".go") {
				continue
			}

			file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
			if err != nil {
				t.Fatalf("failed to parse %s: %v", name, err)
			}
			for _, imp := range file.Imports {
				if imp.Path != nil && imp.Path.Value == "\"C\"" {
					t.Fatalf("CGO import detected in %s: import \"C\" is forbidden", name)
				}
			}
		}
	}
}

func resolveNrtPackageDir() (string, error) {
	candidates := make([]string, 0, 3)
	if wd, err := os.Getwd(); err == nil && wd != "" {
		candidates = append(candidates, wd, filepath.Join(wd, "nrt"))
	}
	if _, thisFile, _, ok := runtime.Caller(0); ok {
		candidates = append(candidates, filepath.Dir(thisFile))
	}

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, "cgo_guard_test.go")); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("failed to locate nrt package directory; checked: %v", candidates)
}
