package vomap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const mapText = `# osg-user-vo-map
# generated by edg-mkgridmap
uscms01 cms
uscms02 cms
ivdgl ivdgl

# pool account ranges
uscms* cms
usatlas* atlas
us* osg
junk-line-without-vo
alice vo1
alice vo1final
`

// mustParse parses map text or fails the test.
// Params: t test handle; text map file content.
// Returns: parsed table.
func mustParse(t *testing.T, text string) *Table {
	t.Helper()

	table, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return table
}

// TestParse_ExactEntries verifies plain pairs with comments and blank
// lines skipped, malformed lines ignored, and later duplicates winning.
// Params: testing.T for assertions.
// Returns: none.
func TestParse_ExactEntries(t *testing.T) {
	table := mustParse(t, mapText)

	vo, err := table.Resolve("uscms01")
	if err != nil {
		t.Fatalf("resolve uscms01: %v", err)
	}
	if vo != "cms" {
		t.Fatalf("unexpected VO: %q", vo)
	}

	vo, err = table.Resolve("alice")
	if err != nil {
		t.Fatalf("resolve alice: %v", err)
	}
	if vo != "vo1final" {
		t.Fatalf("expected the later duplicate to win, got: %q", vo)
	}
}

// TestTable_WildcardPatterns verifies pattern fallback in file order
// with exact entries taking precedence.
// Params: testing.T for assertions.
// Returns: none.
func TestTable_WildcardPatterns(t *testing.T) {
	table := mustParse(t, mapText)

	vo, err := table.Resolve("uscms0199")
	if err != nil {
		t.Fatalf("resolve uscms0199: %v", err)
	}
	if vo != "cms" {
		t.Fatalf("unexpected VO for pool account: %q", vo)
	}

	// usatlas* is listed before the broader us* pattern.
	vo, err = table.Resolve("usatlas007")
	if err != nil {
		t.Fatalf("resolve usatlas007: %v", err)
	}
	if vo != "atlas" {
		t.Fatalf("expected first matching pattern, got: %q", vo)
	}

	vo, err = table.Resolve("usother")
	if err != nil {
		t.Fatalf("resolve usother: %v", err)
	}
	if vo != "osg" {
		t.Fatalf("expected broad pattern fallback, got: %q", vo)
	}
}

// TestAccountPattern_Shapes verifies suffix and middle wildcards.
// Params: testing.T for assertions.
// Returns: none.
func TestAccountPattern_Shapes(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"uscms*", "uscms001", true},
		{"uscms*", "atlas001", false},
		{"*prod", "cmsprod", true},
		{"*prod", "cmsproduser", false},
		{"grid*user", "grid42user", true},
		{"grid*user", "griduser", true},
		{"grid*user", "grid42admin", false},
		{"*", "anything", true},
	}

	for _, tc := range cases {
		p := compilePattern(tc.pattern, "vo")
		if got := p.match(tc.name); got != tc.want {
			t.Fatalf("pattern %q against %q: got %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

// TestTable_ResolveNotFound verifies the not-found error identity.
// Params: testing.T for assertions.
// Returns: none.
func TestTable_ResolveNotFound(t *testing.T) {
	table := mustParse(t, "uscms01 cms\n")

	_, err := table.Resolve("nobody")
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	if !strings.Contains(err.Error(), "nobody") {
		t.Fatalf("expected name in error, got: %v", err)
	}
}

// TestLoad_File verifies loading from disk and the size accounting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user-vo-map.txt")
	if err := os.WriteFile(path, []byte("uscms01 cms\nuscms* cms\n"), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Size() != 2 {
		t.Fatalf("unexpected size: %d", table.Size())
	}
}

// TestLoad_MissingFile verifies a clear error for an absent map.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatalf("expected open error")
	}
	if !strings.Contains(err.Error(), "open VO map") {
		t.Fatalf("unexpected error: %v", err)
	}
}
