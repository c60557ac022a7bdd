// Package vomap resolves batch-system account and accounting-group
// names to virtual organizations using the site user-VO map file.
//
// The file carries one "account vo" pair per line, with # comments and
// blank lines ignored. Accounts may contain '*' wildcards to cover
// pool account ranges (uscms* cms); exact entries win over patterns,
// and patterns match in file order.
package vomap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotFound reports a name without a VO mapping.
var ErrNotFound = errors.New("vomap: no mapping")

// Table is an immutable snapshot of the user-VO map. A loaded Table is
// never modified, so any number of readers may share it.
type Table struct {
	exact    map[string]string
	patterns []accountPattern
}

// accountPattern is one compiled wildcard entry from the map file.
type accountPattern struct {
	segments  []string
	openLeft  bool
	openRight bool
	vo        string
}

// compilePattern splits a wildcard account into its literal segments.
// Params: raw account pattern containing '*'; vo mapped organization.
// Returns: compiled pattern.
func compilePattern(raw, vo string) accountPattern {
	var segments []string
	for _, part := range strings.Split(raw, "*") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return accountPattern{
		segments:  segments,
		openLeft:  strings.HasPrefix(raw, "*"),
		openRight: strings.HasSuffix(raw, "*"),
		vo:        vo,
	}
}

// match reports whether name satisfies the pattern. Anchored prefix
// and suffix segments are consumed first, remaining segments must
// appear in order in between.
// Params: name account or group name.
// Returns: true on match.
func (p accountPattern) match(name string) bool {
	segments := p.segments
	if len(segments) == 0 {
		return true
	}

	rest := name
	if !p.openLeft {
		first := segments[0]
		if !strings.HasPrefix(rest, first) {
			return false
		}
		rest = rest[len(first):]
		segments = segments[1:]
	}
	if !p.openRight && len(segments) > 0 {
		last := segments[len(segments)-1]
		if !strings.HasSuffix(rest, last) {
			return false
		}
		rest = rest[:len(rest)-len(last)]
		segments = segments[:len(segments)-1]
	}

	for _, segment := range segments {
		offset := strings.Index(rest, segment)
		if offset < 0 {
			return false
		}
		rest = rest[offset+len(segment):]
	}
	return true
}

// Parse reads user-VO map text into a Table. Lines that are not an
// "account vo" pair are skipped; duplicate accounts keep the later
// entry.
// Params: r provides the map text.
// Returns: parsed table or read error.
func Parse(r io.Reader) (*Table, error) {
	table := &Table{exact: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		account, vo := fields[0], fields[1]

		if strings.Contains(account, "*") {
			table.patterns = append(table.patterns, compilePattern(account, vo))
			continue
		}
		table.exact[account] = vo
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan VO map: %w", err)
	}

	return table, nil
}

// Load reads the map file at path.
// Params: path map file location.
// Returns: parsed table or open/read error.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open VO map: %w", err)
	}
	defer f.Close()

	table, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read VO map %q: %w", path, err)
	}
	return table, nil
}

// Resolve maps an account or group name to its VO. Exact entries win
// over wildcard patterns; patterns match in file order.
// Params: name account or group name.
// Returns: mapped VO, or an error wrapping ErrNotFound.
func (t *Table) Resolve(name string) (string, error) {
	if vo, ok := t.exact[name]; ok {
		return vo, nil
	}
	for _, p := range t.patterns {
		if p.match(name) {
			return p.vo, nil
		}
	}
	return "", fmt.Errorf("%w for %q", ErrNotFound, name)
}

// Size reports the number of loaded entries.
// Params: none.
// Returns: exact plus pattern entry count.
func (t *Table) Size() int {
	return len(t.exact) + len(t.patterns)
}
