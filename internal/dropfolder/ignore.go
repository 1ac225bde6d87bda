package dropfolder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-folder file listing extra ignore patterns.
const IgnoreFileName = ".ingestignore"

// defaultIgnorePatterns cover partial uploads and the ignore file itself.
var defaultIgnorePatterns = []string{IgnoreFileName, "*.tmp", "*.part", "*.crdownload"}

// IgnoreMatcher matches drop-folder file names against glob patterns.
type IgnoreMatcher struct {
	patterns []string
}

// NewIgnoreMatcher creates a matcher from the default patterns plus raw.
// Blank lines and lines starting with '#' are skipped; patterns that
// filepath.Match rejects are dropped.
func NewIgnoreMatcher(raw []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range append(append([]string{}, defaultIgnorePatterns...), raw...) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether the file name should be left alone.
func (m *IgnoreMatcher) Match(name string) bool {
	base := filepath.Base(name)
	for _, p := range m.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads patterns, one per line. A missing file yields no
// patterns and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
