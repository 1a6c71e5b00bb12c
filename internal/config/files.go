package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is one batch program: a design file and its optional testbench.
type Source struct {
	Design    string `json:"design"`
	Testbench string `json:"testbench,omitempty"`
}

// Name returns the design file name without its extension.
func (s Source) Name() string {
	base := filepath.Base(s.Design)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// testbenchSuffix marks a file as the testbench of the design with the
// same name without the suffix.
const testbenchSuffix = "_tb"

// ResolveSources expands the include patterns under rootPath, removes
// excluded files and pairs every design with its testbench. A testbench
// without a matching design is run on its own. Sources are sorted by path.
func (c *Config) ResolveSources(rootPath string) ([]Source, error) {
	include := c.Analysis.Include
	if len(include) == 0 {
		include = defaultInclude
	}

	fileSet := make(map[string]bool)
	for _, pattern := range include {
		// Make pattern absolute if relative
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(rootPath, pattern)
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			// Silently skip invalid patterns
			continue
		}

		for _, match := range matches {
			if isHDLFile(match) {
				fileSet[match] = true
			}
		}
	}

	// Remove excluded files
	for _, pattern := range c.Analysis.Exclude {
		abs := pattern
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(rootPath, abs)
		}
		matches, err := expandGlob(abs)
		if err == nil {
			for _, match := range matches {
				delete(fileSet, match)
			}
		}
	}
	for f := range fileSet {
		if c.ShouldExclude(f) {
			delete(fileSet, f)
		}
	}

	designs := make(map[string]*Source)
	var testbenches []string
	for f := range fileSet {
		ext := filepath.Ext(f)
		stem := strings.TrimSuffix(f, ext)
		if strings.HasSuffix(stem, testbenchSuffix) {
			testbenches = append(testbenches, f)
			continue
		}
		designs[stem] = &Source{Design: f}
	}
	sort.Strings(testbenches)
	for _, tb := range testbenches {
		stem := strings.TrimSuffix(strings.TrimSuffix(tb, filepath.Ext(tb)), testbenchSuffix)
		if d, ok := designs[stem]; ok && d.Testbench == "" {
			d.Testbench = tb
			continue
		}
		designs[tb] = &Source{Design: tb}
	}

	result := make([]Source, 0, len(designs))
	for _, d := range designs {
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Design < result[j].Design })
	return result, nil
}

func isHDLFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".v", ".sv":
		return true
	}
	return false
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	// Check if pattern contains **
	if strings.Contains(pattern, "**") {
		return expandDoubleStarGlob(pattern)
	}

	// Simple glob
	return filepath.Glob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	var results []string

	// Split pattern at **
	parts := strings.SplitN(pattern, "**", 2)
	if len(parts) != 2 {
		return filepath.Glob(pattern)
	}

	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := parts[1]
	if strings.HasPrefix(suffix, string(filepath.Separator)) {
		suffix = suffix[1:]
	}

	// Walk the directory tree
	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}

		if info.IsDir() {
			return nil
		}

		// Check if file matches the suffix pattern
		if suffix == "" {
			results = append(results, path)
			return nil
		}

		// Build the pattern for this specific path
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}

		// Try to match the suffix pattern against the relative path
		if matchSuffix(relPath, suffix) {
			results = append(results, path)
		}

		return nil
	})

	return results, err
}

// matchSuffix checks if a path matches a suffix pattern (after **)
func matchSuffix(path, pattern string) bool {
	// Handle patterns like "/*.vhd" or "*.vhd"
	pattern = strings.TrimPrefix(pattern, string(filepath.Separator))

	// If pattern has no directory component, match against filename
	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	// For patterns with directory components, try matching
	matched, _ := filepath.Match(pattern, path)
	if matched {
		return true
	}

	// Also try matching just the suffix
	if len(path) > len(pattern) {
		suffix := path[len(path)-len(pattern):]
		matched, _ = filepath.Match(pattern, suffix)
		return matched
	}

	return false
}
