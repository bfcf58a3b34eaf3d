// Package depgraph builds a shallow, regex-based import graph over a
// workspace so the agent can answer "what would break if I change this
// file" without semantic code understanding — spec's non-goal explicitly
// excludes anything more (regex/textual search is the ceiling).
package depgraph

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// importPatterns maps a file extension to the regex that extracts the
// module/path token from one import statement in that language. Each
// pattern's first capture group is the imported path.
var importPatterns = map[string]*regexp.Regexp{
	".go": regexp.MustCompile(`(?m)^\s*(?:_ |[a-zA-Z0-9_]+ )?"([^"]+)"\s*$`),
	".js": regexp.MustCompile(`(?m)(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`),
	".ts": regexp.MustCompile(`(?m)(?:import\s+.*?from\s+|require\()\s*['"]([^'"]+)['"]`),
	".py": regexp.MustCompile(`(?m)^\s*(?:from\s+([.\w]+)\s+import|import\s+([.\w]+))`),
}

var excludedDirNames = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true, "__pycache__": true,
}

// Graph maps a workspace-relative file path to the set of workspace-relative
// paths it appears to import, and the reverse edge for impact queries.
type Graph struct {
	root      string
	imports   map[string][]string
	importers map[string][]string
}

// Build walks root and extracts an import graph via language-specific
// regexes. It never parses an AST and never resolves imports against a
// module cache; unresolved import tokens are still recorded so `impact_of`
// can match on partial paths.
func Build(root string) (*Graph, error) {
	g := &Graph{root: root, imports: map[string][]string{}, importers: map[string][]string{}}

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if excludedDirNames[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		pattern, ok := importPatterns[strings.ToLower(filepath.Ext(p))]
		if !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		for _, match := range pattern.FindAllStringSubmatch(string(data), -1) {
			token := firstNonEmpty(match[1:])
			if token == "" {
				continue
			}
			g.imports[rel] = append(g.imports[rel], token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.buildReverseEdges()
	return g, nil
}

func firstNonEmpty(candidates []string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// buildReverseEdges matches recorded import tokens against known file paths
// by suffix, since raw import tokens ("./lib/foo", "internal/foo") rarely
// equal a workspace-relative path verbatim.
func (g *Graph) buildReverseEdges() {
	files := make([]string, 0, len(g.imports))
	for f := range g.imports {
		files = append(files, f)
	}
	for importer, tokens := range g.imports {
		for _, tok := range tokens {
			base := strings.TrimSuffix(filepath.Base(tok), filepath.Ext(tok))
			for _, candidate := range files {
				candidateBase := strings.TrimSuffix(filepath.Base(candidate), filepath.Ext(candidate))
				if candidateBase == base && candidate != importer {
					g.importers[candidate] = append(g.importers[candidate], importer)
				}
			}
		}
	}
	for k := range g.importers {
		sort.Strings(g.importers[k])
	}
}

// ImpactOf returns the workspace-relative paths whose import token appears
// to reference target, i.e. the set of files that would need re-checking if
// target's exported surface changed.
func (g *Graph) ImpactOf(target string) []string {
	target = filepath.Clean(target)
	if importers, ok := g.importers[target]; ok {
		return importers
	}
	base := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	seen := map[string]bool{}
	var out []string
	for importer, tokens := range g.imports {
		for _, tok := range tokens {
			if strings.TrimSuffix(filepath.Base(tok), filepath.Ext(tok)) == base && !seen[importer] {
				seen[importer] = true
				out = append(out, importer)
			}
		}
	}
	sort.Strings(out)
	return out
}
