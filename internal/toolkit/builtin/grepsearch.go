package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

const (
	grepMaxMatches  = 200
	grepMaxLineChar = 500
)

// NewGrepSearch builds the grep_search tool (§4.H).
func NewGrepSearch(validator *sandbox.PathValidator) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "grep_search",
		Description: "Search file contents within the workspace using a regular expression.",
		Safe:        true,
		Params: []toolkit.Parameter{
			{Name: "pattern", Type: toolkit.ParamString, Required: true},
			{Name: "path", Type: toolkit.ParamString, Required: false, Default: "."},
			{Name: "include", Type: toolkit.ParamString, Required: false},
			{Name: "fixed_strings", Type: toolkit.ParamBoolean, Required: false},
			{Name: "case_sensitive", Type: toolkit.ParamBoolean, Required: false},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		pattern, _ := params["pattern"].(string)
		path, _ := params["path"].(string)
		if path == "" {
			path = "."
		}
		include, _ := params["include"].(string)
		fixedStrings, _ := params["fixed_strings"].(bool)
		caseSensitive, _ := params["case_sensitive"].(bool)

		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}

		exprSrc := pattern
		if fixedStrings {
			exprSrc = regexp.QuoteMeta(pattern)
		}
		if !caseSensitive {
			exprSrc = "(?i)" + exprSrc
		}
		re, err := regexp.Compile(exprSrc)
		if err != nil {
			return toolkit.Fail("PatchFormat: invalid pattern: " + err.Error()), nil
		}

		var includeGlobs []string
		if include != "" {
			for _, g := range strings.Split(include, ",") {
				g = strings.TrimSpace(g)
				if g != "" {
					includeGlobs = append(includeGlobs, g)
				}
			}
		}

		var b strings.Builder
		matches := 0
		truncated := false

		walkErr := filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
			if err != nil || matches >= grepMaxMatches {
				if matches >= grepMaxMatches {
					return filepath.SkipAll
				}
				return nil
			}
			if info.IsDir() {
				if excludedDirs[info.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if binaryExtensions[strings.ToLower(filepath.Ext(p))] {
				return nil
			}
			if len(includeGlobs) > 0 {
				match := false
				for _, g := range includeGlobs {
					if matchGlob(g, info.Name()) {
						match = true
						break
					}
				}
				if !match {
					return nil
				}
			}

			data, err := os.ReadFile(p)
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(abs, p)
			for lineNo, line := range strings.Split(string(data), "\n") {
				if matches >= grepMaxMatches {
					truncated = true
					return filepath.SkipAll
				}
				if re.MatchString(line) {
					display := line
					if len(display) > grepMaxLineChar {
						display = display[:grepMaxLineChar]
					}
					fmt.Fprintf(&b, "%s:%d: %s\n", rel, lineNo+1, display)
					matches++
				}
			}
			return nil
		})
		if walkErr != nil {
			return toolkit.Fail(ioErrorMessage(walkErr)), nil
		}

		return toolkit.Ok(b.String(), map[string]interface{}{
			"matches":   matches,
			"truncated": truncated,
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
