package builtin

import (
	"context"
	"strings"

	"github.com/nyxforge/codeagent/internal/depgraph"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// NewImpactOf builds the read-only impact_of tool: a shallow, regex-based
// answer to "what else imports this file", layered on the same workspace
// root file_search/grep_search already walk. It is not semantic code
// understanding, matching the textual/regex-only ceiling the tool subsystem
// is scoped to.
func NewImpactOf(validator *sandbox.PathValidator, workspaceRoot string) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "impact_of",
		Description: "List files that appear to import the given file, via a shallow regex import scan (not semantic analysis).",
		Safe:        true,
		Params: []toolkit.Parameter{
			{Name: "path", Type: toolkit.ParamString, Required: true},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		path, _ := params["path"].(string)
		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}
		rel := relativeTo(workspaceRoot, abs)

		graph, err := depgraph.Build(workspaceRoot)
		if err != nil {
			return toolkit.Fail(ioErrorMessage(err)), nil
		}
		importers := graph.ImpactOf(rel)

		return toolkit.Ok(strings.Join(importers, "\n"), map[string]interface{}{
			"count": len(importers),
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
