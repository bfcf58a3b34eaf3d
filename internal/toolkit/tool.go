// Package toolkit implements the typed tool registry, parser, and executor
// that let the orchestrator drive side-effecting operations against the
// workspace under a configurable approval policy.
package toolkit

import "context"

// ParamType is the semantic type of a declared tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// Parameter describes one named input a tool accepts.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     interface{}
}

// Definition is the typed, serializable description of a tool: its name,
// human-readable description, parameter list, and safety classification.
type Definition struct {
	Name        string
	Description string
	Params      []Parameter
	// Safe marks a pure read-only, side-effect-free operation. Safe tools
	// bypass interactive approval in review mode.
	Safe bool
}

// Param looks up a declared parameter by name.
func (d Definition) Param(name string) (Parameter, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Result is the sum type every handler resolves to: either Success or
// Failure, never both.
type Result struct {
	Success  bool
	Output   string
	Metadata map[string]interface{}
	Error    string
}

// Ok builds a successful result.
func Ok(output string, metadata map[string]interface{}) Result {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return Result{Success: true, Output: output, Metadata: metadata}
}

// Fail builds a failed result.
func Fail(errText string) Result {
	return Result{Success: false, Error: errText}
}

// Handler executes a tool call against validated parameters. It must never
// panic; any low-level error is converted into Result.Failure at the
// handler boundary.
type Handler func(ctx context.Context, params map[string]interface{}) (Result, error)

// Tool pairs a Definition with its Handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

func (t Tool) Name() string { return t.Definition.Name }
