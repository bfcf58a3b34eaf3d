package toolkit

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	actionOpen   = "<action>"
	actionClose  = "</action>"
	invokeOpen   = `<invoke tool="`
	invokeClose  = "</invoke>"
	paramOpenPre = `<param name="`
	paramClose   = "</param>"
)

// Parser extracts an ordered list of tool calls from free-form model output,
// tolerating malformed blocks by skipping them with a warning rather than
// aborting the whole parse.
type Parser struct {
	registry *Registry
}

// NewParser builds a parser that consults registry for parameter type
// declarations when decoding raw string values.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse returns the ordered tool calls found in text plus the residual text
// with all <action>...</action> blocks removed.
func (p *Parser) Parse(text string) ([]Call, string) {
	var calls []Call
	var residual strings.Builder

	rest := text
	for {
		start := strings.Index(rest, actionOpen)
		if start == -1 {
			residual.WriteString(rest)
			break
		}
		residual.WriteString(rest[:start])
		afterOpen := rest[start+len(actionOpen):]
		end := strings.Index(afterOpen, actionClose)
		if end == -1 {
			// Unterminated action block: keep as residual text, stop scanning.
			log.Warn().Msg("toolkit/parser: unterminated <action> block, treating remainder as text")
			residual.WriteString(rest[start:])
			break
		}
		block := afterOpen[:end]
		calls = append(calls, p.parseInvokes(block)...)
		rest = afterOpen[end+len(actionClose):]
	}

	return calls, strings.TrimSpace(residual.String())
}

func (p *Parser) parseInvokes(block string) []Call {
	var calls []Call
	rest := block
	for {
		start := strings.Index(rest, invokeOpen)
		if start == -1 {
			return calls
		}
		afterOpen := rest[start+len(invokeOpen):]
		quoteEnd := strings.IndexByte(afterOpen, '"')
		if quoteEnd == -1 {
			log.Warn().Msg("toolkit/parser: malformed <invoke> tag, skipping")
			return calls
		}
		name := afterOpen[:quoteEnd]
		tagRest := afterOpen[quoteEnd:]
		bodyStart := strings.IndexByte(tagRest, '>')
		if bodyStart == -1 {
			log.Warn().Str("tool", name).Msg("toolkit/parser: unclosed <invoke> opening tag, skipping")
			return calls
		}
		body := tagRest[bodyStart+1:]
		closeIdx := strings.Index(body, invokeClose)
		if closeIdx == -1 {
			log.Warn().Str("tool", name).Msg("toolkit/parser: unclosed </invoke>, skipping block")
			return calls
		}
		params := p.parseParams(body[:closeIdx], name)
		calls = append(calls, Call{Name: name, Params: params})
		rest = body[closeIdx+len(invokeClose):]
	}
}

func (p *Parser) parseParams(body, toolName string) map[string]interface{} {
	params := map[string]interface{}{}
	var def Definition
	if p.registry != nil {
		if t, ok := p.registry.Get(toolName); ok {
			def = t.Definition
		}
	}

	rest := body
	for {
		start := strings.Index(rest, paramOpenPre)
		if start == -1 {
			return params
		}
		afterOpen := rest[start+len(paramOpenPre):]
		quoteEnd := strings.IndexByte(afterOpen, '"')
		if quoteEnd == -1 {
			log.Warn().Msg("toolkit/parser: malformed <param> tag, skipping")
			return params
		}
		name := afterOpen[:quoteEnd]
		tagRest := afterOpen[quoteEnd:]
		bodyStart := strings.IndexByte(tagRest, '>')
		if bodyStart == -1 {
			log.Warn().Str("param", name).Msg("toolkit/parser: unclosed <param> opening tag, skipping")
			return params
		}
		valueAndRest := tagRest[bodyStart+1:]
		closeIdx := strings.Index(valueAndRest, paramClose)
		if closeIdx == -1 {
			log.Warn().Str("param", name).Msg("toolkit/parser: unclosed </param>, skipping remaining params")
			return params
		}
		raw := valueAndRest[:closeIdx]
		ptype := ParamString
		if pdef, ok := def.Param(name); ok {
			ptype = pdef.Type
		}
		params[name] = decodeValue(raw, ptype)
		rest = valueAndRest[closeIdx+len(paramClose):]
	}
}

// Render is the inverse of Parse for a single call: it renders the tag form
// used by the round-trip invariant (§8 Testable Properties). Values must not
// contain the literal "</param>".
func Render(calls []Call) string {
	var b strings.Builder
	b.WriteString(actionOpen)
	b.WriteByte('\n')
	for _, c := range calls {
		b.WriteString(`<invoke tool="`)
		b.WriteString(c.Name)
		b.WriteString("\">\n")
		for k, v := range c.Params {
			b.WriteString(`  <param name="`)
			b.WriteString(k)
			b.WriteString(`">`)
			b.WriteString(toParamString(v))
			b.WriteString(paramClose)
			b.WriteByte('\n')
		}
		b.WriteString(invokeClose)
		b.WriteByte('\n')
	}
	b.WriteString(actionClose)
	return b.String()
}

func toParamString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
