// Package substitution implements the routing-descriptor template grammar
// from spec §4.S: value lookup, defaults, environment lookup, ternary, and
// {{#each}} iteration. It is a small hand-written recursive-descent
// scanner/parser producing a tiny AST; there is no runtime expression
// evaluator and no third-party templating dependency, matching the
// teacher's own hand-rolled URI/template helpers (internal/mcp/uri) rather
// than pulling in text/template or a general expression engine that
// neither the teacher nor the pack reach for here.
package substitution

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// Params is the JSON object the template renders against.
type Params map[string]interface{}

// Template is a parsed, reusable template. Parsing happens once; Render may
// be called repeatedly against different parameter objects.
type Template struct {
	nodes []node
}

// Parse scans tmpl into a Template. A malformed tag (unterminated {{, or a
// dangling #each without a matching /each) is a parse-time error.
func Parse(tmpl string) (*Template, error) {
	s := &scanner{src: tmpl}
	nodes, err := s.parseNodes(false)
	if err != nil {
		return nil, err
	}
	return &Template{nodes: nodes}, nil
}

// Render renders tmpl against params and the process environment in one
// call, for callers that don't need to reuse a parsed template.
func Render(tmpl string, params Params) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return t.Render(params)
}

func (t *Template) Render(params Params) (string, error) {
	var sb strings.Builder
	if err := renderNodes(t.nodes, params, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// --- AST ---

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeValue
	nodeDefault
	nodeEnv
	nodeTernary
	nodeEach
	nodeThis
)

type node struct {
	kind   nodeKind
	text   string // nodeText literal, nodeValue/nodeEnv/nodeEach path, nodeThis sub-path
	def    string // nodeDefault literal default
	cond   string // nodeTernary condition path
	whenT  string
	whenF  string
	body   []node // nodeEach body
}

// --- scanner/parser ---

type scanner struct {
	src string
	pos int
}

// parseNodes consumes text and {{...}} tags until end of input or, when
// inEach is true, until it consumes a matching {{/each}}.
func (s *scanner) parseNodes(inEach bool) ([]node, error) {
	var out []node
	for s.pos < len(s.src) {
		open := strings.Index(s.src[s.pos:], "{{")
		if open < 0 {
			out = append(out, node{kind: nodeText, text: s.src[s.pos:]})
			s.pos = len(s.src)
			break
		}
		if open > 0 {
			out = append(out, node{kind: nodeText, text: s.src[s.pos : s.pos+open]})
		}
		s.pos += open
		closeIdx := strings.Index(s.src[s.pos:], "}}")
		if closeIdx < 0 {
			return nil, mcperr.New(mcperr.KindSubstitution, "unterminated {{ tag")
		}
		tag := strings.TrimSpace(s.src[s.pos+2 : s.pos+closeIdx])
		s.pos += closeIdx + 2

		switch {
		case tag == "/each":
			if !inEach {
				return nil, mcperr.New(mcperr.KindSubstitution, "unexpected {{/each}} without matching #each")
			}
			return out, nil
		case strings.HasPrefix(tag, "#each "):
			path := strings.TrimSpace(strings.TrimPrefix(tag, "#each "))
			body, err := s.parseNodes(true)
			if err != nil {
				return nil, err
			}
			out = append(out, node{kind: nodeEach, text: path, body: body})
		case tag == "this" || strings.HasPrefix(tag, "this."):
			sub := strings.TrimPrefix(strings.TrimPrefix(tag, "this"), ".")
			out = append(out, node{kind: nodeThis, text: sub})
		case strings.HasPrefix(tag, "env."):
			out = append(out, node{kind: nodeEnv, text: strings.TrimPrefix(tag, "env.")})
		case isTernary(tag):
			cond, whenT, whenF, err := splitTernary(tag)
			if err != nil {
				return nil, err
			}
			out = append(out, node{kind: nodeTernary, cond: cond, whenT: whenT, whenF: whenF})
		case strings.Contains(tag, "||"):
			idx := strings.Index(tag, "||")
			out = append(out, node{
				kind: nodeDefault,
				text: strings.TrimSpace(tag[:idx]),
				def:  unquote(strings.TrimSpace(tag[idx+2:])),
			})
		default:
			out = append(out, node{kind: nodeValue, text: tag})
		}
	}
	if inEach {
		return nil, mcperr.New(mcperr.KindSubstitution, "missing {{/each}}")
	}
	return out, nil
}

func isTernary(tag string) bool {
	q := strings.Index(tag, "?")
	return q > 0 && strings.Contains(tag[q:], ":")
}

func splitTernary(tag string) (cond, whenT, whenF string, err error) {
	qIdx := strings.Index(tag, "?")
	cond = strings.TrimSpace(tag[:qIdx])
	rest := tag[qIdx+1:]
	cIdx := strings.Index(rest, ":")
	if cIdx < 0 {
		return "", "", "", mcperr.New(mcperr.KindSubstitution, "malformed ternary, missing ':'")
	}
	whenT = unquote(strings.TrimSpace(rest[:cIdx]))
	whenF = unquote(strings.TrimSpace(rest[cIdx+1:]))
	return cond, whenT, whenF, nil
}

// --- rendering ---

func renderNodes(nodes []node, params Params, sb *strings.Builder) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			sb.WriteString(n.text)
		case nodeValue:
			v, ok := lookup(params, n.text)
			if !ok {
				return mcperr.New(mcperr.KindSubstitution, fmt.Sprintf("missing required value %q", n.text))
			}
			sb.WriteString(stringify(v))
		case nodeDefault:
			if v, ok := lookup(params, n.text); ok {
				sb.WriteString(stringify(v))
			} else {
				sb.WriteString(n.def)
			}
		case nodeEnv:
			sb.WriteString(os.Getenv(n.text))
		case nodeThis:
			v, ok := lookup(params, "this")
			if !ok {
				return mcperr.New(mcperr.KindSubstitution, "{{this}} used outside #each")
			}
			if n.text != "" {
				v, ok = lookup(Params{"this": v}, "this."+n.text)
				if !ok {
					return mcperr.New(mcperr.KindSubstitution, fmt.Sprintf("missing {{this.%s}}", n.text))
				}
			}
			sb.WriteString(stringify(v))
		case nodeTernary:
			if truthy(params, n.cond) {
				sb.WriteString(n.whenT)
			} else {
				sb.WriteString(n.whenF)
			}
		case nodeEach:
			v, ok := lookup(params, n.text)
			if !ok {
				return mcperr.New(mcperr.KindSubstitution, fmt.Sprintf("#each: path %q not found", n.text))
			}
			arr, ok := v.([]interface{})
			if !ok {
				return mcperr.New(mcperr.KindSubstitution, fmt.Sprintf("#each: %q is not an array", n.text))
			}
			for _, el := range arr {
				scoped := make(Params, len(params)+1)
				for k, v := range params {
					scoped[k] = v
				}
				scoped["this"] = el
				if err := renderNodes(n.body, scoped, sb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func truthy(params Params, path string) bool {
	v, ok := lookup(params, path)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

// lookup resolves a dotted JSON path against params.
func lookup(params Params, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(params)
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
