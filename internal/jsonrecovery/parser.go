// Package jsonrecovery pulls a JSON object out of free-form model output.
package jsonrecovery

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/metrics"
)

// Strategy is one recovery attempt. Apply returns ok=false when it could not
// produce a non-empty object.
type Strategy struct {
	Name  string
	Apply func(text string) (map[string]interface{}, bool)
}

type Parser struct {
	log        logger.Logger
	strategies []Strategy
}

var (
	fencePattern         = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\\r?\\n?(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyPattern       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)(\s*:)`)
	pythonLiteralPattern = regexp.MustCompile(`([:\[,]\s*)(True|False|None)\b`)
	danglingKeyPattern   = regexp.MustCompile(`,?\s*"(?:[^"\\]|\\.)*"\s*:\s*$`)
	orphanKeyPattern     = regexp.MustCompile(`([{,])\s*"(?:[^"\\]|\\.)*"\s*$`)
)

func New(log logger.Logger) *Parser {
	p := &Parser{log: logger.Component(log, "json-recovery")}
	p.strategies = []Strategy{
		{Name: "verbatim", Apply: parseVerbatim},
		{Name: "fenced_block", Apply: parseFenced},
		{Name: "balanced_object", Apply: parseBalanced},
		{Name: "truncation_repair", Apply: parseTruncated},
		{Name: "aggressive_repair", Apply: parseAggressive},
	}
	return p
}

// Parse returns the first non-empty object any strategy recovers, or an
// empty map. It never panics.
func (p *Parser) Parse(text string) map[string]interface{} {
	out, _ := p.ParseWithStrategy(text)
	return out
}

// ParseWithStrategy is Parse plus the name of the winning strategy ("none"
// when nothing was recovered).
func (p *Parser) ParseWithStrategy(text string) (map[string]interface{}, string) {
	if strings.TrimSpace(text) == "" {
		metrics.JSONRecoveryStrategy.WithLabelValues("none").Inc()
		p.log.Debug("empty input", nil)
		return map[string]interface{}{}, "none"
	}

	if wellFormedNonObject(text) {
		metrics.JSONRecoveryStrategy.WithLabelValues("none").Inc()
		p.log.Warn("model returned well-formed json that is not an object", map[string]interface{}{
			"preview": preview(text, 120),
		})
		return map[string]interface{}{}, "none"
	}

	for _, s := range p.strategies {
		result, ok := attempt(s, text)
		if ok {
			metrics.JSONRecoveryStrategy.WithLabelValues(s.Name).Inc()
			p.log.Debug("json recovered", map[string]interface{}{
				"strategy": s.Name,
				"keys":     len(result),
			})
			return result, s.Name
		}
		p.log.Debug("strategy failed", map[string]interface{}{"strategy": s.Name})
	}

	metrics.JSONRecoveryStrategy.WithLabelValues("none").Inc()
	p.log.Warn("no strategy recovered a json object", map[string]interface{}{
		"input_length": len(text),
		"preview":      preview(text, 120),
	})
	return map[string]interface{}{}, "none"
}

func attempt(s Strategy, text string) (result map[string]interface{}, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			result, ok = nil, false
		}
	}()
	result, ok = s.Apply(text)
	if ok && len(result) == 0 {
		return nil, false
	}
	return result, ok
}

// decodeObject accepts an object or a single-element array holding an object.
func decodeObject(s string) (map[string]interface{}, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return asObject(v)
}

// wellFormedNonObject reports valid JSON that is neither an object nor a
// single-object array. Repairing it would only pick fragments out of it.
func wellFormedNonObject(text string) bool {
	var v interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return false
	case []interface{}:
		if len(t) == 1 {
			_, ok := t[0].(map[string]interface{})
			return !ok
		}
	}
	return true
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, len(t) > 0
	case []interface{}:
		if len(t) == 1 {
			if m, ok := t[0].(map[string]interface{}); ok {
				return m, len(m) > 0
			}
		}
	}
	return nil, false
}

func decodeLenient(s string) (map[string]interface{}, bool) {
	if m, ok := decodeObject(s); ok {
		return m, true
	}
	return decodeObject(StripTrailingCommas(s))
}

func parseVerbatim(text string) (map[string]interface{}, bool) {
	return decodeObject(text)
}

func parseFenced(text string) (map[string]interface{}, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if obj, ok := decodeLenient(m[1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func parseBalanced(text string) (map[string]interface{}, bool) {
	start := 0
	for tries := 0; tries < 8; tries++ {
		idx := strings.IndexByte(text[start:], '{')
		if idx < 0 {
			return nil, false
		}
		idx += start
		end := matchingBrace(text, idx)
		if end < 0 {
			// unclosed; everything after is nested inside it
			return nil, false
		}
		if obj, ok := decodeLenient(text[idx : end+1]); ok {
			return obj, true
		}
		start = end + 1
	}
	return nil, false
}

func parseTruncated(text string) (map[string]interface{}, bool) {
	idx := strings.IndexByte(text, '{')
	if idx < 0 {
		return nil, false
	}
	return decodeObject(Rebalance(StripTrailingCommas(text[idx:])))
}

func parseAggressive(text string) (map[string]interface{}, bool) {
	idx := strings.IndexByte(text, '{')
	if idx < 0 {
		return nil, false
	}
	s := text[idx:]
	s = bareKeyPattern.ReplaceAllString(s, `$1"$2"$3`)
	s = pythonLiteralPattern.ReplaceAllStringFunc(s, func(m string) string {
		switch {
		case strings.HasSuffix(m, "True"):
			return strings.TrimSuffix(m, "True") + "true"
		case strings.HasSuffix(m, "False"):
			return strings.TrimSuffix(m, "False") + "false"
		default:
			return strings.TrimSuffix(m, "None") + "null"
		}
	})
	return decodeObject(Rebalance(StripTrailingCommas(s)))
}

// matchingBrace returns the index of the brace closing the one at start,
// ignoring braces inside strings, or -1.
func matchingBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// StripTrailingCommas removes commas directly before a closing bracket and
// at the very end of the text.
func StripTrailingCommas(s string) string {
	s = trailingCommaPattern.ReplaceAllString(s, "$1")
	return strings.TrimRight(strings.TrimRight(s, " \t\r\n"), ",")
}

// Rebalance closes an unterminated string, inserts closers for brackets left
// open (including ones a mismatched closer skips over) and drops anything
// after the root value closes.
func Rebalance(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	stack := make([]byte, 0, 16)
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			b.WriteByte(c)
		case '}', ']':
			opener := byte('{')
			if c == ']' {
				opener = '['
			}
			if !contains(stack, opener) {
				continue
			}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				b.WriteByte(closerFor(top))
				if top == opener {
					break
				}
			}
			if len(stack) == 0 {
				return b.String()
			}
		default:
			b.WriteByte(c)
		}
	}

	out := b.String()
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	if len(stack) > 0 {
		out = trimDangling(out, stack[len(stack)-1])
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(closerFor(stack[i]))
	}
	return out
}

func trimDangling(s string, top byte) string {
	for {
		before := s
		s = strings.TrimRight(s, " \t\r\n")
		s = strings.TrimRight(s, ",")
		s = danglingKeyPattern.ReplaceAllString(s, "")
		if top == '{' {
			s = orphanKeyPattern.ReplaceAllString(s, "$1")
		}
		if s == before {
			return s
		}
	}
}

func contains(stack []byte, c byte) bool {
	for _, x := range stack {
		if x == c {
			return true
		}
	}
	return false
}

func closerFor(opener byte) byte {
	if opener == '[' {
		return ']'
	}
	return '}'
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
