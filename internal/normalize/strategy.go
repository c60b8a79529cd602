package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/reco-agent/backend/pkg/utils"
)

// Kind names the strategy that produced a value.
type Kind string

const (
	KindNone        Kind = ""
	KindStrict      Kind = "strict"
	KindCoerced     Kind = "coerced"
	KindRegex       Kind = "regex"
	KindRawFallback Kind = "raw_fallback"
)

// Strategy extracts the first non-empty field (gjson paths, in priority order) from a
// raw upstream string.
type Strategy struct {
	Kind    Kind
	extract func(raw string, fields []string) (string, bool)
}

func (s Strategy) Extract(raw string, fields []string) (string, bool) {
	return s.extract(strings.TrimSpace(raw), fields)
}

var (
	Strict      = Strategy{Kind: KindStrict, extract: extractStrict}
	Coerced     = Strategy{Kind: KindCoerced, extract: extractCoerced}
	Regex       = Strategy{Kind: KindRegex, extract: extractRegex}
	RawFallback = Strategy{Kind: KindRawFallback, extract: extractRaw}
)

// Chain is the order strategies are tried in.
var Chain = []Strategy{Strict, Coerced, Regex, RawFallback}

// Extract runs the chain and reports which strategy succeeded.
func Extract(raw string, fields []string) (string, Kind) {
	for _, s := range Chain {
		if v, ok := s.Extract(raw, fields); ok {
			return v, s.Kind
		}
	}
	return "", KindNone
}

var (
	// Python literals only in value position, so text like "True to size" survives.
	pyLiteral = regexp.MustCompile(`([:\[,]\s*)(True|False|None)(\s*[,}\]])`)

	noisyKey      = regexp.MustCompile(`'?(?:attributes|location|customAvatar|avatarUrl|displayName)'?\s*:`)
	serializedKey = regexp.MustCompile(`['"][\w.]+['"]\s*:`)
	spaceRun      = regexp.MustCompile(`\s{2,}`)
)

// coerce rewrites a single-quoted pseudo-JSON object with Python literals into JSON.
func coerce(t string) string {
	t = strings.ReplaceAll(t, "'", `"`)
	for {
		next := pyLiteral.ReplaceAllStringFunc(t, func(m string) string {
			parts := pyLiteral.FindStringSubmatch(m)
			return parts[1] + jsonLiterals[parts[2]] + parts[3]
		})
		if next == t {
			return t
		}
		t = next
	}
}

var jsonLiterals = map[string]string{"True": "true", "False": "false", "None": "null"}

// parseObject reads t as a JSON object, strictly or after coercion.
func parseObject(t string) (gjson.Result, Kind, bool) {
	if !strings.HasPrefix(t, "{") {
		return gjson.Result{}, KindNone, false
	}
	if gjson.Valid(t) {
		if r := gjson.Parse(t); r.IsObject() {
			return r, KindStrict, true
		}
	}
	if c := coerce(t); gjson.Valid(c) {
		if r := gjson.Parse(c); r.IsObject() {
			return r, KindCoerced, true
		}
	}
	return gjson.Result{}, KindNone, false
}

func firstString(obj gjson.Result, fields []string) (string, bool) {
	for _, f := range fields {
		v := obj.Get(f)
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func extractStrict(t string, fields []string) (string, bool) {
	if !strings.HasPrefix(t, "{") || !gjson.Valid(t) {
		return "", false
	}
	return firstString(gjson.Parse(t), fields)
}

func extractCoerced(t string, fields []string) (string, bool) {
	if !strings.HasPrefix(t, "{") {
		return "", false
	}
	c := coerce(t)
	if !gjson.Valid(c) {
		return "", false
	}
	return firstString(gjson.Parse(c), fields)
}

var fieldPatterns = map[string]*regexp.Regexp{}

func fieldPattern(name string) *regexp.Regexp {
	if re, ok := fieldPatterns[name]; ok {
		return re
	}
	// a single-quoted value ends at the quote before the next separator, so apostrophes survive
	return regexp.MustCompile(fmt.Sprintf(`['"]%s['"]\s*:\s*(?:'(.+?)'\s*(?:[,}]|$)|"([^"]+)")`, regexp.QuoteMeta(name)))
}

func init() {
	for _, f := range append(append([]string{}, authorFields...), bodyFields...) {
		name := f[strings.LastIndex(f, ".")+1:]
		fieldPatterns[name] = fieldPattern(name)
	}
}

func extractRegex(t string, fields []string) (string, bool) {
	if !strings.Contains(t, "{") {
		return "", false
	}
	for _, f := range fields {
		name := f[strings.LastIndex(f, ".")+1:]
		m := fieldPattern(name).FindStringSubmatch(t)
		if m == nil {
			continue
		}
		v := m[1]
		if v == "" {
			v = m[2]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

// extractRaw drops a leading balanced object and keeps the text after it; otherwise it
// removes serialized objects from anywhere in the text.
func extractRaw(t string, _ []string) (string, bool) {
	if t == "" {
		return "", false
	}
	if strings.HasPrefix(t, "{") {
		if end := balancedEnd(t); end > 0 {
			if rest := strings.TrimSpace(t[end+1:]); rest != "" {
				return utils.CollapseSpaces(rest), true
			}
		}
	}
	s := dropSerializedObjects(t)
	s = dropUnmatchedClosers(s)
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	return s, s != ""
}

// dropSerializedObjects removes every balanced {...} span that carries a quoted key or a
// known noisy key, nested objects included. Other braces are kept.
func dropSerializedObjects(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '{' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := balancedEnd(s[i:])
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		span := s[i : i+end+1]
		if !noisyKey.MatchString(span) && !serializedKey.MatchString(span) {
			b.WriteString(span)
		}
		i += end + 1
	}
	return b.String()
}

// dropUnmatchedClosers removes '}' that have no opening brace.
func dropUnmatchedClosers(s string) string {
	var b strings.Builder
	depth := 0
	for _, ch := range s {
		switch ch {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// balancedEnd returns the index of the brace closing t[0], or -1.
func balancedEnd(t string) int {
	depth := 0
	for i, ch := range t {
		switch ch {
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
