package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/metrics"
)

// ErrUndecodable is returned when neither decoding stage finds any field.
var ErrUndecodable = errors.New("oracle response has no recognizable fields")

// Fields is a decoded oracle reply. Keys are matched ignoring case, spaces
// and underscores, so "Element Id", "element_id" and "ElementID" are equal.
type Fields map[string]string

// Get returns the value for key.
func (f Fields) Get(key string) (string, bool) {
	v, ok := f[fieldKey(key)]
	return v, ok
}

// First returns the value of the first key present.
func (f Fields) First(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := f.Get(k); ok {
			return v, true
		}
	}
	return "", false
}

func fieldKey(k string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(k)))
}

// Decoder turns raw oracle text into Fields in two stages: a strict JSON
// stage over the first object in the text, then a "key": value fallback.
type Decoder struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Decode decodes raw with a default decoder.
func Decode(kind Kind, raw string) (Fields, error) {
	return (&Decoder{}).Decode(kind, raw)
}

// Decode runs both stages. Every use of the fallback stage is logged.
func (d *Decoder) Decode(kind Kind, raw string) (Fields, error) {
	fields, strictErr := decodeStrict(raw)
	if strictErr == nil {
		return fields, nil
	}

	fields = decodePairs(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("decode %s: %w: %v", kind, ErrUndecodable, strictErr)
	}
	logging.OrDefault(d.Logger).Warn("oracle response recovered by fallback decoder",
		"kind", kind, "strict_error", strictErr.Error(), "fields", len(fields))
	d.Metrics.DecodeFallback(string(kind))
	return fields, nil
}

func decodeStrict(raw string) (Fields, error) {
	obj, err := firstObject(stripFences(raw))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	fields := make(Fields, len(m))
	for k, v := range m {
		fields[fieldKey(k)] = stringify(v)
	}
	return fields, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, "; ")
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// firstObject returns the first balanced {...} in s, honoring strings.
func firstObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no json object")
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unterminated json object")
}

// pairPattern is the fallback grammar: a quoted key, a colon, then either a
// quoted string (with escapes) or a bare number.
var pairPattern = regexp.MustCompile(`"([^"\n]+)"\s*:\s*(?:"((?:[^"\\]|\\.)*)"|(-?\d+(?:\.\d+)?))`)

func decodePairs(raw string) Fields {
	matches := pairPattern.FindAllStringSubmatch(raw, -1)
	fields := make(Fields, len(matches))
	for _, m := range matches {
		key := fieldKey(m[1])
		if _, seen := fields[key]; seen {
			continue
		}
		if m[3] != "" {
			fields[key] = m[3]
			continue
		}
		v, err := strconv.Unquote(`"` + m[2] + `"`)
		if err != nil {
			v = m[2]
		}
		fields[key] = v
	}
	return fields
}
