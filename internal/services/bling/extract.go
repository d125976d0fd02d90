package bling

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// extractor reads one candidate location of a logical field.
type extractor func(raw map[string]interface{}) (interface{}, bool)

// at walks nested objects; numeric keys index into arrays.
func at(keys ...string) extractor {
	return func(raw map[string]interface{}) (interface{}, bool) {
		var cur interface{} = raw
		for _, k := range keys {
			switch node := cur.(type) {
			case map[string]interface{}:
				v, ok := node[k]
				if !ok {
					return nil, false
				}
				cur = v
			case []interface{}:
				i, err := strconv.Atoi(k)
				if err != nil || i < 0 || i >= len(node) {
					return nil, false
				}
				cur = node[i]
			default:
				return nil, false
			}
		}
		if cur == nil {
			return nil, false
		}
		return cur, true
	}
}

// scalarAt is like at but rejects objects and arrays, so a flat field and a
// nested object under the same key are told apart.
func scalarAt(keys ...string) extractor {
	get := at(keys...)
	return func(raw map[string]interface{}) (interface{}, bool) {
		v, ok := get(raw)
		if !ok {
			return nil, false
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return nil, false
		}
		return v, true
	}
}

// nonEmptyAt only accepts non-blank strings.
func nonEmptyAt(keys ...string) extractor {
	get := at(keys...)
	return func(raw map[string]interface{}) (interface{}, bool) {
		v, ok := get(raw)
		if !ok {
			return nil, false
		}
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return nil, false
		}
		return strings.TrimSpace(s), true
	}
}

// sumOver adds field across every element of the list under listKey.
func sumOver(listKey, field string) extractor {
	return func(raw map[string]interface{}) (interface{}, bool) {
		list, ok := raw[listKey].([]interface{})
		if !ok {
			return nil, false
		}
		total := 0.0
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				total += ParseDecimal(m[field])
			}
		}
		return total, true
	}
}

func firstOf(raw map[string]interface{}, chain ...extractor) (interface{}, bool) {
	for _, ex := range chain {
		if v, ok := ex(raw); ok {
			return v, true
		}
	}
	return nil, false
}

// ParseDecimal accepts numbers and strings using either "." or "," as the
// decimal separator. When both appear, the last one is the decimal separator
// and the other groups thousands. Anything unparseable is 0.
func ParseDecimal(v interface{}) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		return ParseDecimal(n.String())
	case string:
		f = parseDecimalString(n)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseDecimalString(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseInt truncates a decimal toward zero.
func ParseInt(v interface{}) int64 {
	return int64(math.Trunc(ParseDecimal(v)))
}

// parseID reads a positive Bling id; anything else is 0.
func parseID(v interface{}) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil && i > 0 {
			return i
		}
	case float64:
		if n > 0 && n == math.Trunc(n) {
			return int64(n)
		}
	case int64:
		if n > 0 {
			return n
		}
	case int:
		if n > 0 {
			return int64(n)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil && i > 0 {
			return i
		}
	}
	return 0
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func digitsOnly(v interface{}) string {
	s := asString(v)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func upper(v interface{}) string {
	return strings.ToUpper(asString(v))
}
