package serializer

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeNumbers replaces json.Number values in v, walking nested slices
// and maps in place. Integer literals become int64, or uint64 above the
// int64 range; other literals become float64. Integers that fit neither
// stay json.Number so re-encoding writes the same digits.
func NormalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		return number(t)
	case []any:
		for i := range t {
			t[i] = NormalizeNumbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = NormalizeNumbers(t[k])
		}
	}
	return v
}

func number(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}
