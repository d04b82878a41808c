package conjcache

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/conjcache/internal/keys"
)

// Scheme is an ordered tuple of field names of one entity type. The empty
// scheme matches every object of the type. Two schemes are the same scheme
// iff their serialized forms are equal.
type Scheme []string

// String returns the serialized form stored in "schemes:<type>".
func (s Scheme) String() string { return strings.Join(s, ",") }

// IsEmpty reports whether s has no fields.
func (s Scheme) IsEmpty() bool { return len(s) == 0 }

// ParseScheme is the inverse of Scheme.String. "" is the empty scheme.
func ParseScheme(raw string) Scheme {
	if raw == "" {
		return Scheme{}
	}
	return Scheme(strings.Split(raw, ","))
}

// SchemeOf returns the scheme of a conjunction: its field names, sorted.
func SchemeOf(conj map[string]any) Scheme {
	s := make(Scheme, 0, len(conj))
	for f := range conj {
		s = append(s, f)
	}
	sort.Strings(s)
	return s
}

// covers reports whether every field of s has a value.
func (s Scheme) covers(values map[string]string) bool {
	for _, f := range s {
		if _, ok := values[f]; !ok {
			return false
		}
	}
	return true
}

// Entity is implemented by the entity-modeling layer. EntityType must be
// stable across processes; FieldValues is the object's current field state.
type Entity interface {
	EntityType() string
	FieldValues() map[string]any
}

// ConjKey returns the conjunction key for a field->value bag (fields sorted).
func ConjKey(entityType string, conj map[string]any) string {
	return keys.Conj(entityType, formatValues(conj))
}

// ConjKeyFromScheme returns the conjunction key for s in scheme order.
// ok is false when values lack one of the scheme's fields.
func ConjKeyFromScheme(entityType string, s Scheme, values map[string]any) (key string, ok bool) {
	vals := formatValues(values)
	if !s.covers(vals) {
		return "", false
	}
	return keys.ConjFromScheme(entityType, s, vals), true
}

// formatValue renders a field value the way existing deployments wrote it
// into conjunction keys.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// formatFloat matches Python's float repr: shortest round-trip digits,
// scientific notation outside 1e-4 <= |f| < 1e16, and a trailing ".0" on
// integral values.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	if f != 0 {
		sci := strconv.FormatFloat(f, 'e', -1, bitSize)
		exp, _ := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
		if exp < -4 || exp >= 16 {
			return sci
		}
	}
	out := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.ContainsRune(out, '.') {
		out += ".0"
	}
	return out
}

func formatValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = formatValue(v)
	}
	return out
}
