// Package keys builds the store key names shared with existing deployments.
// The formats are fixed; changing them orphans every key already written.
//
//	schemes:<type>                  set of serialized schemes
//	schemes:<type>:version          integer, missing => 0
//	conj:<type>:<f>=<v>&<f>=<v>...  set of cache keys
package keys

import (
	"sort"
	"strings"
)

const (
	schemesPrefix = "schemes:"
	conjPrefix    = "conj:"
)

// Schemes returns the key of the entity type's scheme set.
func Schemes(entityType string) string { return schemesPrefix + entityType }

// Version returns the key of the entity type's scheme version counter.
func Version(entityType string) string { return schemesPrefix + entityType + ":version" }

// ConjPrefix returns the prefix shared by every conjunction of the type.
func ConjPrefix(entityType string) string { return conjPrefix + entityType + ":" }

// ConjPattern returns a glob matching every conjunction key of the type.
// Glob metacharacters in the type name are escaped.
func ConjPattern(entityType string) string {
	return EscapeGlob(ConjPrefix(entityType)) + "*"
}

// Conj builds a conjunction key from a field->value bag, fields sorted.
func Conj(entityType string, values map[string]string) string {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return ConjFromScheme(entityType, fields, values)
}

// ConjFromScheme builds a conjunction key in the scheme's field order.
// Every field must be present in values.
func ConjFromScheme(entityType string, fields []string, values map[string]string) string {
	var b strings.Builder
	b.WriteString(conjPrefix)
	b.WriteString(entityType)
	b.WriteByte(':')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(values[f])
	}
	return b.String()
}

// EscapeGlob backslash-escapes the characters Redis treats as glob syntax.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
