// Package dataset fetches named datasets for one session and normalizes
// their files into in-memory values.
package dataset

import (
	"fmt"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
)

// SourceKind tells how a field's data is obtained
type SourceKind int

const (
	// SourceLiteral carries the value itself
	SourceLiteral SourceKind = iota
	// SourceReference names one dataset, e.g. "spikes.times"
	SourceReference
	// SourceJoined names two co-indexed datasets, e.g. "spikes.clusters,spikes.times"
	SourceJoined
)

// Source is where a field's data comes from
type Source struct {
	Kind    SourceKind
	Literal interface{}
	Name    string
	Second  string
}

// Literal returns a source holding v. A nil literal always loads as absent.
func Literal(v interface{}) Source {
	return Source{Kind: SourceLiteral, Literal: v}
}

// Ref returns a source naming one dataset
func Ref(name string) Source {
	return Source{Kind: SourceReference, Name: name}
}

// Joined returns a source grouping the second dataset by the first
func Joined(first, second string) Source {
	return Source{Kind: SourceJoined, Name: first, Second: second}
}

// LiteralKey marks a literal value in a metadata document: {literal: "text"}
const LiteralKey = "literal"

// ParseSource interprets a value read from a metadata document. Strings are
// dataset references, a comma makes a joined pair, and "None" or "" mean no
// data. A one-key {literal: v} mapping holds v as is, so text can be a
// literal too. Anything else is a literal.
func ParseSource(v interface{}) Source {
	if m, ok := v.(map[string]interface{}); ok && len(m) == 1 {
		if lit, ok := m[LiteralKey]; ok {
			return Literal(lit)
		}
	}
	s, ok := v.(string)
	if !ok {
		return Literal(v)
	}
	s = strings.TrimSpace(s)
	if s == "" || s == alyx.NullValue {
		return Literal(nil)
	}
	if first, second, found := strings.Cut(s, ","); found {
		return Joined(strings.TrimSpace(first), strings.TrimSpace(second))
	}
	return Ref(s)
}

// IsZero reports whether the source is a nil literal
func (s Source) IsZero() bool {
	return s.Kind == SourceLiteral && s.Literal == nil
}

// Object returns the object name of the (first) referenced dataset
func (s Source) Object() string {
	if s.Kind == SourceLiteral {
		return ""
	}
	return alyx.Object(s.Name)
}

// Key is the literal reference string used to memoize loads
func (s Source) Key() string {
	switch s.Kind {
	case SourceReference:
		return s.Name
	case SourceJoined:
		return s.Name + "," + s.Second
	default:
		return ""
	}
}

// String renders the source the way it appears in a metadata document
func (s Source) String() string {
	if s.Kind == SourceLiteral {
		if s.Literal == nil {
			return alyx.NullValue
		}
		return fmt.Sprint(s.Literal)
	}
	return s.Key()
}
