// Package alyx talks to the laboratory database: session search, dataset
// listings, REST records and dataset file loads.
package alyx

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Categories accepted by Client.List.
const (
	CategoryDatasetType = "dataset_type"
	CategoryUsers       = "users"
	CategorySubjects    = "subjects"
	CategoryLabs        = "labs"
)

// NullValue replaces every null field of a normalized record.
const NullValue = "None"

// Client is the view of the laboratory database the converter needs.
type Client interface {
	Search(ctx context.Context, q Query) ([]string, error)
	List(ctx context.Context, sessionID, category string) ([]string, error)
	Rest(ctx context.Context, endpoint, action string) (Response, error)
	Load(ctx context.Context, sessionID string, datasetTypes []string, dclassOutput bool) (*Bundle, error)
}

// Query filters a session search. Empty fields are ignored.
type Query struct {
	Subject      string
	Lab          string
	DateFrom     string // YYYY-MM-DD
	DateTo       string // YYYY-MM-DD
	TaskProtocol string
	Project      string
}

// IsZero reports whether no filter is set
func (q Query) IsZero() bool {
	return q == Query{}
}

// Record is one decoded JSON object returned by a REST endpoint
type Record map[string]interface{}

// String returns the field formatted as a string, or "" when missing
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings returns a list field as strings. A scalar string becomes a
// one-element list.
func (r Record) Strings(key string) []string {
	switch t := r[key].(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" || t == NullValue {
			return nil
		}
		return []string{t}
	}
	return nil
}

// Response is what Rest returns: one record or a list of records
type Response struct {
	One  Record
	Many []Record
}

// Records returns the list form of the response
func (r Response) Records() []Record {
	if r.Many != nil {
		return r.Many
	}
	if r.One != nil {
		return []Record{r.One}
	}
	return nil
}

// NormalizeNulls replaces every top-level null field with NullValue
func NormalizeNulls(r Record) Record {
	for k, v := range r {
		if v == nil {
			r[k] = NullValue
		}
	}
	return r
}

// Item is one file of a loaded dataset
type Item struct {
	LocalPath  string
	Collection string
	// Data holds the file contents when the client already has them in
	// memory. When nil the contents are read from LocalPath.
	Data []byte
}

// Missing reports whether the item is a failure placeholder
func (i Item) Missing() bool {
	return i.LocalPath == "" && i.Data == nil
}

// Suffix returns the file extension, including the dot
func (i Item) Suffix() string {
	return path.Ext(i.LocalPath)
}

// Name returns the base file name
func (i Item) Name() string {
	return path.Base(strings.ReplaceAll(i.LocalPath, "\\", "/"))
}

// Parent returns the name of the directory holding the file, usually the
// probe collection such as "probe00".
func (i Item) Parent() string {
	if i.Collection != "" {
		return path.Base(i.Collection)
	}
	dir := path.Dir(strings.ReplaceAll(i.LocalPath, "\\", "/"))
	return path.Base(dir)
}

// Bundle is the result of one Load call
type Bundle struct {
	SessionID string
	Items     []Item
}

// Empty reports whether the bundle resolved to nothing usable
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Items) == 0 || b.Items[0].Missing()
}

// Object returns the object part of a dataset type ("spikes" for "spikes.times")
func Object(datasetType string) string {
	if i := strings.Index(datasetType, "."); i >= 0 {
		return datasetType[:i]
	}
	return datasetType
}

// Attribute returns everything after the object part ("raw.ap" for "ephysData.raw.ap")
func Attribute(datasetType string) string {
	if i := strings.Index(datasetType, "."); i >= 0 {
		return datasetType[i+1:]
	}
	return ""
}
