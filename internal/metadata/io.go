package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	"gopkg.in/yaml.v3"
)

// Format of a document on disk
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Marshal encodes a document
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	}
	return nil, fmt.Errorf("unsupported document format: %s", format)
}

// Unmarshal decodes a document
func Unmarshal(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON, "":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	if doc.EID == "" {
		return nil, fmt.Errorf("document has no eid")
	}
	return &doc, nil
}

// ReadDocument loads a document written by WriteDocument, in either format
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &internal.ConfigError{Field: "metadata", Err: err}
	}
	doc, err := Unmarshal(data, FormatFromPath(path))
	if err != nil {
		return nil, &internal.ConfigError{Field: "metadata", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return doc, nil
}

// WriteDocument writes one document to path
func WriteDocument(doc *Document, path string) error {
	format := FormatFromPath(path)
	data, err := Marshal(doc, format)
	if err != nil {
		return &internal.ExportError{Format: string(format), Path: path, Err: err}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &internal.ExportError{Format: string(format), Path: path, Err: err}
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &internal.ExportError{Format: string(format), Path: path, Err: err}
	}
	return nil
}

// IndexedPath inserts "_eid_<n>" before the extension: "meta.json" becomes
// "meta_eid_0.json".
func IndexedPath(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_eid_%d%s", strings.TrimSuffix(path, ext), n, ext)
}

// WriteDocuments writes every document under an indexed name derived from
// path and returns the paths written.
func WriteDocuments(docs []*Document, path string) ([]string, error) {
	paths := make([]string, 0, len(docs))
	for i, doc := range docs {
		p := IndexedPath(path, i)
		if err := WriteDocument(doc, p); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
