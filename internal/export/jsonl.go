package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/iblconvert/alyx2nwb/internal/metadata"
)

// JSONLExporter exports one line per field descriptor, tagged with its section
type JSONLExporter struct{}

// Export exports a document to JSONL format
func (e *JSONLExporter) Export(doc *metadata.Document, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, sec := range Sections(doc) {
		for _, f := range sec.Fields {
			obj := map[string]interface{}{
				"eid":     doc.EID,
				"section": sec.Name,
				"name":    f.Name,
				"data":    sourceLabel(f.Data),
			}
			if ts := sourceLabel(f.Timestamps); ts != "" {
				obj["timestamps"] = ts
			}
			if f.Description != "" {
				obj["description"] = f.Description
			}

			if err := enc.Encode(obj); err != nil {
				return fmt.Errorf("failed to encode field %s.%s: %w", sec.Name, f.Name, err)
			}
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
