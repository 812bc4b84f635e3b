package export

import (
	"io"

	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"gopkg.in/yaml.v3"
)

// YAMLExporter exports documents in YAML format, the form conversions read back
type YAMLExporter struct{}

// Export exports a document to YAML format
func (e *YAMLExporter) Export(doc *metadata.Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(doc)
}

// Extension returns the file extension for this format
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
