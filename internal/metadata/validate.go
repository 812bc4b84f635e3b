package metadata

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaText string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Schema returns the compiled document schema
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("schema.json", schemaText)
	})
	return compiledSchema, schemaErr
}

// Validate checks a document against the schema
func Validate(doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return validateJSON(data)
}

// ValidateFile checks a document file, JSON or YAML, against the schema
// without first decoding it into a Document.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &internal.ConfigError{Field: "metadata", Err: err}
	}
	if FormatFromPath(path) == FormatYAML {
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := validateJSON(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func validateJSON(data []byte) error {
	sch, err := Schema()
	if err != nil {
		return fmt.Errorf("compiling document schema: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
