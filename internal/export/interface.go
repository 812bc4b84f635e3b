// Package export renders session metadata documents for people and tools
package export

import (
	"fmt"
	"io"

	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
)

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(doc *metadata.Document, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: yaml, json, md, jsonl)", format)
	}
}

// Section is one named list of field descriptors of a document
type Section struct {
	Name   string
	Fields []metadata.Field
}

// Sections flattens the field-bearing parts of a document in container
// write order. Empty groups are skipped.
func Sections(doc *metadata.Document) []Section {
	var out []Section
	add := func(name string, fields []metadata.Field) {
		if len(fields) > 0 {
			out = append(out, Section{Name: name, Fields: fields})
		}
	}
	group := func(prefix string, g *metadata.SeriesGroup) {
		if g == nil {
			return
		}
		add(prefix+".TimeSeries", g.TimeSeries)
		add(prefix+".IntervalSeries", g.IntervalSeries)
		add(prefix+".SpatialSeries", g.SpatialSeries)
	}

	add("ElectrodeTable", doc.ElectrodeTable)
	add("Trials", doc.Trials)
	add("Units", doc.Units)
	group("Stimulus", doc.Stimulus)
	if b := doc.Behavior; b != nil {
		group("Behavior.BehavioralTimeSeries", b.BehavioralTimeSeries)
		group("Behavior.BehavioralEvents", b.BehavioralEvents)
		group("Behavior.PupilTracking", b.PupilTracking)
		group("Behavior.BehavioralEpochs", b.BehavioralEpochs)
		group("Behavior.Position", b.Position)
	}
	if e := doc.Ecephys.Ecephys; e != nil {
		add("Ecephys.ElectricalSeries", e.ElectricalSeries)
		add("Ecephys.Spectrum", e.Spectrum)
	}
	if e := doc.Ecephys.EventDetection; e != nil {
		add("EventDetection.SpikeEventSeries", e.SpikeEventSeries)
	}
	if a := doc.Acquisition; a != nil {
		add("Acquisition.ImageSeries", a.ImageSeries)
		add("Acquisition.DecompositionSeries", a.DecompositionSeries)
		add("Acquisition.ElectricalSeries", a.ElectricalSeries)
	}
	return out
}

// sourceLabel renders where a field's data comes from
func sourceLabel(s dataset.Source) string {
	switch {
	case s.IsZero():
		return ""
	case s.Kind == dataset.SourceLiteral:
		return fmt.Sprint(s.Literal)
	}
	return s.Key()
}
