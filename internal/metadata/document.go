// Package metadata discovers which datasets a session offers and maps them
// onto the sections of the output container. The result is a Document, one
// per session, which can be written to disk, edited, validated and fed back
// into a conversion.
package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"gopkg.in/yaml.v3"
)

// Field binds one destination attribute to the dataset that holds its data
type Field struct {
	Name        string
	Description string
	Data        dataset.Source
	Timestamps  dataset.Source
	Frequencies dataset.Source
	Bands       dataset.Source
	// Unit and Metric are passed through to series constructors that take them
	Unit   string
	Metric string
}

// NewField builds a field whose data is a dataset reference
func NewField(name, description, ref string) Field {
	return Field{Name: name, Description: description, Data: dataset.ParseSource(ref)}
}

// fieldWire is the text form of a Field
type fieldWire struct {
	Name        string      `json:"name" yaml:"name"`
	Data        interface{} `json:"data" yaml:"data"`
	Description string      `json:"description" yaml:"description"`
	Timestamps  interface{} `json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	Frequencies interface{} `json:"frequencies,omitempty" yaml:"frequencies,omitempty"`
	Bands       interface{} `json:"bands,omitempty" yaml:"bands,omitempty"`
	Unit        string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Metric      string      `json:"metric,omitempty" yaml:"metric,omitempty"`
}

func sourceToWire(s dataset.Source) interface{} {
	if s.Kind == dataset.SourceLiteral {
		switch v := s.Literal.(type) {
		case nil:
			return alyx.NullValue
		case string, map[string]interface{}:
			return map[string]interface{}{dataset.LiteralKey: v}
		}
		return s.Literal
	}
	return s.Key()
}

// optional sources are omitted entirely when unset
func optionalToWire(s dataset.Source) interface{} {
	if s.IsZero() {
		return nil
	}
	return sourceToWire(s)
}

func (f Field) wire() fieldWire {
	return fieldWire{
		Name:        f.Name,
		Data:        sourceToWire(f.Data),
		Description: f.Description,
		Timestamps:  optionalToWire(f.Timestamps),
		Frequencies: optionalToWire(f.Frequencies),
		Bands:       optionalToWire(f.Bands),
		Unit:        f.Unit,
		Metric:      f.Metric,
	}
}

func (f *Field) fromWire(w fieldWire) {
	*f = Field{
		Name:        w.Name,
		Description: w.Description,
		Data:        dataset.ParseSource(w.Data),
		Timestamps:  dataset.ParseSource(w.Timestamps),
		Frequencies: dataset.ParseSource(w.Frequencies),
		Bands:       dataset.ParseSource(w.Bands),
		Unit:        w.Unit,
		Metric:      w.Metric,
	}
}

// MarshalJSON implements json.Marshaler
func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.wire())
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Field) UnmarshalJSON(data []byte) error {
	var w fieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.fromWire(w)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (f Field) MarshalYAML() (interface{}, error) {
	return f.wire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var w fieldWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	f.fromWire(w)
	return nil
}

// NWBFile holds the session-level scalars of the output file
type NWBFile struct {
	SessionStartTime      string   `json:"session_start_time" yaml:"session_start_time"`
	Keywords              []string `json:"keywords" yaml:"keywords"`
	ExperimentDescription string   `json:"experiment_description" yaml:"experiment_description"`
	SessionID             string   `json:"session_id" yaml:"session_id"`
	Experimenter          []string `json:"experimenter" yaml:"experimenter"`
	Identifier            string   `json:"identifier" yaml:"identifier"`
	Institution           string   `json:"institution" yaml:"institution"`
	Lab                   string   `json:"lab" yaml:"lab"`
	SessionDescription    string   `json:"session_description" yaml:"session_description"`
	Surgery               string   `json:"surgery" yaml:"surgery"`
	Notes                 string   `json:"notes" yaml:"notes"`
}

// Subject describes the animal
type Subject struct {
	SubjectID   string `json:"subject_id" yaml:"subject_id"`
	Description string `json:"description" yaml:"description"`
	Genotype    string `json:"genotype" yaml:"genotype"`
	Sex         string `json:"sex" yaml:"sex"`
	Species     string `json:"species" yaml:"species"`
	Weight      string `json:"weight" yaml:"weight"`
	DateOfBirth string `json:"date_of_birth" yaml:"date_of_birth"`
}

// SeriesGroup lists the series of one container. Only the list matching the
// container type is filled.
type SeriesGroup struct {
	TimeSeries     []Field `json:"time_series,omitempty" yaml:"time_series,omitempty"`
	IntervalSeries []Field `json:"interval_series,omitempty" yaml:"interval_series,omitempty"`
	SpatialSeries  []Field `json:"spatial_series,omitempty" yaml:"spatial_series,omitempty"`
}

// Behavior groups the behavioral containers
type Behavior struct {
	BehavioralTimeSeries *SeriesGroup `json:"BehavioralTimeSeries,omitempty" yaml:"BehavioralTimeSeries,omitempty"`
	BehavioralEvents     *SeriesGroup `json:"BehavioralEvents,omitempty" yaml:"BehavioralEvents,omitempty"`
	PupilTracking        *SeriesGroup `json:"PupilTracking,omitempty" yaml:"PupilTracking,omitempty"`
	BehavioralEpochs     *SeriesGroup `json:"BehavioralEpochs,omitempty" yaml:"BehavioralEpochs,omitempty"`
	Position             *SeriesGroup `json:"Position,omitempty" yaml:"Position,omitempty"`
}

// Empty reports whether no behavioral container was found
func (b *Behavior) Empty() bool {
	return b == nil || (b.BehavioralTimeSeries == nil && b.BehavioralEvents == nil &&
		b.PupilTracking == nil && b.BehavioralEpochs == nil && b.Position == nil)
}

// EcephysSeries lists processed electrophysiology series
type EcephysSeries struct {
	ElectricalSeries []Field `json:"ElectricalSeries,omitempty" yaml:"ElectricalSeries,omitempty"`
	Spectrum         []Field `json:"Spectrum,omitempty" yaml:"Spectrum,omitempty"`
}

// EventDetection lists spike event series
type EventDetection struct {
	SpikeEventSeries []Field `json:"SpikeEventSeries" yaml:"SpikeEventSeries"`
}

// Device is one recording device
type Device struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// ElectrodeGroup ties electrodes to a device
type ElectrodeGroup struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Device      string `json:"device" yaml:"device"`
	Location    string `json:"location" yaml:"location"`
}

// Ecephys groups the electrophysiology sections
type Ecephys struct {
	Ecephys        *EcephysSeries   `json:"Ecephys,omitempty" yaml:"Ecephys,omitempty"`
	EventDetection *EventDetection  `json:"EventDetection,omitempty" yaml:"EventDetection,omitempty"`
	Device         []Device         `json:"Device" yaml:"Device"`
	ElectrodeGroup []ElectrodeGroup `json:"ElectrodeGroup" yaml:"ElectrodeGroup"`
}

// Probe is one probe insertion
type Probe struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Model       string `json:"model,omitempty" yaml:"model,omitempty"`
	Serial      string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Trajectory  string `json:"trajectory,omitempty" yaml:"trajectory,omitempty"`
}

// Acquisition lists raw acquisition series, written only when raw data is kept
type Acquisition struct {
	ImageSeries         []Field `json:"ImageSeries,omitempty" yaml:"ImageSeries,omitempty"`
	DecompositionSeries []Field `json:"DecompositionSeries,omitempty" yaml:"DecompositionSeries,omitempty"`
	ElectricalSeries    []Field `json:"ElectricalSeries,omitempty" yaml:"ElectricalSeries,omitempty"`
}

// Document is the complete metadata of one session. Optional sections are
// nil when the session has none of the datasets they draw from.
type Document struct {
	EID             string                 `json:"eid" yaml:"eid"`
	NWBFile         NWBFile                `json:"NWBFile" yaml:"NWBFile"`
	Subject         *Subject               `json:"Subject,omitempty" yaml:"Subject,omitempty"`
	IBLSubject      map[string]interface{} `json:"IBLSubject,omitempty" yaml:"IBLSubject,omitempty"`
	IBLSessionsData map[string]interface{} `json:"IBLSessionsData,omitempty" yaml:"IBLSessionsData,omitempty"`
	Behavior        *Behavior              `json:"Behavior,omitempty" yaml:"Behavior,omitempty"`
	Trials          []Field                `json:"Trials,omitempty" yaml:"Trials,omitempty"`
	Stimulus        *SeriesGroup           `json:"Stimulus,omitempty" yaml:"Stimulus,omitempty"`
	Units           []Field                `json:"Units,omitempty" yaml:"Units,omitempty"`
	ElectrodeTable  []Field                `json:"ElectrodeTable,omitempty" yaml:"ElectrodeTable,omitempty"`
	Ecephys         Ecephys                `json:"Ecephys" yaml:"Ecephys"`
	Probes          []Probe                `json:"Probes" yaml:"Probes"`
	Acquisition     *Acquisition           `json:"Acquisition,omitempty" yaml:"Acquisition,omitempty"`
	Ophys           map[string]interface{} `json:"Ophys" yaml:"Ophys"`
	Icephys         map[string]interface{} `json:"Icephys" yaml:"Icephys"`
}

// Sections lists the names of the sections present in the document
func (d *Document) Sections() []string {
	out := []string{"NWBFile"}
	add := func(name string, present bool) {
		if present {
			out = append(out, name)
		}
	}
	add("Subject", d.Subject != nil)
	add("IBLSubject", d.IBLSubject != nil)
	add("IBLSessionsData", d.IBLSessionsData != nil)
	add("Behavior", !d.Behavior.Empty())
	add("Trials", len(d.Trials) > 0)
	add("Stimulus", d.Stimulus != nil)
	add("Units", len(d.Units) > 0)
	add("ElectrodeTable", len(d.ElectrodeTable) > 0)
	add("Ecephys", d.Ecephys.Ecephys != nil || d.Ecephys.EventDetection != nil)
	add("Probes", len(d.Probes) > 0)
	add("Acquisition", d.Acquisition != nil)
	return out
}

// FieldCount is the number of field descriptors across all sections
func (d *Document) FieldCount() int {
	n := len(d.Trials) + len(d.Units) + len(d.ElectrodeTable)
	for _, g := range []*SeriesGroup{d.Stimulus} {
		n += g.count()
	}
	if d.Behavior != nil {
		for _, g := range []*SeriesGroup{d.Behavior.BehavioralTimeSeries, d.Behavior.BehavioralEvents,
			d.Behavior.PupilTracking, d.Behavior.BehavioralEpochs, d.Behavior.Position} {
			n += g.count()
		}
	}
	if e := d.Ecephys.Ecephys; e != nil {
		n += len(e.ElectricalSeries) + len(e.Spectrum)
	}
	if e := d.Ecephys.EventDetection; e != nil {
		n += len(e.SpikeEventSeries)
	}
	if a := d.Acquisition; a != nil {
		n += len(a.ImageSeries) + len(a.DecompositionSeries) + len(a.ElectricalSeries)
	}
	return n
}

func (g *SeriesGroup) count() int {
	if g == nil {
		return 0
	}
	return len(g.TimeSeries) + len(g.IntervalSeries) + len(g.SpatialSeries)
}

func (d *Document) String() string {
	return fmt.Sprintf("document %s (%d sections, %d fields)", d.EID, len(d.Sections()), d.FieldCount())
}
