package nwb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/scigolib/hdf5"
)

// ManifestDataset is the dataset holding the JSON manifest
const ManifestDataset = "/manifest"

// Sink receives the numeric arrays of a file
type Sink interface {
	WriteFloat64(name string, shape []int, v []float64) error
	WriteInt64(name string, shape []int, v []int64) error
	WriteUint8(name string, v []uint8) error
}

// DatasetRef tells where an array lives: in the container or in a sidecar
// file next to it. Empty arrays are recorded with their shape only.
type DatasetRef struct {
	Dataset  string `json:"dataset,omitempty"`
	External string `json:"external_file,omitempty"`
	DType    string `json:"dtype"`
	Shape    []int  `json:"shape"`
}

// Entry describes one object of the hierarchy
type Entry struct {
	Path       string                 `json:"path"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Datasets   map[string]DatasetRef  `json:"datasets,omitempty"`
}

// Manifest is the self-description stored inside every container
type Manifest struct {
	Identifier string                 `json:"identifier"`
	Attributes map[string]interface{} `json:"attributes"`
	Entries    []Entry                `json:"objects"`
}

// Entry returns the entry at path
func (m *Manifest) Entry(path string) (*Entry, bool) {
	for i := range m.Entries {
		if m.Entries[i].Path == path {
			return &m.Entries[i], true
		}
	}
	return nil, false
}

// Paths lists the paths of all entries
func (m *Manifest) Paths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Path
	}
	return out
}

// HDF5Writer is a Sink over a new HDF5 file
type HDF5Writer struct {
	path  string
	write func(name string, dims []uint64, data interface{}) error
	close func() error
}

// CreateHDF5 creates (or truncates) an HDF5 file
func CreateHDF5(path string) (*HDF5Writer, error) {
	fw, err := hdf5.CreateForWrite(path, hdf5.CreateTruncate)
	if err != nil {
		return nil, err
	}
	w := &HDF5Writer{path: path, close: fw.Close}
	w.write = func(name string, dims []uint64, data interface{}) error {
		switch v := data.(type) {
		case []float64:
			ds, err := fw.CreateDataset(name, hdf5.Float64, dims)
			if err != nil {
				return err
			}
			return ds.Write(v)
		case []int64:
			ds, err := fw.CreateDataset(name, hdf5.Int64, dims)
			if err != nil {
				return err
			}
			return ds.Write(v)
		case []uint8:
			ds, err := fw.CreateDataset(name, hdf5.Uint8, dims)
			if err != nil {
				return err
			}
			return ds.Write(v)
		}
		return fmt.Errorf("unsupported dataset type %T", data)
	}
	return w, nil
}

func dims(shape []int) []uint64 {
	out := make([]uint64, len(shape))
	for i, d := range shape {
		out[i] = uint64(d)
	}
	return out
}

// WriteFloat64 implements Sink
func (w *HDF5Writer) WriteFloat64(name string, shape []int, v []float64) error {
	return w.write(name, dims(shape), v)
}

// WriteInt64 implements Sink
func (w *HDF5Writer) WriteInt64(name string, shape []int, v []int64) error {
	return w.write(name, dims(shape), v)
}

// WriteUint8 implements Sink
func (w *HDF5Writer) WriteUint8(name string, v []uint8) error {
	return w.write(name, []uint64{uint64(len(v))}, v)
}

// Close flushes and closes the file
func (w *HDF5Writer) Close() error {
	return w.close()
}

// MemoryDataset is an array captured by a MemorySink
type MemoryDataset struct {
	Shape []int
	Float []float64
	Int   []int64
	Bytes []uint8
}

// MemorySink keeps every array in memory
type MemorySink struct {
	Datasets map[string]MemoryDataset
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{Datasets: make(map[string]MemoryDataset)}
}

func (m *MemorySink) put(name string, d MemoryDataset) error {
	if _, ok := m.Datasets[name]; ok {
		return fmt.Errorf("dataset %s written twice", name)
	}
	m.Datasets[name] = d
	return nil
}

// WriteFloat64 implements Sink
func (m *MemorySink) WriteFloat64(name string, shape []int, v []float64) error {
	return m.put(name, MemoryDataset{Shape: shape, Float: v})
}

// WriteInt64 implements Sink
func (m *MemorySink) WriteInt64(name string, shape []int, v []int64) error {
	return m.put(name, MemoryDataset{Shape: shape, Int: v})
}

// WriteUint8 implements Sink
func (m *MemorySink) WriteUint8(name string, v []uint8) error {
	return m.put(name, MemoryDataset{Shape: []int{len(v)}, Bytes: v})
}

// Names lists the captured dataset names in order
func (m *MemorySink) Names() []string {
	out := make([]string, 0, len(m.Datasets))
	for n := range m.Datasets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Validate checks every object of the file
func (f *File) Validate() error {
	var objects []Object
	objects = append(objects, f.Stimulus...)
	objects = append(objects, f.Acquisition...)
	for _, m := range f.Processing {
		for _, i := range m.Interfaces {
			objects = append(objects, i.Objects...)
		}
	}
	if f.Trials != nil {
		objects = append(objects, f.Trials)
	}
	if f.Units != nil {
		objects = append(objects, f.Units)
	}
	if f.Electrodes != nil {
		objects = append(objects, &f.Electrodes.DynamicTable)
	}
	for _, o := range objects {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the file to path. Chunked series are streamed to sidecar
// .npy files in the same directory.
func (f *File) Save(path string) error {
	if err := f.Validate(); err != nil {
		return &internal.ExportError{Format: "nwb", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &internal.ExportError{Format: "nwb", Path: path, Err: err}
	}
	w, err := CreateHDF5(path)
	if err != nil {
		return &internal.ExportError{Format: "nwb", Path: path, Err: err}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := f.Layout(w, filepath.Dir(path), stem); err != nil {
		w.Close()
		return &internal.ExportError{Format: "nwb", Path: path, Err: err}
	}
	if err := w.Close(); err != nil {
		return &internal.ExportError{Format: "nwb", Path: path, Err: err}
	}
	return nil
}

// Layout writes every array of the file to s and the manifest last.
// Chunked series go to "<stem>.<object path>.npy" under sidecarDir.
func (f *File) Layout(s Sink, sidecarDir, stem string) (*Manifest, error) {
	e := &emitter{sink: s, sidecarDir: sidecarDir, stem: stem}
	e.manifest = &Manifest{Identifier: f.Identifier, Attributes: f.attributes()}

	if f.Subject != nil {
		e.entry("general.subject", "Subject", subjectAttributes(f.Subject))
	}
	for _, d := range f.Devices {
		e.entry("general.devices."+d.Name, "Device", map[string]interface{}{"description": d.Description})
	}
	for _, g := range f.ElectrodeGroups {
		attrs := map[string]interface{}{"description": g.Description, "location": g.Location}
		if g.Device != nil {
			attrs["device"] = g.Device.Name
		}
		e.entry("general.extracellular_ephys."+g.Name, "ElectrodeGroup", attrs)
	}
	if f.Electrodes != nil {
		base := "general.extracellular_ephys.electrodes"
		e.table(base, &f.Electrodes.DynamicTable)
		for _, r := range f.Electrodes.Regions {
			rows := make([]int64, len(r.Rows))
			for i, v := range r.Rows {
				rows[i] = int64(v)
			}
			ent := e.entry(base+".regions."+r.Name, "DynamicTableRegion", map[string]interface{}{"description": r.Description, "table": base})
			ent.Datasets["data"] = e.ints(ent.Path+".data", rows)
		}
	}
	if f.Trials != nil {
		e.table("intervals.trials", f.Trials)
	}
	if f.Units != nil {
		e.table("units", f.Units)
	}
	for _, o := range f.Stimulus {
		e.object("stimulus.presentation."+o.ObjectName(), o)
	}
	for _, o := range f.Acquisition {
		e.object("acquisition."+o.ObjectName(), o)
	}
	for _, m := range f.Processing {
		e.entry("processing."+m.Name, "ProcessingModule", map[string]interface{}{"description": m.Description})
		for _, i := range m.Interfaces {
			p := "processing." + m.Name + "." + i.Name
			e.entry(p, i.Kind, nil)
			for _, o := range i.Objects {
				e.object(p+"."+o.ObjectName(), o)
			}
		}
	}
	for _, lm := range f.LabMetadata {
		e.entry("general."+lm.Name, lm.Kind, lm.Fields)
	}
	if e.err != nil {
		return nil, e.err
	}

	data, err := json.Marshal(e.manifest)
	if err != nil {
		return nil, err
	}
	if err := s.WriteUint8(ManifestDataset, data); err != nil {
		return nil, err
	}
	return e.manifest, nil
}

func (f *File) attributes() map[string]interface{} {
	return map[string]interface{}{
		"identifier":             f.Identifier,
		"session_description":    f.SessionDescription,
		"session_start_time":     f.SessionStartTime.Format(time.RFC3339Nano),
		"session_id":             f.SessionID,
		"experiment_description": f.ExperimentDescription,
		"experimenter":           f.Experimenter,
		"keywords":               f.Keywords,
		"institution":            f.Institution,
		"lab":                    f.Lab,
		"surgery":                f.Surgery,
		"notes":                  f.Notes,
	}
}

func subjectAttributes(s *Subject) map[string]interface{} {
	return map[string]interface{}{
		"subject_id":    s.SubjectID,
		"description":   s.Description,
		"genotype":      s.Genotype,
		"sex":           s.Sex,
		"species":       s.Species,
		"weight":        s.Weight,
		"date_of_birth": s.DateOfBirth,
	}
}

// emitter accumulates the manifest and remembers the first error
type emitter struct {
	sink       Sink
	sidecarDir string
	stem       string
	manifest   *Manifest
	err        error
}

func datasetName(path string) string {
	return "/" + strings.ReplaceAll(path, "/", "_")
}

func (e *emitter) entry(path, typ string, attrs map[string]interface{}) *Entry {
	e.manifest.Entries = append(e.manifest.Entries, Entry{
		Path:       path,
		Type:       typ,
		Attributes: attrs,
		Datasets:   make(map[string]DatasetRef),
	})
	return &e.manifest.Entries[len(e.manifest.Entries)-1]
}

func (e *emitter) floats(path string, shape []int, v []float64) DatasetRef {
	if shape == nil {
		shape = []int{len(v)}
	}
	ref := DatasetRef{DType: "float64", Shape: shape}
	if len(v) == 0 || e.err != nil {
		return ref
	}
	ref.Dataset = datasetName(path)
	if err := e.sink.WriteFloat64(ref.Dataset, shape, v); err != nil {
		e.err = fmt.Errorf("%s: %w", path, err)
	}
	return ref
}

func (e *emitter) ints(path string, v []int64) DatasetRef {
	ref := DatasetRef{DType: "int64", Shape: []int{len(v)}}
	if len(v) == 0 || e.err != nil {
		return ref
	}
	ref.Dataset = datasetName(path)
	if err := e.sink.WriteInt64(ref.Dataset, ref.Shape, v); err != nil {
		e.err = fmt.Errorf("%s: %w", path, err)
	}
	return ref
}

// ragged flattens per-row lists into data plus cumulative end offsets
func (e *emitter) ragged(ent *Entry, name string, rows [][]float64) {
	var flat []float64
	index := make([]int64, len(rows))
	for i, r := range rows {
		flat = append(flat, r...)
		index[i] = int64(len(flat))
	}
	ent.Datasets[name] = e.floats(ent.Path+"."+name, nil, flat)
	ent.Datasets[name+"_index"] = e.ints(ent.Path+"."+name+"_index", index)
}

func (e *emitter) table(path string, t *DynamicTable) {
	ent := e.entry(path, t.TypeName(), map[string]interface{}{"description": t.Description})
	ids := t.IDs
	if ids == nil {
		ids = make([]int64, t.Len())
		for i := range ids {
			ids[i] = int64(i)
		}
	}
	ent.Datasets["id"] = e.ints(path+".id", ids)

	colnames := make([]string, 0, len(t.Columns))
	descriptions := make(map[string]interface{})
	for _, c := range t.Columns {
		colnames = append(colnames, c.Name)
		descriptions[c.Name] = c.Description
		switch {
		case c.Ragged != nil:
			e.ragged(ent, c.Name, c.Ragged)
		case c.Text != nil:
			ent.Attributes["text."+c.Name] = c.Text
		default:
			ent.Datasets[c.Name] = e.floats(path+"."+c.Name, c.Shape, c.Values)
		}
	}
	ent.Attributes["colnames"] = colnames
	ent.Attributes["column_descriptions"] = descriptions
}

func (e *emitter) series(path, typ string, s *Series) *Entry {
	attrs := map[string]interface{}{
		"description": s.Description,
		"unit":        s.Unit,
		"conversion":  s.conversion(),
	}
	if s.Comments != "" {
		attrs["comments"] = s.Comments
	}
	if s.Timestamps == nil && s.Rate > 0 {
		attrs["starting_time"] = s.StartingTime
		attrs["rate"] = s.Rate
	}
	ent := e.entry(path, typ, attrs)
	if s.Data.Values != nil || s.Data.Shape != nil {
		ent.Datasets["data"] = e.floats(path+".data", s.Data.Shape, s.Data.Values)
	}
	if s.Timestamps != nil {
		ent.Datasets["timestamps"] = e.floats(path+".timestamps", nil, s.Timestamps)
	}
	return ent
}

func (e *emitter) object(path string, o Object) {
	switch v := o.(type) {
	case *TimeSeries:
		e.series(path, v.TypeName(), &v.Series)
	case *SpatialSeries:
		ent := e.series(path, v.TypeName(), &v.Series)
		ent.Attributes["reference_frame"] = v.ReferenceFrame
	case *IntervalSeries:
		e.series(path, v.TypeName(), &v.Series)
	case *SpikeEventSeries:
		ent := e.series(path, v.TypeName(), &v.Series)
		regionAttr(ent, v.Electrodes)
	case *ElectricalSeries:
		ent := e.series(path, v.TypeName(), &v.Series)
		regionAttr(ent, v.Electrodes)
		if v.Chunks != nil {
			ent.Datasets["data"] = e.sidecar(path, v.Chunks)
		}
	case *DecompositionSeries:
		ent := e.series(path, v.TypeName(), &v.Series)
		ent.Attributes["metric"] = v.Metric
		ent.Datasets["bands.band_name"] = e.floats(path+".bands.band_name", nil, v.Bands)
	case *Spectrum:
		ent := e.entry(path, v.TypeName(), map[string]interface{}{"description": v.Description})
		regionAttr(ent, v.Electrodes)
		ent.Datasets["power"] = e.floats(path+".power", v.Power.Shape, v.Power.Values)
		ent.Datasets["frequencies"] = e.floats(path+".frequencies", nil, v.Frequencies)
	case *ImageSeries:
		ent := e.series(path, v.TypeName(), &v.Series)
		ent.Attributes["external_file"] = v.ExternalFile
		ent.Attributes["format"] = v.Format
	case *DynamicTable:
		e.table(path, v)
	default:
		e.err = fmt.Errorf("%s: cannot write %T", path, o)
	}
}

func regionAttr(ent *Entry, r *ElectrodeRegion) {
	if r != nil {
		ent.Attributes["electrodes"] = r.Name
	}
}

// sidecar streams a chunked series into an npy file one window at a time
func (e *emitter) sidecar(path string, it *ChunkIterator) DatasetRef {
	ref := DatasetRef{DType: "int16", Shape: it.Shape()}
	if e.err != nil {
		return ref
	}
	name := e.stem + "." + strings.ReplaceAll(path, "/", "_") + ".npy"
	ref.External = name
	a, err := createNPYAppender(filepath.Join(e.sidecarDir, name), ref.Shape)
	if err != nil {
		e.err = err
		return ref
	}
	it.Reset()
	windows := 0
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.Close()
			e.err = fmt.Errorf("%s: %w", path, err)
			return ref
		}
		if err := a.Append(chunk); err != nil {
			a.Close()
			e.err = fmt.Errorf("%s: %w", path, err)
			return ref
		}
		windows++
	}
	if err := a.Close(); err != nil {
		e.err = fmt.Errorf("%s: %w", path, err)
		return ref
	}
	internal.LogDebug("%s: wrote %d windows of %d samples", path, windows, it.WindowRows())
	return ref
}
