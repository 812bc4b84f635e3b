package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
)

// timeAttr matches attributes holding timestamps or intervals
var timeAttr = regexp.MustCompile(`time|interval`)

// noDescription marks default columns the session has no dataset for
const noDescription = "no_description"

// rename maps a destination column to the attribute that feeds it
type rename struct {
	Column    string
	Attribute string
}

// Section lookup tables: which dataset objects feed which section
var (
	behaviorObjects = struct {
		TimeSeries []string
		Events     string
		Pupil      string
		Epochs     string
		Position   string
	}{
		TimeSeries: []string{"wheel", "lickPiezo", "face"},
		Events:     "licks",
		Pupil:      "eye",
		Epochs:     "wheelMoves",
		Position:   "camera",
	}

	stimulusObjects = []string{"sparseNoise", "passiveBeeps", "passiveValveClick", "passiveVisual", "passiveWhiteNoise"}

	unitRenames = []rename{
		{"location", "brainAcronyms"},
		{"id", "metrics"},
		{"waveform_mean", "waveforms"},
		{"electrodes", "channels"},
		{"electrode_group", "probes"},
	}
	unitDrops = []string{"uuids"}

	// MetricsColumns are the columns of the cluster metrics table
	MetricsColumns = []string{"cluster_id", "cluster_id.1", "num_spikes", "firing_rate", "presence_ratio",
		"presence_ratio_std", "isi_viol", "amplitude_cutoff", "amplitude_std", "epoch_name",
		"ks2_contamination_pct", "ks2_label"}

	trialRenames = []rename{
		{"start_time", "intervals"},
		{"stop_time", "intervals"},
	}

	sessionDataKeys = []string{"location", "project", "type", "number", "end_time", "parent_session",
		"url", "extended_qc", "qc", "wateradmin_session_related", "notes", "json"}
)

// build assembles the complete document of one session
func (d *Discoverer) build(s *sessionInfo) *Document {
	doc := &Document{
		EID:     s.eid,
		NWBFile: d.nwbFile(s),
		Ophys:   map[string]interface{}{},
		Icephys: map[string]interface{}{},
	}
	doc.Subject = subjectSection(s)
	if s.subject != nil {
		doc.IBLSubject = map[string]interface{}(s.subject)
	}
	doc.IBLSessionsData = sessionData(s)
	doc.Behavior = behaviorSection(s)
	doc.Trials = trialsSection(s)
	doc.Stimulus = stimulusSection(s)
	doc.Units = unitsSection(s)
	doc.ElectrodeTable = electrodeSection(s)
	doc.Probes = probesSection(s)
	doc.Ecephys = ecephysSection(s, doc.Probes)
	doc.Acquisition = acquisitionSection(s)
	return doc
}

func (d *Discoverer) nwbFile(s *sessionInfo) NWBFile {
	r := s.record
	lab := r.String("lab")
	institution := ""
	for _, l := range d.labs {
		if l.String("name") == lab {
			institution = l.String("institution")
			break
		}
	}
	return NWBFile{
		SessionStartTime:      r.String("start_time"),
		Keywords:              []string{strings.Join(s.users, ","), lab, "IBL"},
		ExperimentDescription: r.String("narrative"),
		SessionID:             s.eid,
		Experimenter:          s.users,
		Identifier:            s.eid,
		Institution:           institution,
		Lab:                   lab,
		SessionDescription:    r.String("task_protocol"),
		Surgery:               alyx.NullValue,
		Notes:                 "Procedures:" + strings.Join(r.Strings("procedures"), ",") + ", Project:" + r.String("project"),
	}
}

func subjectSection(s *sessionInfo) *Subject {
	r := s.subject
	if r == nil {
		return nil
	}
	return &Subject{
		SubjectID:   r.String("id"),
		Description: r.String("description"),
		Genotype:    strings.Join(r.Strings("genotype"), ","),
		Sex:         r.String("sex"),
		Species:     r.String("species"),
		Weight:      r.String("reference_weight"),
		DateOfBirth: r.String("birth_date"),
	}
}

func sessionData(s *sessionInfo) map[string]interface{} {
	out := make(map[string]interface{})
	for _, k := range sessionDataKeys {
		if v, ok := s.record[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// timeSeries builds one field per value attribute of an object, each with
// the object's first time-like attribute as timestamps. An object with only
// time-like attributes yields one field whose data is its first time
// attribute.
func timeSeries(s *sessionInfo, obj string, only []string, drop []string) []Field {
	attrs := dropAttributes(s.objects[obj], drop)
	var times, values []attribute
	for _, a := range attrs {
		if timeAttr.MatchString(a.Name) {
			times = append(times, a)
			continue
		}
		if len(only) > 0 && !contains(only, a.Name) {
			continue
		}
		values = append(values, a)
	}
	ts := dataset.Literal(nil)
	if len(times) > 0 {
		ts = dataset.Ref(obj + "." + times[0].Name)
	}
	if len(values) == 0 {
		if len(times) == 0 {
			return nil
		}
		values = times[:1]
	}
	out := make([]Field, 0, len(values))
	for _, a := range values {
		out = append(out, Field{
			Name:        obj + "_" + strings.ReplaceAll(a.Name, ".", "_"),
			Description: a.Description,
			Data:        dataset.Ref(obj + "." + a.Name),
			Timestamps:  ts,
		})
	}
	return out
}

// dynamicTable builds one column per attribute of an object. Renamed
// columns come first in rename order; a rename whose attribute is missing
// becomes a placeholder with no data.
func dynamicTable(s *sessionInfo, obj string, renames []rename, drop []string) []Field {
	attrs := dropAttributes(s.objects[obj], drop)
	used := make(map[string]bool)
	var out []Field
	for _, rn := range renames {
		if contains(drop, rn.Attribute) {
			continue
		}
		a, ok := findAttribute(attrs, rn.Attribute)
		if !ok {
			out = append(out, Field{Name: rn.Column, Description: noDescription, Data: dataset.Literal(nil)})
			continue
		}
		used[a.Name] = true
		out = append(out, Field{Name: rn.Column, Description: a.Description, Data: dataset.Ref(obj + "." + a.Name)})
	}
	for _, a := range attrs {
		if used[a.Name] {
			continue
		}
		out = append(out, Field{Name: a.Name, Description: a.Description, Data: dataset.Ref(obj + "." + a.Name)})
	}
	return out
}

func behaviorSection(s *sessionInfo) *Behavior {
	b := &Behavior{}
	for _, key := range behaviorObjects.TimeSeries {
		if obj, ok := s.findObject(key); ok {
			if fields := timeSeries(s, obj, nil, nil); len(fields) > 0 {
				if b.BehavioralTimeSeries == nil {
					b.BehavioralTimeSeries = &SeriesGroup{}
				}
				b.BehavioralTimeSeries.TimeSeries = append(b.BehavioralTimeSeries.TimeSeries, fields...)
			}
		}
	}
	if obj, ok := s.findObject(behaviorObjects.Events); ok {
		if fields := timeSeries(s, obj, nil, nil); len(fields) > 0 {
			b.BehavioralEvents = &SeriesGroup{TimeSeries: fields}
		}
	}
	if obj, ok := s.findObject(behaviorObjects.Pupil); ok {
		if fields := timeSeries(s, obj, nil, nil); len(fields) > 0 {
			b.PupilTracking = &SeriesGroup{TimeSeries: fields}
		}
	}
	if obj, ok := s.findObject(behaviorObjects.Epochs); ok {
		if fields := timeSeries(s, obj, nil, nil); len(fields) > 0 {
			b.BehavioralEpochs = &SeriesGroup{IntervalSeries: fields}
		}
	}
	if obj, ok := s.findObject(behaviorObjects.Position); ok {
		if fields := timeSeries(s, obj, []string{"dlc"}, nil); len(fields) > 0 && fields[0].Data.Name == obj+".dlc" {
			for i := range fields {
				fields[i].Unit = "mm"
			}
			b.Position = &SeriesGroup{SpatialSeries: fields}
		}
	}
	if b.Empty() {
		return nil
	}
	return b
}

func trialsSection(s *sessionInfo) []Field {
	obj, ok := s.findObject("trials")
	if !ok {
		return nil
	}
	return dynamicTable(s, obj, trialRenames, nil)
}

func stimulusSection(s *sessionInfo) *SeriesGroup {
	var fields []Field
	for _, key := range stimulusObjects {
		if obj, ok := s.findObject(key); ok {
			fields = append(fields, timeSeries(s, obj, nil, nil)...)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &SeriesGroup{TimeSeries: fields}
}

// unitsSection maps the cluster datasets onto the units table and appends
// the observation intervals, the per-cluster spike times and the metrics
// table columns.
func unitsSection(s *sessionInfo) []Field {
	obj, ok := s.findObject("clusters")
	if !ok {
		return nil
	}
	fields := dynamicTable(s, obj, unitRenames, unitDrops)

	trials := "trials"
	if t, ok := s.findObject("trials"); ok {
		trials = t
	}
	spikes := "spikes"
	if sp, ok := s.findObject("spikes"); ok {
		spikes = sp
	}
	fields = append(fields,
		Field{Name: "obs_intervals", Description: "time intervals of each cluster", Data: dataset.Ref(trials + ".intervals")},
		Field{Name: "spike_times", Description: "spike times of cluster", Data: dataset.Joined(spikes+".clusters", spikes+".times")},
	)
	for _, col := range MetricsColumns {
		fields = append(fields, Field{Name: col, Description: "metrics_table columns data", Data: dataset.Ref(obj + ".metrics")})
	}
	return fields
}

func electrodeSection(s *sessionInfo) []Field {
	obj, ok := s.findObject("channels")
	if !ok {
		return nil
	}
	return dynamicTable(s, obj, nil, nil)
}

// probesSection lists the probe insertions of the session. Sessions with
// probe datasets but no recorded insertion get two probes.
func probesSection(s *sessionInfo) []Probe {
	var out []Probe
	for i, ins := range s.insertions {
		name := ins.String("name")
		if name == "" || name == alyx.NullValue {
			name = fmt.Sprintf("probe%02d", i)
		}
		p := Probe{Name: name, Description: "NeuroPixels probe"}
		if m := ins.String("model"); m != "" && m != alyx.NullValue {
			p.Model = m
		}
		if sn := ins.String("serial"); sn != "" && sn != alyx.NullValue {
			p.Serial = sn
		}
		if id := ins.String("id"); id != "" && id != alyx.NullValue {
			p.Trajectory = id
		}
		out = append(out, p)
	}
	if len(out) > 0 {
		return out
	}
	if _, ok := s.findObject("probes"); ok {
		return []Probe{
			{Name: "probe00", Description: "NeuroPixels probe"},
			{Name: "probe01", Description: "NeuroPixels probe"},
		}
	}
	return nil
}

func ecephysSection(s *sessionInfo, probes []Probe) Ecephys {
	e := Ecephys{Device: []Device{}, ElectrodeGroup: []ElectrodeGroup{}}
	for _, p := range probes {
		e.Device = append(e.Device, Device{Name: p.Name, Description: "NeuroPixels probe"})
		e.ElectrodeGroup = append(e.ElectrodeGroup, ElectrodeGroup{
			Name:        p.Name,
			Description: "NeuroPixels device",
			Device:      p.Name,
		})
	}

	if obj, ok := s.findObject("spikes"); ok {
		if fields := timeSeries(s, obj, nil, nil); len(fields) > 0 {
			e.EventDetection = &EventDetection{SpikeEventSeries: fields}
		}
	}

	series := &EcephysSeries{}
	if obj, ok := s.findObject("ephysTimeRms"); ok && hasAttribute(s, obj, "rms") {
		series.ElectricalSeries = append(series.ElectricalSeries, Field{
			Name:        "ephysTimeRms",
			Description: describe(s, obj, "rms"),
			Data:        dataset.Ref(obj + ".rms"),
			Timestamps:  optionalRef(s, obj, "timestamps"),
		})
	}
	if obj, ok := s.findObject("ephysData"); ok {
		for _, band := range []string{"raw.ap", "raw.lf"} {
			if !hasAttribute(s, obj, band) {
				continue
			}
			series.ElectricalSeries = append(series.ElectricalSeries, Field{
				Name:        obj + "_" + strings.ReplaceAll(band, ".", "_"),
				Description: describe(s, obj, band),
				Data:        dataset.Ref(obj + "." + band),
				Timestamps:  optionalRef(s, obj, "raw.timestamps"),
			})
		}
	}
	if obj, ok := s.findObject("ephysSpectralDensity"); ok && hasAttribute(s, obj, "power") {
		series.Spectrum = append(series.Spectrum, Field{
			Name:        "ephysSpectralDensity",
			Description: describe(s, obj, "power"),
			Data:        dataset.Ref(obj + ".power"),
			Frequencies: optionalRef(s, obj, "freqs"),
		})
	}
	if len(series.ElectricalSeries) > 0 || len(series.Spectrum) > 0 {
		e.Ecephys = series
	}
	return e
}

func acquisitionSection(s *sessionInfo) *Acquisition {
	a := &Acquisition{}
	if obj, ok := s.findObject("Camera"); ok && hasAttribute(s, obj, "raw") {
		a.ImageSeries = append(a.ImageSeries, Field{
			Name:        "camera_raw",
			Description: describe(s, obj, "raw"),
			Data:        dataset.Ref(obj + ".raw"),
			Timestamps:  optionalRef(s, obj, "timestamps"),
		})
	}
	if obj, ok := s.findObject("audioSpectrogram"); ok && hasAttribute(s, obj, "power") {
		a.DecompositionSeries = append(a.DecompositionSeries, Field{
			Name:        "audioSpectrogram",
			Description: describe(s, obj, "power"),
			Data:        dataset.Ref(obj + ".power"),
			Timestamps:  optionalRef(s, obj, "times_mic"),
			Bands:       optionalRef(s, obj, "frequencies"),
			Metric:      "power",
		})
	}
	if obj, ok := s.findObject("ephysData"); ok && hasAttribute(s, obj, "raw.nidq") {
		a.ElectricalSeries = append(a.ElectricalSeries, Field{
			Name:        obj + "_raw_nidq",
			Description: describe(s, obj, "raw.nidq"),
			Data:        dataset.Ref(obj + ".raw.nidq"),
			Timestamps:  optionalRef(s, obj, "raw.timestamps"),
		})
	}
	if len(a.ImageSeries) == 0 && len(a.DecompositionSeries) == 0 && len(a.ElectricalSeries) == 0 {
		return nil
	}
	return a
}

func dropAttributes(attrs []attribute, drop []string) []attribute {
	if len(drop) == 0 {
		return attrs
	}
	out := make([]attribute, 0, len(attrs))
	for _, a := range attrs {
		if !contains(drop, a.Name) {
			out = append(out, a)
		}
	}
	return out
}

func findAttribute(attrs []attribute, name string) (attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return attribute{}, false
}

func hasAttribute(s *sessionInfo, obj, name string) bool {
	_, ok := findAttribute(s.objects[obj], name)
	return ok
}

func describe(s *sessionInfo, obj, name string) string {
	a, _ := findAttribute(s.objects[obj], name)
	return a.Description
}

func optionalRef(s *sessionInfo, obj, name string) dataset.Source {
	if !hasAttribute(s, obj, name) {
		return dataset.Literal(nil)
	}
	return dataset.Ref(obj + "." + name)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
