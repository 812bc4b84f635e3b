package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
)

// Processing module names
const (
	moduleBehavior = "behavior"
	moduleEcephys  = "ecephys"
)

var moduleDescriptions = map[string]string{
	moduleBehavior: "behavioral data",
	moduleEcephys:  "processed electrophysiology",
}

// processed adds a series to a processing module interface, creating the
// module on the first series written to it.
func (c *Converter) processed(module, kind string, o nwb.Object) {
	c.file.AddProcessed(module, moduleDescriptions[module], kind, o)
}

// positionConversion scales tracked coordinates to millimetres
const positionConversion = 1e3

// series loads the data and timestamps of a field into a Series. A series
// without timestamps, or with a different number of them, is omitted.
func (c *Converter) series(ctx context.Context, rep *SectionReport, f metadata.Field) (nwb.Series, bool) {
	v, ok := c.load(ctx, rep, f.Name, f.Data)
	if !ok {
		return nwb.Series{}, false
	}
	data, ok := asArray(v)
	if !ok {
		rep.omit(f.Name, fmt.Sprintf("%T data", v))
		return nwb.Series{}, false
	}
	tv, ok := c.load(ctx, rep, f.Name+".timestamps", f.Timestamps)
	if !ok {
		rep.omit(f.Name, "no timestamps")
		return nwb.Series{}, false
	}
	ts, ok := timeVector(tv)
	if !ok || len(ts) != data.Len() {
		internal.LogDebug("%s: %s has %d samples and %d timestamps", c.doc.EID, f.Name, data.Len(), len(ts))
		rep.omit(f.Name, "timestamps do not match data")
		return nwb.Series{}, false
	}
	unit := f.Unit
	if unit == "" {
		unit = "n.a."
	}
	return nwb.Series{
		Name:        f.Name,
		Description: f.Description,
		Unit:        unit,
		Data:        toNWB(data),
		Timestamps:  ts,
	}, true
}

func (c *Converter) writeStimulus(ctx context.Context, rep *SectionReport) error {
	if c.doc.Stimulus == nil {
		return nil
	}
	for _, f := range c.doc.Stimulus.TimeSeries {
		s, ok := c.series(ctx, rep, f)
		if !ok {
			continue
		}
		c.file.AddStimulus(&nwb.TimeSeries{Series: s})
		rep.wrote(f.Name)
	}
	return nil
}

// writeTrials builds the trials table. start_time and stop_time are the two
// columns of the trial intervals; without them there is no table.
func (c *Converter) writeTrials(ctx context.Context, rep *SectionReport) error {
	if len(c.doc.Trials) == 0 {
		return nil
	}
	values := make(map[string]dataset.Value)
	for _, f := range c.doc.Trials {
		if v, ok := c.load(ctx, rep, f.Name, f.Data); ok {
			values[f.Name] = v
		}
	}
	start, ok1 := boundary(values["start_time"], 0)
	stop, ok2 := boundary(values["stop_time"], 1)
	if !ok1 || !ok2 || len(start) != len(stop) {
		rep.omit("trials", "no trial intervals")
		return nil
	}
	n := len(start)

	trials := nwb.NewTrials()
	add := func(col nwb.Column) {
		if err := trials.AddColumn(col); err != nil {
			internal.LogWarn("%s: trials column %s: %v", c.doc.EID, col.Name, err)
			rep.omit(col.Name, "shape")
			return
		}
		rep.wrote(col.Name)
	}
	for _, f := range c.doc.Trials {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		switch f.Name {
		case "start_time":
			add(nwb.FloatColumn(f.Name, f.Description, start))
			continue
		case "stop_time":
			add(nwb.FloatColumn(f.Name, f.Description, stop))
			continue
		}
		col, err := column(f.Name, f.Description, v, n)
		if err != nil {
			internal.LogDebug("%s: trials field %s: %v", c.doc.EID, f.Name, err)
			rep.omit(f.Name, "shape")
			continue
		}
		add(col)
	}
	c.file.Trials = trials
	return nil
}

// boundary reads one end of the trial intervals: column j of an (n, 2)
// array, or a plain vector.
func boundary(v dataset.Value, j int) ([]float64, bool) {
	a, ok := asArray(v)
	if !ok {
		return nil, false
	}
	switch len(a.Shape) {
	case 1:
		return a.Data, true
	case 2:
		if a.Shape[1] > j {
			return a.Column(j), true
		}
	}
	return nil, false
}

func (c *Converter) writeEcephys(ctx context.Context, rep *SectionReport) error {
	e := c.doc.Ecephys
	if e.EventDetection == nil && e.Ecephys == nil {
		return nil
	}
	if err := c.ensureElectrodes(ctx, rep); err != nil {
		return err
	}
	if e.EventDetection != nil {
		for _, f := range e.EventDetection.SpikeEventSeries {
			s, ok := c.series(ctx, rep, f)
			if !ok {
				continue
			}
			c.processed(moduleEcephys, "EventDetection", &nwb.SpikeEventSeries{Series: s, Electrodes: c.allProbes})
			rep.wrote(f.Name)
		}
	}
	if e.Ecephys == nil {
		return nil
	}
	for _, f := range e.Ecephys.ElectricalSeries {
		v, ok := c.load(ctx, rep, f.Name, f.Data)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case dataset.Readers:
			c.rawSeries(ctx, rep, f, t, true)
		default:
			c.perFileSeries(ctx, rep, f, v)
		}
	}
	for _, f := range e.Ecephys.Spectrum {
		c.spectra(ctx, rep, f)
	}
	return nil
}

// perFileSeries writes one electrical series per file of a per-probe
// dataset, e.g. the RMS of each probe and band.
func (c *Converter) perFileSeries(ctx context.Context, rep *SectionReport, f metadata.Field, v dataset.Value) {
	tv, _ := c.load(ctx, rep, f.Name+".timestamps", f.Timestamps)
	for j, name := range fileNames(v, f.Name) {
		dv, _ := fileValue(v, name, j)
		data, ok := asArray(dv)
		if !ok {
			rep.omit(name, "not numeric")
			continue
		}
		tsv, ok := fileValue(tv, "", j)
		ts, ok2 := timeVector(tsv)
		if !ok || !ok2 || len(ts) != data.Len() {
			rep.omit(name, "timestamps do not match data")
			continue
		}
		c.processed(moduleEcephys, "Ecephys", &nwb.ElectricalSeries{
			Series: nwb.Series{
				Name:        name,
				Description: f.Description,
				Unit:        "volts",
				Data:        toNWB(data),
				Timestamps:  ts,
			},
			Electrodes: c.region(c.probeOf(name, j)),
		})
		rep.wrote(name)
	}
}

// rawSeries wraps every raw recording in a chunk iterator. Probe recordings
// are tied to their probe's electrodes; auxiliary channels are not.
func (c *Converter) rawSeries(ctx context.Context, rep *SectionReport, f metadata.Field, readers dataset.Readers, probe bool) {
	tv, _ := c.load(ctx, rep, f.Name+".timestamps", f.Timestamps)
	for j, r := range readers {
		c.readers = append(c.readers, r)
		name := f.Name
		if len(readers) > 1 {
			name = fmt.Sprintf("%s_%s", f.Name, c.probeName(j))
		}
		s := &nwb.ElectricalSeries{
			Series: nwb.Series{
				Name:        name,
				Description: f.Description,
				Unit:        "volts",
				Rate:        r.SampleRate(),
			},
			Chunks: nwb.NewChunkIterator(r, c.opts.ChunkRows),
		}
		// the synchronisation table holds (sample, time) pairs
		if tsv, ok := fileValue(tv, "", j); ok {
			if a, ok := asArray(tsv); ok && len(a.Shape) == 2 && a.Shape[1] >= 2 && a.Len() > 0 {
				s.StartingTime = a.At(0, 1)
			}
		}
		if probe {
			s.Electrodes = c.region(j)
		}
		c.file.AddAcquisition(s)
		rep.wrote(name)
	}
}

func (c *Converter) spectra(ctx context.Context, rep *SectionReport, f metadata.Field) {
	v, ok := c.load(ctx, rep, f.Name, f.Data)
	if !ok {
		return
	}
	fv, _ := c.load(ctx, rep, f.Name+".frequencies", f.Frequencies)
	for j, name := range fileNames(v, f.Name) {
		dv, _ := fileValue(v, name, j)
		power, ok := asArray(dv)
		if !ok {
			rep.omit(name, "not numeric")
			continue
		}
		s := &nwb.Spectrum{
			Name:        name,
			Description: f.Description,
			Power:       toNWB(power),
			Electrodes:  c.region(c.probeOf(name, j)),
		}
		if freqs, ok := fileValue(fv, "", j); ok {
			if a, ok := asArray(freqs); ok {
				s.Frequencies = a.Data
			}
		}
		if err := s.Validate(); err != nil {
			internal.LogDebug("%s: %v", c.doc.EID, err)
			rep.omit(name, "frequencies do not match power")
			continue
		}
		c.processed(moduleEcephys, "Spectrum", s)
		rep.wrote(name)
	}
}

// fileNames names the series made from each file of a value. Single values
// keep the field name.
func fileNames(v dataset.Value, field string) []string {
	files, ok := v.(dataset.Files)
	if !ok {
		return []string{field}
	}
	out := make([]string, len(files.Values))
	for j := range out {
		if j < len(files.Names) && files.Names[j] != "" {
			out[j] = files.Names[j]
		} else {
			out[j] = fmt.Sprintf("%s_%d", field, j)
		}
	}
	return out
}

// probeOf finds the probe a per-file name belongs to by its directory
// suffix, falling back to the file position.
func (c *Converter) probeOf(name string, j int) int {
	for p := 0; p < c.probes; p++ {
		if strings.HasSuffix(name, "_"+c.probeName(p)) {
			return p
		}
	}
	return j
}

func (c *Converter) writeBehavior(ctx context.Context, rep *SectionReport) error {
	b := c.doc.Behavior
	if b.Empty() {
		return nil
	}
	plain := []struct {
		kind  string
		group *metadata.SeriesGroup
	}{
		{"BehavioralTimeSeries", b.BehavioralTimeSeries},
		{"BehavioralEvents", b.BehavioralEvents},
		{"PupilTracking", b.PupilTracking},
	}
	for _, p := range plain {
		if p.group == nil {
			continue
		}
		for _, f := range p.group.TimeSeries {
			s, ok := c.series(ctx, rep, f)
			if !ok {
				continue
			}
			c.processed(moduleBehavior, p.kind, &nwb.TimeSeries{Series: s})
			rep.wrote(f.Name)
		}
	}

	if b.BehavioralEpochs != nil {
		for _, f := range b.BehavioralEpochs.IntervalSeries {
			if s, ok := c.epochs(ctx, rep, f); ok {
				c.processed(moduleBehavior, "BehavioralEpochs", s)
				rep.wrote(f.Name)
			}
		}
	}

	if b.Position != nil {
		for _, f := range b.Position.SpatialSeries {
			for _, s := range c.positions(ctx, rep, f) {
				c.processed(moduleBehavior, "Position", s)
				rep.wrote(s.Name)
			}
		}
	}
	return nil
}

// epochs builds an interval series from the (n, 2) intervals in a field's
// timestamps. A data vector of the same length gives the epoch values.
func (c *Converter) epochs(ctx context.Context, rep *SectionReport, f metadata.Field) (*nwb.IntervalSeries, bool) {
	src := f.Timestamps
	if src.IsZero() {
		src = f.Data
	}
	tv, ok := c.load(ctx, rep, f.Name, src)
	if !ok {
		return nil, false
	}
	ivs, ok := intervals(tv)
	if !ok {
		rep.omit(f.Name, "not intervals")
		return nil, false
	}
	var values []float64
	if f.Data.Key() != src.Key() {
		if v, ok := c.load(ctx, rep, f.Name, f.Data); ok {
			if a, ok := asArray(v); ok && len(a.Shape) == 1 && a.Len() == len(ivs) {
				values = a.Data
			}
		}
	}
	s, err := nwb.NewIntervalSeries(f.Name, f.Description, ivs, values)
	if err != nil {
		rep.omit(f.Name, "shape")
		return nil, false
	}
	return s, true
}

// positions builds one spatial series per tracked point of every camera.
// The JSON record of a camera names the columns of its array; each "x"
// column starts an (x, y) pair. Missing tracking data yields nothing.
func (c *Converter) positions(ctx context.Context, rep *SectionReport, f metadata.Field) []*nwb.SpatialSeries {
	res := c.sess.Load(ctx, f.Data, f.Name)
	if !res.Present() {
		return nil
	}
	files, ok := res.Value.(dataset.Files)
	if !ok {
		return nil
	}
	tres := c.sess.Load(ctx, f.Timestamps, f.Name+".timestamps")

	columns := make(map[string][]string)
	for j, v := range files.Values {
		if recs, ok := v.(dataset.Records); ok {
			columns[files.Names[j]] = recs.StringsOf("columns")
		}
	}

	unit := f.Unit
	if unit == "" {
		unit = "mm"
	}
	var out []*nwb.SpatialSeries
	for j, v := range files.Values {
		data, ok := v.(dataset.Array)
		if !ok || len(data.Shape) != 2 {
			continue
		}
		camera := files.Names[j]
		cols := columns[camera]
		if len(cols) != data.Shape[1] {
			rep.omit(camera, "columns do not match tracking data")
			continue
		}
		var ts []float64
		if tres.Present() {
			if tv, ok := fileValue(tres.Value, camera, -1); ok {
				ts, _ = timeVector(tv)
			}
		}
		if len(ts) != data.Len() {
			rep.omit(camera, "timestamps do not match data")
			continue
		}
		prefix := strings.TrimPrefix(camera, "_ibl_")
		for i, col := range cols {
			if !strings.HasSuffix(col, "x") || i+2 > len(cols) {
				continue
			}
			point := strings.TrimSuffix(strings.TrimSuffix(col, "x"), "_")
			out = append(out, &nwb.SpatialSeries{
				Series: nwb.Series{
					Name:        prefix + "_" + point,
					Description: f.Description,
					Unit:        unit,
					Data:        toNWB(data.Columns(i, i+2)),
					Timestamps:  ts,
					Conversion:  positionConversion,
				},
				ReferenceFrame: "pixels of " + prefix,
			})
		}
	}
	return out
}

// writeAcquisition writes the raw recordings: videos as external files, the
// audio spectrogram, and auxiliary channels.
func (c *Converter) writeAcquisition(ctx context.Context, rep *SectionReport) error {
	a := c.doc.Acquisition
	if a == nil {
		return nil
	}
	for _, f := range a.ImageSeries {
		c.videos(ctx, rep, f)
	}
	for _, f := range a.DecompositionSeries {
		if s, ok := c.decomposition(ctx, rep, f); ok {
			c.file.AddAcquisition(s)
			rep.wrote(f.Name)
		}
	}
	for _, f := range a.ElectricalSeries {
		v, ok := c.load(ctx, rep, f.Name, f.Data)
		if !ok {
			continue
		}
		readers, ok := v.(dataset.Readers)
		if !ok {
			rep.omit(f.Name, fmt.Sprintf("%T data", v))
			continue
		}
		c.rawSeries(ctx, rep, f, readers, false)
	}
	return nil
}

func (c *Converter) videos(ctx context.Context, rep *SectionReport, f metadata.Field) {
	v, ok := c.load(ctx, rep, f.Name, f.Data)
	if !ok {
		return
	}
	paths, ok := v.(dataset.Paths)
	if !ok {
		rep.omit(f.Name, fmt.Sprintf("%T data", v))
		return
	}
	tv, _ := c.load(ctx, rep, f.Name+".timestamps", f.Timestamps)
	for j, p := range paths {
		name := strings.SplitN(filepath.Base(p), ".", 2)[0]
		tsv, ok := fileValue(tv, name, j)
		ts, ok2 := timeVector(tsv)
		if !ok || !ok2 {
			rep.omit(name, "no timestamps")
			continue
		}
		c.file.AddAcquisition(&nwb.ImageSeries{
			Series: nwb.Series{
				Name:        name,
				Description: f.Description,
				Unit:        "n.a.",
				Timestamps:  ts,
			},
			ExternalFile: []string{p},
			Format:       "external",
		})
		rep.wrote(name)
	}
}

// decomposition turns explicit timestamps into a start time and rate and
// orders the data (time, band).
func (c *Converter) decomposition(ctx context.Context, rep *SectionReport, f metadata.Field) (*nwb.DecompositionSeries, bool) {
	v, ok := c.load(ctx, rep, f.Name, f.Data)
	if !ok {
		return nil, false
	}
	data, ok := asArray(v)
	if !ok || len(data.Shape) != 2 {
		rep.omit(f.Name, "not a matrix")
		return nil, false
	}
	tv, ok := c.load(ctx, rep, f.Name+".timestamps", f.Timestamps)
	if !ok {
		rep.omit(f.Name, "no timestamps")
		return nil, false
	}
	ts, _ := timeVector(tv)
	start, rate, ok := regularTime(ts)
	if !ok {
		rep.omit(f.Name, "irregular timestamps")
		return nil, false
	}
	if data.Shape[0] != len(ts) && data.Shape[1] == len(ts) {
		data = transpose2(data)
	}
	s := &nwb.DecompositionSeries{
		Series: nwb.Series{
			Name:         f.Name,
			Description:  f.Description,
			Unit:         "n.a.",
			Data:         toNWB(data),
			StartingTime: start,
			Rate:         rate,
		},
		Metric: f.Metric,
	}
	if bv, ok := c.load(ctx, rep, f.Name+".bands", f.Bands); ok {
		if b, ok := asArray(bv); ok {
			s.Bands = b.Data
		}
	}
	if err := s.Validate(); err != nil {
		internal.LogDebug("%s: %v", c.doc.EID, err)
		rep.omit(f.Name, "bands do not match data")
		return nil, false
	}
	return s, true
}
