package convert

import (
	"context"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
)

// Units columns with dedicated handling; every other field becomes an
// extra per-unit column.
const (
	unitID           = "id"
	unitWaveformMean = "waveform_mean"
	unitElectrodes   = "electrodes"
	unitGroup        = "electrode_group"
	unitSpikeTimes   = "spike_times"
	unitObsIntervals = "obs_intervals"
)

// writeUnits builds the units table. Plain datasets load first so the
// per-probe cluster counts are known before the grouped spike times are
// requested.
func (c *Converter) writeUnits(ctx context.Context, rep *SectionReport) error {
	if len(c.doc.Units) == 0 {
		return nil
	}
	if err := c.ensureElectrodes(ctx, rep); err != nil {
		return err
	}

	values := make(map[string]dataset.Value)
	var order []metadata.Field
	for _, pass := range []bool{false, true} {
		for _, f := range c.doc.Units {
			if (f.Data.Kind == dataset.SourceJoined) != pass {
				continue
			}
			if v, ok := c.load(ctx, rep, f.Name, f.Data); ok {
				values[f.Name] = v
				order = append(order, f)
			}
		}
	}

	counts := c.probeCounts(dataset.UnitTableLength)
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		rep.omit("units", "no clusters")
		return nil
	}

	units := nwb.NewUnits()
	if err := units.SetIDs(unitIDs(values[unitID], counts)); err != nil {
		return err
	}
	rep.wrote(unitID)

	add := func(col nwb.Column) {
		if err := units.AddColumn(col); err != nil {
			internal.LogWarn("%s: units column %s: %v", c.doc.EID, col.Name, err)
			rep.omit(col.Name, "shape")
			return
		}
		rep.wrote(col.Name)
	}

	for _, f := range order {
		v := values[f.Name]
		switch f.Name {
		case unitID:
			continue
		case unitWaveformMean:
			if a, ok := asArray(v); ok {
				v = meanChannels(a)
			}
		case unitElectrodes:
			if a, ok := asArray(v); ok && len(a.Shape) == 1 {
				v = c.electrodeRowsOf(a, counts)
			}
		case unitGroup:
			// resolved from probe membership below
			continue
		case unitObsIntervals:
			if a, ok := asArray(v); ok {
				v = repeatRows(a.Data, total)
			}
		}
		col, err := column(f.Name, f.Description, v, total)
		if err != nil {
			internal.LogDebug("%s: units field %s: %v", c.doc.EID, f.Name, err)
			rep.omit(f.Name, "shape")
			continue
		}
		add(col)
	}

	if groups := c.unitGroups(counts); groups != nil {
		add(nwb.TextColumn(unitGroup, "electrode group of each unit", groups))
	}

	c.file.Units = units
	return nil
}

// unitIDs offsets the cluster ids of each probe after the first so every
// id is greater than all ids of earlier probes. Without an id dataset the
// row index within the probe is used.
func unitIDs(v dataset.Value, counts []int) []int64 {
	src, haveIDs := v.(dataset.Array)
	total := 0
	for _, n := range counts {
		total += n
	}
	if haveIDs && len(src.Data) < total {
		haveIDs = false
	}

	ids := make([]int64, 0, total)
	start := 0
	prevMax := int64(-1)
	for k, n := range counts {
		var offset int64
		if k > 0 {
			offset = int64(start)
			if prevMax+1 > offset {
				offset = prevMax + 1
			}
		}
		for i := 0; i < n; i++ {
			raw := int64(i)
			if haveIDs && src.Data[start+i] >= 0 {
				raw = int64(src.Data[start+i])
			}
			id := raw + offset
			if id > prevMax {
				prevMax = id
			}
			ids = append(ids, id)
		}
		start += n
	}
	return ids
}

// electrodeRowsOf turns per-probe channel indices into electrode table rows
func (c *Converter) electrodeRowsOf(channels dataset.Array, counts []int) dataset.Array {
	out := dataset.Array{Shape: append([]int(nil), channels.Shape...), Data: append([]float64(nil), channels.Data...)}
	start, offset := 0, 0
	for k, n := range counts {
		for i := start; i < start+n && i < len(out.Data); i++ {
			out.Data[i] += float64(offset)
		}
		start += n
		if k < len(c.electrodeRows) {
			offset += c.electrodeRows[k]
		}
	}
	return out
}

// unitGroups names the electrode group of every unit by its probe. It is
// nil when a probe has no registered group.
func (c *Converter) unitGroups(counts []int) []string {
	var out []string
	for k, n := range counts {
		g, ok := c.file.ElectrodeGroup(c.probeName(k))
		if !ok {
			if n > 0 {
				return nil
			}
			continue
		}
		for i := 0; i < n; i++ {
			out = append(out, g.Name)
		}
	}
	return out
}

// repeatRows gives every unit the same flattened list
func repeatRows(v []float64, n int) dataset.Grouped {
	out := make(dataset.Grouped, n)
	for i := range out {
		out[i] = v
	}
	return out
}
