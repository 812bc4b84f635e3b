package convert

import (
	"context"
	"fmt"
	"math"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
)

// AllProbesRegion names the region spanning every electrode
const AllProbesRegion = "AllProbes"

// ElectrodeBuilds reports how many times the electrode table was built
func (c *Converter) ElectrodeBuilds() int { return c.electrodeBuilds }

// ensureElectrodes builds the electrode table, the devices and electrode
// groups of every probe, and one region per probe plus one over all probes.
// Only the first call does any work.
func (c *Converter) ensureElectrodes(ctx context.Context, rep *SectionReport) error {
	if c.electrodes != nil {
		return nil
	}
	c.electrodeBuilds++

	c.writeGroups(rep)

	loaded := make([]metadata.Field, 0, len(c.doc.ElectrodeTable))
	values := make(map[string]dataset.Value)
	for _, f := range c.doc.ElectrodeTable {
		if v, ok := c.load(ctx, rep, f.Name, f.Data); ok {
			loaded = append(loaded, f)
			values[f.Name] = v
		}
	}

	c.electrodeRows = c.probeCounts(dataset.ElectrodeTableLength)
	rows := 0
	for _, n := range c.electrodeRows {
		rows += n
	}

	et := nwb.NewElectrodeTable()
	add := func(col nwb.Column) {
		if err := et.AddColumn(col); err != nil {
			internal.LogWarn("%s: electrode column %s: %v", c.doc.EID, col.Name, err)
			rep.omit(col.Name, "shape")
			return
		}
		rep.wrote(col.Name)
	}

	if _, ok := values["group"]; !ok {
		group := make([]float64, 0, rows)
		names := make([]string, 0, rows)
		for p, n := range c.electrodeRows {
			for i := 0; i < n; i++ {
				group = append(group, float64(p))
				names = append(names, c.doc.Probes[p].Name)
			}
		}
		add(nwb.FloatColumn("group", "probe index of each electrode", group))
		add(nwb.TextColumn("group_name", "name of the electrode group", names))
	}
	for _, axis := range []string{"x", "y"} {
		if _, ok := values[axis]; !ok {
			add(nwb.FloatColumn(axis, "no_description", nanVector(rows)))
		}
	}
	for _, f := range loaded {
		col, err := column(f.Name, f.Description, values[f.Name], rows)
		if err != nil {
			internal.LogDebug("%s: electrode field %s: %v", c.doc.EID, f.Name, err)
			rep.omit(f.Name, "shape")
			continue
		}
		add(col)
	}

	offset := 0
	for p, n := range c.electrodeRows {
		r, err := et.CreateRegion(c.doc.Probes[p].Name, "electrodes of "+c.doc.Probes[p].Name, offset, offset+n)
		if err != nil {
			return err
		}
		c.regions = append(c.regions, r)
		offset += n
	}
	all, err := et.CreateRegion(AllProbesRegion, "electrodes of all probes", 0, rows)
	if err != nil {
		return err
	}
	c.allProbes = all

	if err := c.file.SetElectrodes(et); err != nil {
		return err
	}
	c.electrodes = et
	return nil
}

// writeGroups registers a device and an electrode group for each probe
func (c *Converter) writeGroups(rep *SectionReport) {
	devices := c.doc.Ecephys.Device
	for p := 0; p < c.probes && p < len(devices); p++ {
		c.file.AddDevice(&nwb.Device{Name: devices[p].Name, Description: devices[p].Description})
	}
	groups := c.doc.Ecephys.ElectrodeGroup
	for p := 0; p < c.probes && p < len(groups); p++ {
		g := groups[p]
		dev, ok := c.file.Device(g.Device)
		if !ok {
			dev = &nwb.Device{Name: g.Device, Description: "NeuroPixels probe"}
			c.file.AddDevice(dev)
		}
		c.file.AddElectrodeGroup(&nwb.ElectrodeGroup{
			Name:        g.Name,
			Description: g.Description,
			Location:    g.Location,
			Device:      dev,
		})
		rep.wrote("electrode_group " + g.Name)
	}
}

// probeCounts returns a derived per-probe length for each of the session's
// probes; unknown lengths are zero.
func (c *Converter) probeCounts(key string) []int {
	out := make([]int, c.probes)
	counts, ok := c.sess.Lengths(key)
	if !ok {
		return out
	}
	for p := 0; p < c.probes && p < len(counts); p++ {
		out[p] = counts[p]
	}
	return out
}

// region returns the region of probe j, or the all-probes region
func (c *Converter) region(j int) *nwb.ElectrodeRegion {
	if j >= 0 && j < len(c.regions) {
		return c.regions[j]
	}
	return c.allProbes
}

func (c *Converter) probeName(j int) string {
	if j < len(c.doc.Probes) {
		return c.doc.Probes[j].Name
	}
	return fmt.Sprintf("probe%02d", j)
}

// writeProbes completes the probe devices with model and serial and keeps
// the insertion records as lab metadata.
func (c *Converter) writeProbes(rep *SectionReport) error {
	if len(c.doc.Probes) == 0 {
		return nil
	}
	records := make(map[string]interface{})
	for p, probe := range c.doc.Probes {
		if p >= c.probes {
			break
		}
		desc := probe.Description
		if probe.Model != "" {
			desc += ", model " + probe.Model
		}
		if probe.Serial != "" {
			desc += ", serial " + probe.Serial
		}
		if d, ok := c.file.Device(probe.Name); ok {
			d.Description = desc
		} else {
			c.file.AddDevice(&nwb.Device{Name: probe.Name, Description: desc})
		}
		records[probe.Name] = map[string]interface{}{
			"model":      probe.Model,
			"serial":     probe.Serial,
			"trajectory": probe.Trajectory,
		}
		rep.wrote(probe.Name)
	}
	c.file.AddLabMetadata(nwb.LabMetadata{Name: "ibl_probes", Kind: "IblProbes", Fields: records})
	return nil
}

func nanVector(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
