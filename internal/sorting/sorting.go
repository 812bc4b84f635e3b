// Package sorting exposes the spike sorting of a session as per-unit spike
// trains, numbering units across probes.
package sorting

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
)

// SamplingFrequency is the clock spike times are converted to, in Hz
const SamplingFrequency = 30000.0

// NoLimit leaves one end of a frame range open
const NoLimit int64 = -1

// Sorting is the spike sorting of one session. Units of probe k are
// numbered after all units of probes 0..k-1.
type Sorting struct {
	trains map[int][]float64
	probe  map[int]string
	counts []int
	probes []string
}

// Load reads spikes.clusters and spikes.times of every probe. probes names
// the probes in file order; missing names are made up from the position.
func Load(ctx context.Context, sess *dataset.SessionContext, probes []string) (*Sorting, error) {
	clusters, res := sess.LoadPerProbe(ctx, "spikes.clusters")
	if !res.Present() {
		return nil, fmt.Errorf("%s: spikes.clusters %s: %v", sess.SessionID, res.Absence, res.Err)
	}
	times, res := sess.LoadPerProbe(ctx, "spikes.times")
	if !res.Present() {
		return nil, fmt.Errorf("%s: spikes.times %s: %v", sess.SessionID, res.Absence, res.Err)
	}
	if len(clusters) != len(times) {
		return nil, fmt.Errorf("%s: %d cluster files for %d time files", sess.SessionID, len(clusters), len(times))
	}
	known, _ := sess.Lengths(dataset.UnitTableLength)

	s := &Sorting{trains: make(map[int][]float64), probe: make(map[int]string)}
	shift := 0
	for k := range clusters {
		ids, ok1 := clusters[k].(dataset.Array)
		ts, ok2 := times[k].(dataset.Array)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%s: spike file %d is not numeric", sess.SessionID, k)
		}
		name := fmt.Sprintf("probe%02d", k)
		if k < len(probes) {
			name = probes[k]
		}
		units := unitCount(ids.Data)
		if k < len(known) && known[k] > units {
			units = known[k]
		}
		for i, c := range ids.Data {
			if i >= len(ts.Data) {
				break
			}
			unit := shift + int(c)
			s.trains[unit] = append(s.trains[unit], ts.Data[i])
			s.probe[unit] = name
		}
		s.counts = append(s.counts, units)
		s.probes = append(s.probes, name)
		shift += units
	}
	internal.LogDebug("%s: %d units with spikes on %d probes", sess.SessionID, len(s.trains), len(s.counts))
	return s, nil
}

// unitCount is one more than the largest cluster id
func unitCount(ids []float64) int {
	max := -1.0
	for _, c := range ids {
		if c > max {
			max = c
		}
	}
	return int(max) + 1
}

// UnitIDs returns the units that have spikes, ascending
func (s *Sorting) UnitIDs() []int {
	out := make([]int, 0, len(s.trains))
	for u := range s.trains {
		out = append(out, u)
	}
	sort.Ints(out)
	return out
}

// UnitCounts returns the number of units of each probe
func (s *Sorting) UnitCounts() map[string]int {
	out := make(map[string]int, len(s.probes))
	for i, p := range s.probes {
		out[p] = s.counts[i]
	}
	return out
}

// Probes returns the probe names in file order
func (s *Sorting) Probes() []string { return s.probes }

// Probe returns the probe a unit was recorded on
func (s *Sorting) Probe(unit int) (string, bool) {
	p, ok := s.probe[unit]
	return p, ok
}

// SpikeTrain returns the spike frames of a unit in [start, end). Either end
// may be NoLimit.
func (s *Sorting) SpikeTrain(unit int, start, end int64) ([]int64, error) {
	times, ok := s.trains[unit]
	if !ok {
		return nil, fmt.Errorf("unknown unit %d", unit)
	}
	out := make([]int64, 0, len(times))
	for _, t := range times {
		f := int64(math.Trunc(t * SamplingFrequency))
		if start != NoLimit && f < start {
			continue
		}
		if end != NoLimit && f >= end {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
