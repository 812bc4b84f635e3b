package nwb

import (
	"fmt"
)

// Object is anything stored under a name in a group: a series or a table
type Object interface {
	ObjectName() string
	TypeName() string
	Validate() error
}

// Array is a dense row-major float64 array
type Array struct {
	Shape  []int
	Values []float64
}

// Vector returns a 1-D array
func Vector(v []float64) Array {
	return Array{Shape: []int{len(v)}, Values: v}
}

// Matrix returns a 2-D array of rows x cols values
func Matrix(rows, cols int, v []float64) Array {
	return Array{Shape: []int{rows, cols}, Values: v}
}

// Len is the size of the leading axis
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return len(a.Values)
	}
	return a.Shape[0]
}

func (a Array) check() error {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	if len(a.Shape) > 0 && n != len(a.Values) {
		return fmt.Errorf("shape %v does not hold %d values", a.Shape, len(a.Values))
	}
	return nil
}

// Series holds what every time series has in common. Time is given either
// by Timestamps or by StartingTime and Rate.
type Series struct {
	Name         string
	Description  string
	Unit         string
	Comments     string
	Data         Array
	Timestamps   []float64
	StartingTime float64
	Rate         float64
	Conversion   float64
}

// ObjectName implements Object
func (s *Series) ObjectName() string { return s.Name }

func (s *Series) validate(needTime bool) error {
	if s.Name == "" {
		return fmt.Errorf("series has no name")
	}
	if err := s.Data.check(); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	if s.Timestamps != nil && s.Data.Len() != len(s.Timestamps) {
		return fmt.Errorf("%s: %d timestamps for %d samples", s.Name, len(s.Timestamps), s.Data.Len())
	}
	if needTime && s.Timestamps == nil && s.Rate <= 0 {
		return fmt.Errorf("%s: neither timestamps nor a rate", s.Name)
	}
	return nil
}

func (s *Series) conversion() float64 {
	if s.Conversion == 0 {
		return 1
	}
	return s.Conversion
}

// TimeSeries is a generic sampled signal
type TimeSeries struct {
	Series
}

// TypeName implements Object
func (*TimeSeries) TypeName() string { return "TimeSeries" }

// Validate implements Object
func (t *TimeSeries) Validate() error { return t.validate(true) }

// SpatialSeries is a tracked position
type SpatialSeries struct {
	Series
	ReferenceFrame string
}

// TypeName implements Object
func (*SpatialSeries) TypeName() string { return "SpatialSeries" }

// Validate implements Object
func (s *SpatialSeries) Validate() error { return s.validate(true) }

// IntervalSeries encodes epochs as alternating start/stop timestamps with
// a positive value at each start and its negation at each stop.
type IntervalSeries struct {
	Series
}

// NewIntervalSeries flattens [start, stop] pairs. values may be nil, which
// marks every epoch with 1.
func NewIntervalSeries(name, description string, intervals [][2]float64, values []float64) (*IntervalSeries, error) {
	if values != nil && len(values) != len(intervals) {
		return nil, fmt.Errorf("%s: %d values for %d intervals", name, len(values), len(intervals))
	}
	ts := make([]float64, 0, 2*len(intervals))
	data := make([]float64, 0, 2*len(intervals))
	for i, iv := range intervals {
		v := 1.0
		if values != nil {
			v = values[i]
		}
		ts = append(ts, iv[0], iv[1])
		data = append(data, v, -v)
	}
	return &IntervalSeries{Series: Series{
		Name:        name,
		Description: description,
		Unit:        "n.a.",
		Data:        Vector(data),
		Timestamps:  ts,
	}}, nil
}

// TypeName implements Object
func (*IntervalSeries) TypeName() string { return "IntervalSeries" }

// Validate implements Object
func (s *IntervalSeries) Validate() error { return s.validate(true) }

// ElectricalSeries is voltage or a derived per-channel signal. Raw
// recordings carry Chunks instead of Data and are streamed on save.
type ElectricalSeries struct {
	Series
	Electrodes *ElectrodeRegion
	Chunks     *ChunkIterator
}

// TypeName implements Object
func (*ElectricalSeries) TypeName() string { return "ElectricalSeries" }

// Validate implements Object
func (s *ElectricalSeries) Validate() error {
	if s.Chunks != nil {
		if s.Rate <= 0 {
			return fmt.Errorf("%s: chunked series needs a rate", s.Name)
		}
		return nil
	}
	return s.validate(true)
}

// SpikeEventSeries holds spike snapshots or amplitudes at spike times
type SpikeEventSeries struct {
	Series
	Electrodes *ElectrodeRegion
}

// TypeName implements Object
func (*SpikeEventSeries) TypeName() string { return "SpikeEventSeries" }

// Validate implements Object
func (s *SpikeEventSeries) Validate() error { return s.validate(true) }

// DecompositionSeries is a spectral decomposition with data ordered
// (time, band) and a side table naming the bands.
type DecompositionSeries struct {
	Series
	Metric string
	Bands  []float64
}

// TypeName implements Object
func (*DecompositionSeries) TypeName() string { return "DecompositionSeries" }

// Validate implements Object
func (s *DecompositionSeries) Validate() error {
	if err := s.validate(true); err != nil {
		return err
	}
	if len(s.Data.Shape) == 2 && len(s.Bands) > 0 && s.Data.Shape[1] != len(s.Bands) {
		return fmt.Errorf("%s: %d bands for data of shape %v", s.Name, len(s.Bands), s.Data.Shape)
	}
	return nil
}

// Spectrum is a power spectral density per channel
type Spectrum struct {
	Name        string
	Description string
	Frequencies []float64
	Power       Array
	Electrodes  *ElectrodeRegion
}

// ObjectName implements Object
func (s *Spectrum) ObjectName() string { return s.Name }

// TypeName implements Object
func (*Spectrum) TypeName() string { return "Spectrum" }

// Validate implements Object
func (s *Spectrum) Validate() error {
	if err := s.Power.check(); err != nil {
		return fmt.Errorf("%s: %w", s.Name, err)
	}
	if s.Frequencies != nil && s.Power.Len() != len(s.Frequencies) {
		return fmt.Errorf("%s: %d frequencies for %d power rows", s.Name, len(s.Frequencies), s.Power.Len())
	}
	return nil
}

// ImageSeries references video files stored next to the container
type ImageSeries struct {
	Series
	ExternalFile []string
	Format       string
}

// TypeName implements Object
func (*ImageSeries) TypeName() string { return "ImageSeries" }

// Validate implements Object
func (s *ImageSeries) Validate() error {
	if len(s.ExternalFile) == 0 {
		return fmt.Errorf("%s: no external file", s.Name)
	}
	if s.Timestamps == nil && s.Rate <= 0 {
		return fmt.Errorf("%s: neither timestamps nor a rate", s.Name)
	}
	return nil
}
