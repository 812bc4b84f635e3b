package convert

import (
	"fmt"

	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/nwb"
)

func toNWB(a dataset.Array) nwb.Array {
	return nwb.Array{Shape: append([]int(nil), a.Shape...), Values: a.Data}
}

func asArray(v dataset.Value) (dataset.Array, bool) {
	a, ok := v.(dataset.Array)
	return a, ok
}

// timeVector reads timestamps. Intervals and (sample, time) pairs give their
// first column.
func timeVector(v dataset.Value) ([]float64, bool) {
	a, ok := asArray(v)
	if !ok {
		return nil, false
	}
	if len(a.Shape) == 2 {
		return a.Column(0), true
	}
	return a.Data, true
}

// intervals reads an (n, 2) array as start/stop pairs
func intervals(v dataset.Value) ([][2]float64, bool) {
	a, ok := asArray(v)
	if !ok || len(a.Shape) != 2 || a.Shape[1] != 2 {
		return nil, false
	}
	out := make([][2]float64, a.Len())
	for i := range out {
		out[i] = [2]float64{a.At(i, 0), a.At(i, 1)}
	}
	return out, true
}

// headRows keeps the first n leading-axis entries of a value
func headRows(v dataset.Value, n int) dataset.Value {
	if v.Len() <= n {
		return v
	}
	switch t := v.(type) {
	case dataset.Array:
		shape := append([]int(nil), t.Shape...)
		shape[0] = n
		return dataset.Array{Shape: shape, Data: t.Data[:n*t.RowSize()]}
	case dataset.Strings:
		return t[:n]
	case dataset.Grouped:
		return t[:n]
	}
	return v
}

// column turns a loaded value into a table column of n rows. Literals are
// repeated on every row.
func column(name, description string, v dataset.Value, n int) (nwb.Column, error) {
	if s, ok := v.(dataset.Scalar); ok {
		if x, ok := number(s.V); ok {
			vals := make([]float64, n)
			for i := range vals {
				vals[i] = x
			}
			return nwb.FloatColumn(name, description, vals), nil
		}
		text := make([]string, n)
		for i := range text {
			text[i] = fmt.Sprint(s.V)
		}
		return nwb.TextColumn(name, description, text), nil
	}
	if v.Len() < n {
		return nwb.Column{}, fmt.Errorf("%d rows, want %d", v.Len(), n)
	}
	switch t := headRows(v, n).(type) {
	case dataset.Array:
		return nwb.Column{Name: name, Description: description, Values: t.Data, Shape: append([]int(nil), t.Shape...)}, nil
	case dataset.Strings:
		return nwb.TextColumn(name, description, []string(t)), nil
	case dataset.Grouped:
		return nwb.RaggedColumn(name, description, [][]float64(t)), nil
	}
	return nwb.Column{}, fmt.Errorf("cannot make a column from %T", v)
}

// number reads a numeric literal. YAML documents decode whole numbers as int.
func number(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// meanChannels averages a (units, samples, channels) array over channels
func meanChannels(a dataset.Array) dataset.Array {
	if len(a.Shape) != 3 || a.Shape[2] == 0 {
		return a
	}
	n, m, k := a.Shape[0], a.Shape[1], a.Shape[2]
	out := dataset.Array{Shape: []int{n, m}, Data: make([]float64, n*m)}
	for r := 0; r < n*m; r++ {
		var sum float64
		for _, v := range a.Data[r*k : (r+1)*k] {
			sum += v
		}
		out.Data[r] = sum / float64(k)
	}
	return out
}

// transpose2 swaps the axes of a 2-D array
func transpose2(a dataset.Array) dataset.Array {
	rows, cols := a.Shape[0], a.Shape[1]
	out := dataset.Array{Shape: []int{cols, rows}, Data: make([]float64, len(a.Data))}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[j*rows+i] = a.Data[i*cols+j]
		}
	}
	return out
}

// regularTime turns explicit timestamps into a start time and a rate from
// the mean sampling interval.
func regularTime(ts []float64) (start, rate float64, ok bool) {
	if len(ts) < 2 {
		return 0, 0, false
	}
	mean := (ts[len(ts)-1] - ts[0]) / float64(len(ts)-1)
	if mean <= 0 {
		return 0, 0, false
	}
	return ts[0], 1 / mean, true
}

// fileValue picks the value of file j, matching by name first
func fileValue(v dataset.Value, name string, j int) (dataset.Value, bool) {
	switch t := v.(type) {
	case dataset.Files:
		if name != "" {
			if x, ok := t.Lookup(name); ok {
				return x, true
			}
		}
		if j >= 0 && j < len(t.Values) {
			return t.Values[j], true
		}
		return nil, false
	}
	return v, j == 0
}
