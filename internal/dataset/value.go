package dataset

import (
	"fmt"
	"strconv"
)

// Value is a normalized dataset. The concrete types are Array, Strings,
// Table, Grouped, Files, Paths, Readers and Records.
type Value interface {
	// Len is the size of the leading axis
	Len() int
}

// Array is a dense row-major float64 array
type Array struct {
	Shape []int
	Data  []float64
}

// Vector returns a 1-D array over data
func Vector(data []float64) Array {
	return Array{Shape: []int{len(data)}, Data: data}
}

// Len implements Value
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return len(a.Data)
	}
	return a.Shape[0]
}

// RowSize is the number of elements per leading-axis entry
func (a Array) RowSize() int {
	n := 1
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// Row returns the i-th leading-axis entry, flattened
func (a Array) Row(i int) []float64 {
	w := a.RowSize()
	return a.Data[i*w : (i+1)*w]
}

// At returns a[i, j] of a 2-D array
func (a Array) At(i, j int) float64 {
	return a.Data[i*a.RowSize()+j]
}

// Column returns column j of a 2-D array
func (a Array) Column(j int) []float64 {
	n := a.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a.At(i, j)
	}
	return out
}

// Columns returns columns [from, to) of a 2-D array as a new array
func (a Array) Columns(from, to int) Array {
	n := a.Len()
	w := to - from
	out := Array{Shape: []int{n, w}, Data: make([]float64, 0, n*w)}
	for i := 0; i < n; i++ {
		row := a.Row(i)
		out.Data = append(out.Data, row[from:to]...)
	}
	return out
}

// Strings is a 1-D array of text values
type Strings []string

// Len implements Value
func (s Strings) Len() int { return len(s) }

// Table is a parsed spreadsheet: named columns of raw cells
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len implements Value
func (t Table) Len() int { return len(t.Rows) }

// Column extracts one column. It is numeric when every cell parses as a
// number and text otherwise. ok is false when the column does not exist.
func (t Table) Column(name string) (v Value, ok bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	nums := make([]float64, len(t.Rows))
	numeric := true
	for i, row := range t.Rows {
		cell := ""
		if idx < len(row) {
			cell = row[idx]
		}
		f, err := parseCell(cell)
		if err != nil {
			numeric = false
			break
		}
		nums[i] = f
	}
	if numeric {
		return Vector(nums), true
	}
	text := make(Strings, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			text[i] = row[idx]
		}
	}
	return text, true
}

func parseCell(cell string) (float64, error) {
	switch cell {
	case "", "nan", "NaN":
		return nan(), nil
	case "True":
		return 1, nil
	case "False":
		return 0, nil
	}
	return strconv.ParseFloat(cell, 64)
}

// Grouped is a ragged per-unit list, e.g. spike times per cluster
type Grouped [][]float64

// Len implements Value
func (g Grouped) Len() int { return len(g) }

// Files keeps one value per source file together with a derived name
type Files struct {
	Names  []string
	Values []Value
}

// Len implements Value
func (f Files) Len() int { return len(f.Values) }

// Lookup returns the value recorded under name
func (f Files) Lookup(name string) (Value, bool) {
	for i, n := range f.Names {
		if n == name {
			return f.Values[i], true
		}
	}
	return nil, false
}

// Paths are references to external files, e.g. videos
type Paths []string

// Len implements Value
func (p Paths) Len() int { return len(p) }

// Readers are lazy readers over raw binary recordings, one per file
type Readers []*RawReader

// Len implements Value
func (r Readers) Len() int { return len(r) }

// Records are decoded JSON documents
type Records []map[string]interface{}

// Len implements Value
func (r Records) Len() int { return len(r) }

// StringsOf returns the string list under key of the first record
func (r Records) StringsOf(key string) []string {
	if len(r) == 0 {
		return nil
	}
	raw, _ := r[0][key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

// Scalar is a literal value taken from the metadata document
type Scalar struct {
	V interface{}
}

// Len implements Value
func (Scalar) Len() int { return 1 }

// Concat joins arrays along the leading axis. Trailing dimensions must agree.
func Concat(parts []Array) (Array, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	var out Array
	for i, p := range parts {
		if i == 0 {
			out.Shape = append([]int(nil), p.Shape...)
			out.Data = append(out.Data, p.Data...)
			continue
		}
		if len(p.Shape) != len(out.Shape) {
			return Array{}, fmt.Errorf("cannot concatenate shapes %v and %v", out.Shape, p.Shape)
		}
		for d := 1; d < len(p.Shape); d++ {
			if p.Shape[d] != out.Shape[d] {
				return Array{}, fmt.Errorf("cannot concatenate shapes %v and %v", out.Shape, p.Shape)
			}
		}
		out.Shape[0] += p.Shape[0]
		out.Data = append(out.Data, p.Data...)
	}
	return out, nil
}
