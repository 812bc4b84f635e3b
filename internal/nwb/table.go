package nwb

import (
	"fmt"
)

// Column is one column of a dynamic table. Exactly one of Values, Text or
// Ragged is set. Values may be multi-dimensional, with Shape[0] rows.
type Column struct {
	Name        string
	Description string
	Values      []float64
	Shape       []int
	Text        []string
	Ragged      [][]float64
}

// FloatColumn returns a 1-D numeric column
func FloatColumn(name, description string, v []float64) Column {
	return Column{Name: name, Description: description, Values: v, Shape: []int{len(v)}}
}

// TextColumn returns a text column
func TextColumn(name, description string, v []string) Column {
	return Column{Name: name, Description: description, Text: v}
}

// RaggedColumn returns a column with a variable-length list per row
func RaggedColumn(name, description string, v [][]float64) Column {
	return Column{Name: name, Description: description, Ragged: v}
}

// Len is the number of rows of the column
func (c Column) Len() int {
	switch {
	case c.Ragged != nil:
		return len(c.Ragged)
	case c.Text != nil:
		return len(c.Text)
	case len(c.Shape) > 0:
		return c.Shape[0]
	}
	return len(c.Values)
}

// DynamicTable is a table of equally long columns with integer row ids
type DynamicTable struct {
	Name        string
	Description string
	IDs         []int64
	Columns     []Column
	required    []string
}

// NewDynamicTable creates an empty table
func NewDynamicTable(name, description string) *DynamicTable {
	return &DynamicTable{Name: name, Description: description}
}

// NewTrials creates a trials table, which requires start and stop times
func NewTrials() *DynamicTable {
	t := NewDynamicTable("trials", "experimental trials")
	t.required = []string{"start_time", "stop_time"}
	return t
}

// NewUnits creates a units table
func NewUnits() *DynamicTable {
	return NewDynamicTable("units", "data on spike-sorted units")
}

// ObjectName implements Object
func (t *DynamicTable) ObjectName() string { return t.Name }

// TypeName implements Object
func (t *DynamicTable) TypeName() string { return "DynamicTable" }

// Len is the number of rows; zero for a table without ids or columns
func (t *DynamicTable) Len() int {
	if t.IDs != nil {
		return len(t.IDs)
	}
	if len(t.Columns) > 0 {
		return t.Columns[0].Len()
	}
	return 0
}

// SetIDs sets the row ids. Their count must match existing columns.
func (t *DynamicTable) SetIDs(ids []int64) error {
	if len(t.Columns) > 0 && t.Columns[0].Len() != len(ids) {
		return fmt.Errorf("%s: %d ids for %d rows", t.Name, len(ids), t.Columns[0].Len())
	}
	t.IDs = ids
	return nil
}

// AddColumn appends a column, or replaces one of the same name. Its length
// must match the table's.
func (t *DynamicTable) AddColumn(c Column) error {
	if c.Name == "" {
		return fmt.Errorf("%s: column has no name", t.Name)
	}
	idx := -1
	for i := range t.Columns {
		if t.Columns[i].Name == c.Name {
			idx = i
		}
	}
	// only a lone column without ids may change the row count
	sized := t.IDs != nil || len(t.Columns) > 1 || (len(t.Columns) == 1 && idx < 0)
	if sized && c.Len() != t.Len() {
		return fmt.Errorf("%s: column %s has %d rows, table has %d", t.Name, c.Name, c.Len(), t.Len())
	}
	if idx >= 0 {
		t.Columns[idx] = c
		return nil
	}
	t.Columns = append(t.Columns, c)
	return nil
}

// Column returns a column by name
func (t *DynamicTable) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Validate implements Object
func (t *DynamicTable) Validate() error {
	for _, r := range t.required {
		if _, ok := t.Column(r); !ok {
			return fmt.Errorf("%s: missing required column %s", t.Name, r)
		}
	}
	n := t.Len()
	for _, c := range t.Columns {
		if c.Len() != n {
			return fmt.Errorf("%s: column %s has %d rows, table has %d", t.Name, c.Name, c.Len(), n)
		}
	}
	return nil
}

// ElectrodeTable is the electrodes table plus the regions cut from it
type ElectrodeTable struct {
	DynamicTable
	Regions []*ElectrodeRegion
}

// NewElectrodeTable creates an empty electrode table
func NewElectrodeTable() *ElectrodeTable {
	return &ElectrodeTable{DynamicTable: *NewDynamicTable("electrodes", "metadata about extracellular electrodes")}
}

// ElectrodeRegion is a named selection of electrode table rows
type ElectrodeRegion struct {
	Name        string
	Description string
	Rows        []int
}

// CreateRegion selects rows [from, to) of the table
func (t *ElectrodeTable) CreateRegion(name, description string, from, to int) (*ElectrodeRegion, error) {
	if from < 0 || to < from || to > t.Len() {
		return nil, fmt.Errorf("region %s [%d, %d) outside %d electrodes", name, from, to, t.Len())
	}
	rows := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, i)
	}
	r := &ElectrodeRegion{Name: name, Description: description, Rows: rows}
	t.Regions = append(t.Regions, r)
	return r, nil
}

// Region returns a region created earlier
func (t *ElectrodeTable) Region(name string) (*ElectrodeRegion, bool) {
	for _, r := range t.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}
