package dataset

import "math"

// Absence says why a load produced no value
type Absence int

const (
	// Present means the load produced a value
	Present Absence = iota
	// NotFound means the database returned no files for the reference
	NotFound
	// Empty means the first file was a failure placeholder or had no data
	Empty
	// Excluded means the raw-data policy skipped the reference
	Excluded
	// UnknownFormat means no rule normalizes the file suffix
	UnknownFormat
	// Precondition means a derived value the load depends on is not known yet
	Precondition
	// FetchFailed means the remote call or file decoding failed
	FetchFailed
	// NilLiteral means the field holds no data at all
	NilLiteral
)

func (a Absence) String() string {
	switch a {
	case Present:
		return "Present"
	case NotFound:
		return "NotFound"
	case Empty:
		return "Empty"
	case Excluded:
		return "Excluded"
	case UnknownFormat:
		return "UnknownFormat"
	case Precondition:
		return "Precondition"
	case FetchFailed:
		return "FetchFailed"
	case NilLiteral:
		return "Literal"
	default:
		return "Unknown"
	}
}

// Result is the outcome of one load. Callers treat any absence as "this
// field does not exist for the session"; Err is kept for diagnostics only.
type Result struct {
	Value   Value
	Absence Absence
	Err     error
}

// Present reports whether the load produced a value
func (r Result) Present() bool {
	return r.Absence == Present && r.Value != nil
}

func found(v Value) Result {
	return Result{Value: v}
}

func absent(kind Absence, err error) Result {
	return Result{Absence: kind, Err: err}
}

func nan() float64 { return math.NaN() }
