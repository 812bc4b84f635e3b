package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
)

// perFileObjects keep one value per file, named "<stem>_<probe dir>"
var perFileObjects = map[string]bool{
	"_iblqc_ephysSpectralDensity": true,
	"_iblqc_ephysTimeRms":         true,
	"ephysData":                   true,
}

// Load materializes a field source. keyHint is the destination field name;
// it selects the column of a spreadsheet dataset.
func (s *SessionContext) Load(ctx context.Context, src Source, keyHint string) Result {
	res := s.load(ctx, src, keyHint)
	if !res.Present() {
		s.opts.Metrics.ObserveAbsent(res.Absence.String())
		if src.Kind != SourceLiteral {
			internal.LogDebug("%s: %s absent (%s): %v", s.SessionID, src.Key(), res.Absence, res.Err)
		}
	}
	return res
}

func (s *SessionContext) load(ctx context.Context, src Source, keyHint string) Result {
	switch src.Kind {
	case SourceLiteral:
		if src.Literal == nil {
			return absent(NilLiteral, nil)
		}
		return found(Scalar{V: src.Literal})
	case SourceJoined:
		return s.loadJoined(ctx, src)
	}

	ref := src.Name
	if s.excluded(ref) {
		return absent(Excluded, nil)
	}
	bundle, err := s.fetch(ctx, ref)
	if err != nil {
		return absent(FetchFailed, err)
	}
	if bundle == nil || len(bundle.Items) == 0 {
		return absent(NotFound, nil)
	}
	if bundle.Items[0].Missing() {
		return absent(Empty, nil)
	}
	return s.normalize(ref, keyHint, bundle.Items)
}

// LoadPerProbe returns one decoded value per file of a numeric or text
// dataset, in probe order.
func (s *SessionContext) LoadPerProbe(ctx context.Context, ref string) ([]Value, Result) {
	if s.excluded(ref) {
		return nil, absent(Excluded, nil)
	}
	bundle, err := s.fetch(ctx, ref)
	if err != nil {
		return nil, absent(FetchFailed, err)
	}
	if bundle.Empty() {
		return nil, absent(Empty, nil)
	}
	var out []Value
	for _, item := range bundle.Items {
		if item.Missing() {
			continue
		}
		v, err := decodeItem(item)
		if err != nil {
			return nil, absent(FetchFailed, err)
		}
		out = append(out, v)
	}
	return out, found(Files{Values: out})
}

// normalize routes by file suffix. The last file decides for array and table
// formats, the first for raw recordings, videos and timestamp logs.
func (s *SessionContext) normalize(ref, keyHint string, items []alyx.Item) Result {
	last := strings.ToLower(items[len(items)-1].Suffix())
	first := strings.ToLower(items[0].Suffix())
	obj := alyx.Object(ref)

	switch {
	case obj == "camera":
		return s.loadCamera(ref, items)
	case last == ".npy" || last == ".csv" || last == ".tsv":
		return s.loadArrays(ref, keyHint, items)
	case last == ".json":
		return s.loadRecords(items)
	case (first == ".cbin" || first == ".bin") && s.opts.SaveRaw:
		return s.loadReaders(items)
	case (first == ".mp4" || first == ".avi") && s.opts.SaveRaw:
		paths := make(Paths, 0, len(items))
		for _, it := range items {
			if !it.Missing() {
				paths = append(paths, it.LocalPath)
			}
		}
		return found(paths)
	case first == ".ssv" && s.opts.SaveRaw:
		return s.loadTimestampLogs(ref, items)
	}
	return absent(UnknownFormat, fmt.Errorf("no rule for %q files", last))
}

func (s *SessionContext) loadArrays(ref, keyHint string, items []alyx.Item) Result {
	obj := alyx.Object(ref)
	values := make([]Value, 0, len(items))
	for _, it := range items {
		if it.Missing() {
			continue
		}
		v, err := decodeItem(it)
		if err != nil {
			return absent(FetchFailed, &internal.ParseError{Format: strings.TrimPrefix(it.Suffix(), "."), Path: it.LocalPath, Err: err})
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return absent(Empty, nil)
	}

	if perFileObjects[obj] {
		names := make([]string, 0, len(items))
		for _, it := range items {
			if !it.Missing() {
				names = append(names, stem(it.Name())+"_"+it.Parent())
			}
		}
		s.SetNames(ref, names)
		return found(Files{Names: names, Values: values})
	}
	if strings.Contains(ref, "audioSpectrogram.times") {
		return found(values[0])
	}

	switch obj {
	case "clusters":
		s.SetLengths(UnitTableLength, leadingLengths(values))
	case "channels":
		s.SetLengths(ElectrodeTableLength, leadingLengths(values))
	}

	if _, ok := values[0].(Table); ok {
		column := keyHint
		if column == "id" {
			column = "cluster_id"
		}
		cols := make([]Value, 0, len(values))
		for _, v := range values {
			t, ok := v.(Table)
			if !ok {
				return absent(FetchFailed, fmt.Errorf("%s mixes tables and arrays", ref))
			}
			col, ok := t.Column(column)
			if !ok {
				return absent(NotFound, fmt.Errorf("%s has no column %q", ref, column))
			}
			cols = append(cols, col)
		}
		values = cols
	}

	v, err := concatValues(values)
	if err != nil {
		return absent(FetchFailed, fmt.Errorf("%s: %w", ref, err))
	}
	return found(v)
}

// loadCamera orders pose-estimation files by (extension, stem), so JSON column
// descriptions come before the arrays they describe, and records the stems.
func (s *SessionContext) loadCamera(ref string, items []alyx.Item) Result {
	type entry struct {
		item alyx.Item
		ext  string
		stem string
	}
	entries := make([]entry, 0, len(items))
	for _, it := range items {
		if it.Missing() {
			continue
		}
		name := it.Name()
		ext := name
		if i := strings.LastIndex(name, "."); i >= 0 {
			ext = name[i+1:]
		}
		entries = append(entries, entry{item: it, ext: ext, stem: stem(name)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ext != entries[j].ext {
			return entries[i].ext < entries[j].ext
		}
		return entries[i].stem < entries[j].stem
	})

	out := Files{}
	for _, e := range entries {
		v, err := decodeItem(e.item)
		if err != nil {
			return absent(FetchFailed, &internal.ParseError{Format: e.ext, Path: e.item.LocalPath, Err: err})
		}
		out.Names = append(out.Names, e.stem)
		out.Values = append(out.Values, v)
	}
	if len(out.Values) == 0 {
		return absent(Empty, nil)
	}
	s.SetNames(ref, out.Names)
	return found(out)
}

func (s *SessionContext) loadRecords(items []alyx.Item) Result {
	var out Records
	for _, it := range items {
		if it.Missing() {
			continue
		}
		data, err := readItem(it)
		if err != nil {
			return absent(FetchFailed, err)
		}
		recs, err := decodeJSON(data)
		if err != nil {
			return absent(FetchFailed, &internal.ParseError{Format: "json", Path: it.LocalPath, Err: err})
		}
		out = append(out, recs...)
	}
	return found(out)
}

// loadReaders wraps every raw file in a lazy reader. A file whose sidecar
// cannot be read makes the whole dataset absent.
func (s *SessionContext) loadReaders(items []alyx.Item) Result {
	out := make(Readers, 0, len(items))
	for _, it := range items {
		if it.Missing() {
			continue
		}
		var (
			r   *RawReader
			err error
		)
		if strings.EqualFold(it.Suffix(), ".cbin") {
			ch, ok := s.sidecar(it, ".ch")
			if !ok {
				ch = siblingItem(it, ".ch")
			}
			r, err = newCompressedReader(it, ch)
		} else {
			meta, ok := s.sidecar(it, ".meta")
			if !ok {
				meta = siblingItem(it, ".meta")
			}
			r, err = newPlainReader(it, meta)
		}
		if err != nil {
			return absent(FetchFailed, &internal.ParseError{Format: strings.TrimPrefix(it.Suffix(), "."), Path: it.LocalPath, Err: err})
		}
		out = append(out, r)
	}
	return found(out)
}

func (s *SessionContext) loadTimestampLogs(ref string, items []alyx.Item) Result {
	internal.LogInfo("converting camera timestamps for %s", s.SessionID)
	out := Files{}
	for _, it := range items {
		if it.Missing() {
			continue
		}
		data, err := readItem(it)
		if err != nil {
			return absent(FetchFailed, err)
		}
		arr, err := decodeSSV(data, s.opts.Start)
		if err != nil {
			return absent(FetchFailed, &internal.ParseError{Format: "ssv", Path: it.LocalPath, Err: err})
		}
		out.Names = append(out.Names, stem(it.Name()))
		out.Values = append(out.Values, arr)
	}
	s.SetNames(ref, out.Names)
	return found(out)
}

// loadJoined groups the second dataset by the first, per probe. It needs the
// per-probe cluster counts; until they are known the result is absent and
// nothing is cached, so a later call can succeed.
func (s *SessionContext) loadJoined(ctx context.Context, src Source) Result {
	key := src.Key()
	if g, ok := s.cachedJoined(key); ok {
		s.opts.Metrics.ObserveCacheHit()
		return found(g)
	}

	ids, res := s.loadPerProbeArrays(ctx, src.Name)
	if !res.Present() {
		return res
	}
	vals, res := s.loadPerProbeArrays(ctx, src.Second)
	if !res.Present() {
		return res
	}
	counts, ok := s.Lengths(UnitTableLength)
	if !ok {
		return absent(Precondition, errors.New("cluster count per probe not known yet"))
	}

	probes := s.opts.Probes
	if probes > len(ids) {
		probes = len(ids)
	}
	if probes > len(vals) {
		probes = len(vals)
	}
	if probes > len(counts) {
		probes = len(counts)
	}

	var merged Grouped
	for p := 0; p < probes; p++ {
		merged = append(merged, GroupBy(ids[p].Data, vals[p].Data, counts[p])...)
	}
	s.storeJoined(key, merged)
	return found(merged)
}

func (s *SessionContext) loadPerProbeArrays(ctx context.Context, ref string) ([]Array, Result) {
	vals, res := s.LoadPerProbe(ctx, ref)
	if !res.Present() {
		return nil, res
	}
	out := make([]Array, 0, len(vals))
	for _, v := range vals {
		a, ok := v.(Array)
		if !ok {
			return nil, absent(FetchFailed, fmt.Errorf("%s is not numeric", ref))
		}
		out = append(out, a)
	}
	return out, res
}

// GroupBy collects values by integer id into n groups, preserving order.
// Groups with no values hold a single NaN; ids outside [0, n) are ignored.
func GroupBy(ids, values []float64, n int) Grouped {
	groups := make(Grouped, n)
	for i, id := range ids {
		if i >= len(values) {
			break
		}
		k := int(id)
		if k < 0 || k >= n {
			continue
		}
		groups[k] = append(groups[k], values[i])
	}
	for k := range groups {
		if groups[k] == nil {
			groups[k] = []float64{nan()}
		}
	}
	return groups
}

func decodeItem(it alyx.Item) (Value, error) {
	data, err := readItem(it)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(it.Suffix()) {
	case ".npy":
		return decodeNPY(data)
	case ".csv":
		return decodeTable(data, ',')
	case ".tsv":
		return decodeTable(data, '\t')
	case ".json":
		return decodeJSON(data)
	}
	return nil, fmt.Errorf("unsupported file %s", it.Name())
}

func concatValues(values []Value) (Value, error) {
	switch values[0].(type) {
	case Array:
		parts := make([]Array, 0, len(values))
		for _, v := range values {
			a, ok := v.(Array)
			if !ok {
				return nil, errors.New("cannot concatenate arrays with text")
			}
			parts = append(parts, a)
		}
		return Concat(parts)
	case Strings:
		var out Strings
		for _, v := range values {
			s, ok := v.(Strings)
			if !ok {
				return nil, errors.New("cannot concatenate text with arrays")
			}
			out = append(out, s...)
		}
		return out, nil
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return nil, fmt.Errorf("cannot concatenate %T values", values[0])
}

func leadingLengths(values []Value) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = v.Len()
	}
	return out
}

// stem returns the part of a file name before the first dot
func stem(name string) string {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}
