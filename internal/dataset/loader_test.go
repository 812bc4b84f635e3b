package dataset

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/alyx/alyxtest"
	"github.com/iblconvert/alyx2nwb/testutil"
)

const testEID = "c90cdfa0-0a76-4d40-8d4e-4b4ef5a4b8a1"

func newTestSession(fake *alyxtest.Fake, probes int, saveRaw bool) *SessionContext {
	return NewSessionContext(fake, testEID, Options{Probes: probes, SaveRaw: saveRaw})
}

func TestLoadMemoizesFetches(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "spikes.times", "alf/probe00", []int{3}, []float64{0.1, 0.2, 0.9})
	s := newTestSession(fake, 1, false)
	ctx := context.Background()

	first := s.Load(ctx, Ref("spikes.times"), "times")
	second := s.Load(ctx, Ref("spikes.times"), "times")
	if !first.Present() || !second.Present() {
		t.Fatalf("Load() absent: %v / %v", first.Absence, second.Absence)
	}
	if !reflect.DeepEqual(first.Value, second.Value) {
		t.Errorf("Load() second = %v, want %v", second.Value, first.Value)
	}
	if got := fake.LoadCount("spikes.times"); got != 1 {
		t.Errorf("LoadCount() = %d, want 1", got)
	}
}

func TestLoadMemoizesConcurrentCallers(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "wheel.position", "alf", []int{4}, []float64{1, 2, 3, 4})
	s := newTestSession(fake, 1, false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := s.Load(context.Background(), Ref("wheel.position"), "position"); !res.Present() {
				t.Errorf("Load() absent: %v", res.Absence)
			}
		}()
	}
	wg.Wait()

	if got := fake.LoadCount("wheel.position"); got != 1 {
		t.Errorf("LoadCount() = %d, want 1", got)
	}
	if got := s.FetchCount(); got != 1 {
		t.Errorf("FetchCount() = %d, want 1", got)
	}
}

func TestLoadRemembersFailures(t *testing.T) {
	fake := alyxtest.New()
	fake.FailLoad("trials.intervals", errors.New("connection reset"))
	s := newTestSession(fake, 1, false)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := s.Load(ctx, Ref("trials.intervals"), "intervals")
		if res.Absence != FetchFailed {
			t.Errorf("Load() absence = %v, want %v", res.Absence, FetchFailed)
		}
		if res.Err == nil {
			t.Error("Load() Err = nil, want fetch error")
		}
	}
	if got := fake.LoadCount("trials.intervals"); got != 1 {
		t.Errorf("LoadCount() = %d, want 1", got)
	}
}

func TestLoadAbsences(t *testing.T) {
	fake := alyxtest.New()
	fake.AddDataset(testEID, "licks.times", "", alyx.Item{Collection: "alf"})
	fake.AddFile(testEID, "probes.description", "alf", "probes.description.pdf", []byte("%PDF"))
	fake.AddFile(testEID, "ephysData.raw.ap", "raw_ephys_data/probe00", "raw.ap.cbin", []byte{0})

	tests := []struct {
		name string
		src  Source
		want Absence
	}{
		{"nil literal", Literal(nil), NilLiteral},
		{"unknown reference", Ref("eye.area"), NotFound},
		{"failure placeholder", Ref("licks.times"), Empty},
		{"unknown suffix", Ref("probes.description"), UnknownFormat},
		{"raw data excluded", Ref("ephysData.raw.ap"), Excluded},
	}

	s := newTestSession(fake, 1, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Load(context.Background(), tt.src, "")
			if res.Present() {
				t.Fatalf("Load() = %v, want absent", res.Value)
			}
			if res.Absence != tt.want {
				t.Errorf("Load() absence = %v, want %v", res.Absence, tt.want)
			}
		})
	}

	if got := fake.LoadCount("ephysData.raw.ap"); got != 0 {
		t.Errorf("LoadCount(excluded) = %d, want 0", got)
	}
}

func TestLoadLiteral(t *testing.T) {
	s := newTestSession(alyxtest.New(), 1, false)
	res := s.Load(context.Background(), Literal("mouse"), "species")
	if !res.Present() {
		t.Fatalf("Load() absent: %v", res.Absence)
	}
	if got := res.Value.(Scalar).V; got != "mouse" {
		t.Errorf("Load() = %v, want mouse", got)
	}
}

func TestLoadConcatenatesProbes(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "spikes.amps", "alf/probe00", []int{2}, []float64{1, 2})
	fake.AddArray(testEID, "spikes.amps", "alf/probe01", []int{3}, []float64{3, 4, 5})
	s := newTestSession(fake, 2, false)

	res := s.Load(context.Background(), Ref("spikes.amps"), "amps")
	if !res.Present() {
		t.Fatalf("Load() absent: %v", res.Absence)
	}
	want := Vector([]float64{1, 2, 3, 4, 5})
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Load() = %v, want %v", res.Value, want)
	}
}

func TestLoadRecordsTableLengths(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "clusters.depths", "alf/probe00", []int{3}, []float64{10, 20, 30})
	fake.AddArray(testEID, "clusters.depths", "alf/probe01", []int{2}, []float64{40, 50})
	fake.AddArray(testEID, "channels.localCoordinates", "alf/probe00", []int{4, 2}, make([]float64, 8))
	s := newTestSession(fake, 2, false)
	ctx := context.Background()

	s.Load(ctx, Ref("clusters.depths"), "depths")
	s.Load(ctx, Ref("channels.localCoordinates"), "localCoordinates")

	units, ok := s.Lengths(UnitTableLength)
	if !ok || !reflect.DeepEqual(units, []int{3, 2}) {
		t.Errorf("Lengths(%s) = %v, %v, want [3 2]", UnitTableLength, units, ok)
	}
	electrodes, ok := s.Lengths(ElectrodeTableLength)
	if !ok || !reflect.DeepEqual(electrodes, []int{4}) {
		t.Errorf("Lengths(%s) = %v, %v, want [4]", ElectrodeTableLength, electrodes, ok)
	}

	if s.SetLengths(UnitTableLength, []int{9}) {
		t.Error("SetLengths() overwrote an existing value")
	}
}

func TestLoadJoinedGroupsSpikes(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "spikes.clusters", "alf/probe00", []int{3}, []float64{0, 0, 2})
	fake.AddArray(testEID, "spikes.times", "alf/probe00", []int{3}, []float64{0.1, 0.2, 0.9})
	fake.AddArray(testEID, "clusters.depths", "alf/probe00", []int{3}, []float64{100, 200, 300})
	s := newTestSession(fake, 1, false)
	ctx := context.Background()
	src := Joined("spikes.clusters", "spikes.times")

	res := s.Load(ctx, src, "spike_times")
	if res.Absence != Precondition {
		t.Fatalf("Load() before cluster count absence = %v, want %v", res.Absence, Precondition)
	}

	if res := s.Load(ctx, Ref("clusters.depths"), "depths"); !res.Present() {
		t.Fatalf("Load(clusters.depths) absent: %v", res.Absence)
	}

	res = s.Load(ctx, src, "spike_times")
	if !res.Present() {
		t.Fatalf("Load() after cluster count absent: %v (%v)", res.Absence, res.Err)
	}
	g := res.Value.(Grouped)
	if len(g) != 3 {
		t.Fatalf("len(Grouped) = %d, want 3", len(g))
	}
	if !reflect.DeepEqual(g[0], []float64{0.1, 0.2}) {
		t.Errorf("Grouped[0] = %v, want [0.1 0.2]", g[0])
	}
	if len(g[1]) != 1 || !math.IsNaN(g[1][0]) {
		t.Errorf("Grouped[1] = %v, want [NaN]", g[1])
	}
	if !reflect.DeepEqual(g[2], []float64{0.9}) {
		t.Errorf("Grouped[2] = %v, want [0.9]", g[2])
	}

	s.Load(ctx, src, "spike_times")
	if got := fake.LoadCount("spikes.times"); got != 1 {
		t.Errorf("LoadCount(spikes.times) = %d, want 1", got)
	}
}

func TestLoadJoinedAcrossProbes(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "spikes.clusters", "alf/probe00", []int{2}, []float64{1, 1})
	fake.AddArray(testEID, "spikes.clusters", "alf/probe01", []int{2}, []float64{0, 5})
	fake.AddArray(testEID, "spikes.times", "alf/probe00", []int{2}, []float64{1, 2})
	fake.AddArray(testEID, "spikes.times", "alf/probe01", []int{2}, []float64{3, 4})
	s := newTestSession(fake, 2, false)
	s.SetLengths(UnitTableLength, []int{2, 1})

	res := s.Load(context.Background(), Joined("spikes.clusters", "spikes.times"), "spike_times")
	if !res.Present() {
		t.Fatalf("Load() absent: %v", res.Absence)
	}
	g := res.Value.(Grouped)
	if len(g) != 3 {
		t.Fatalf("len(Grouped) = %d, want 3", len(g))
	}
	if !math.IsNaN(g[0][0]) {
		t.Errorf("Grouped[0] = %v, want [NaN]", g[0])
	}
	if !reflect.DeepEqual(g[1], []float64{1, 2}) {
		t.Errorf("Grouped[1] = %v, want [1 2]", g[1])
	}
	if !reflect.DeepEqual(g[2], []float64{3}) {
		t.Errorf("Grouped[2] = %v, want [3]", g[2])
	}
}

func TestGroupBy(t *testing.T) {
	tests := []struct {
		name   string
		ids    []float64
		values []float64
		n      int
		want   [][]float64
	}{
		{"simple", []float64{0, 1, 0}, []float64{1, 2, 3}, 2, [][]float64{{1, 3}, {2}}},
		{"out of range ignored", []float64{0, 7, -1}, []float64{1, 2, 3}, 1, [][]float64{{1}}},
		{"short values", []float64{0, 0, 0}, []float64{5}, 1, [][]float64{{5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GroupBy(tt.ids, tt.values, tt.n)
			if !reflect.DeepEqual([][]float64(got), tt.want) {
				t.Errorf("GroupBy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadTableColumn(t *testing.T) {
	fake := alyxtest.New()
	csv := "cluster_id,amp_max,ks2_label\n0,1.5,good\n1,2.5,mua\n"
	fake.AddFile(testEID, "clusters.metrics", "alf/probe00", "clusters.metrics.csv", []byte(csv))
	s := newTestSession(fake, 1, false)
	ctx := context.Background()

	tests := []struct {
		key  string
		want Value
	}{
		{"amp_max", Vector([]float64{1.5, 2.5})},
		{"ks2_label", Strings{"good", "mua"}},
		{"id", Vector([]float64{0, 1})},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			res := s.Load(ctx, Ref("clusters.metrics"), tt.key)
			if !res.Present() {
				t.Fatalf("Load() absent: %v (%v)", res.Absence, res.Err)
			}
			if !reflect.DeepEqual(res.Value, tt.want) {
				t.Errorf("Load() = %v, want %v", res.Value, tt.want)
			}
		})
	}

	if res := s.Load(ctx, Ref("clusters.metrics"), "firing_rate"); res.Absence != NotFound {
		t.Errorf("Load(missing column) absence = %v, want %v", res.Absence, NotFound)
	}
	if got := fake.LoadCount("clusters.metrics"); got != 1 {
		t.Errorf("LoadCount() = %d, want 1", got)
	}
}

func TestLoadTextArray(t *testing.T) {
	fake := alyxtest.New()
	fake.AddFile(testEID, "channels.brainAcronyms", "alf/probe00", "channels.brainAcronyms.npy",
		testutil.EncodeStringNPY([]string{"CA1", "DG", "root"}))
	s := newTestSession(fake, 1, false)

	res := s.Load(context.Background(), Ref("channels.brainAcronyms"), "location")
	if !res.Present() {
		t.Fatalf("Load() absent: %v (%v)", res.Absence, res.Err)
	}
	want := Strings{"CA1", "DG", "root"}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Load() = %v, want %v", res.Value, want)
	}
}

func TestLoadPerFileNames(t *testing.T) {
	fake := alyxtest.New()
	fake.AddArray(testEID, "_iblqc_ephysTimeRms.rms", "raw_ephys_data/probe00", []int{2}, []float64{1, 2})
	fake.AddArray(testEID, "_iblqc_ephysTimeRms.rms", "raw_ephys_data/probe01", []int{2}, []float64{3, 4})
	s := newTestSession(fake, 2, false)

	res := s.Load(context.Background(), Ref("_iblqc_ephysTimeRms.rms"), "rms")
	if !res.Present() {
		t.Fatalf("Load() absent: %v", res.Absence)
	}
	files := res.Value.(Files)
	want := []string{"_iblqc_ephysTimeRms_probe00", "_iblqc_ephysTimeRms_probe01"}
	if !reflect.DeepEqual(files.Names, want) {
		t.Errorf("Files.Names = %v, want %v", files.Names, want)
	}
	names, ok := s.Names("_iblqc_ephysTimeRms.rms")
	if !ok || !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, %v, want %v", names, ok, want)
	}
	if v, ok := files.Lookup("_iblqc_ephysTimeRms_probe01"); !ok || v.Len() != 2 {
		t.Errorf("Lookup() = %v, %v", v, ok)
	}
}

func TestLoadCameraOrdersFiles(t *testing.T) {
	fake := alyxtest.New()
	fake.AddDataset(testEID, "camera.dlc", "",
		alyxtest.NPYItem("_ibl_leftCamera.dlc", "alf", []int{2, 2}, []float64{1, 2, 3, 4}),
		alyx.Item{LocalPath: "alf/_ibl_bodyCamera.dlc.json", Collection: "alf", Data: []byte(`{"columns": ["nose_x", "nose_y"]}`)},
	)
	s := newTestSession(fake, 1, false)

	res := s.Load(context.Background(), Ref("camera.dlc"), "dlc")
	if !res.Present() {
		t.Fatalf("Load() absent: %v (%v)", res.Absence, res.Err)
	}
	files := res.Value.(Files)
	want := []string{"_ibl_bodyCamera", "_ibl_leftCamera"}
	if !reflect.DeepEqual(files.Names, want) {
		t.Errorf("Files.Names = %v, want %v", files.Names, want)
	}
	recs, ok := files.Values[0].(Records)
	if !ok {
		t.Fatalf("Files.Values[0] = %T, want Records", files.Values[0])
	}
	if cols := recs.StringsOf("columns"); !reflect.DeepEqual(cols, []string{"nose_x", "nose_y"}) {
		t.Errorf("StringsOf(columns) = %v", cols)
	}
}

func TestLoadTimestampLog(t *testing.T) {
	fake := alyxtest.New()
	log := "2019-12-10T10:00:01.5000000-05:00 12\n2019-12-10T10:00:03.0000000-05:00 13\n"
	fake.AddFile(testEID, "_iblrig_Camera.timestamps", "raw_video_data", "_iblrig_leftCamera.timestamps.ssv", []byte(log))
	start := time.Date(2019, 12, 10, 10, 0, 0, 0, time.UTC)
	s := NewSessionContext(fake, testEID, Options{Probes: 1, SaveRaw: true, Start: start})

	res := s.Load(context.Background(), Ref("_iblrig_Camera.timestamps"), "timestamps")
	if !res.Present() {
		t.Fatalf("Load() absent: %v (%v)", res.Absence, res.Err)
	}
	files := res.Value.(Files)
	if len(files.Names) != 1 || files.Names[0] != "_iblrig_leftCamera" {
		t.Errorf("Files.Names = %v, want [_iblrig_leftCamera]", files.Names)
	}
	want := Vector([]float64{1.5, 3})
	if !reflect.DeepEqual(files.Values[0], want) {
		t.Errorf("Files.Values[0] = %v, want %v", files.Values[0], want)
	}
}

func TestLoadVideoPaths(t *testing.T) {
	fake := alyxtest.New()
	fake.AddFile(testEID, "_iblrig_Camera.raw", "raw_video_data", "_iblrig_leftCamera.raw.mp4", []byte{0})
	s := newTestSession(fake, 1, true)

	res := s.Load(context.Background(), Ref("_iblrig_Camera.raw"), "raw")
	if !res.Present() {
		t.Fatalf("Load() absent: %v", res.Absence)
	}
	want := Paths{"raw_video_data/_iblrig_leftCamera.raw.mp4"}
	if !reflect.DeepEqual(res.Value, want) {
		t.Errorf("Load() = %v, want %v", res.Value, want)
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   interface{}
		want Source
	}{
		{"spikes.times", Ref("spikes.times")},
		{"spikes.clusters, spikes.times", Joined("spikes.clusters", "spikes.times")},
		{"None", Literal(nil)},
		{"", Literal(nil)},
		{3.5, Literal(3.5)},
		{map[string]interface{}{"literal": "left"}, Literal("left")},
		{map[string]interface{}{"literal": "spikes.times"}, Literal("spikes.times")},
		{map[string]interface{}{"literal": "a", "other": "b"}, Literal(map[string]interface{}{"literal": "a", "other": "b"})},
	}
	for _, tt := range tests {
		got := ParseSource(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseSource(%v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if got := Joined("a.b", "c.d").Key(); got != "a.b,c.d" {
		t.Errorf("Key() = %q, want a.b,c.d", got)
	}
}
