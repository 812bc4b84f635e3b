package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/testutil"
)

func TestDocumentRoundTrip(t *testing.T) {
	doc := discover(t, newEphysFake())
	dir := testutil.CreateTempDir(t)

	for _, name := range []string{"meta.json", "meta.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			if err := WriteDocument(doc, path); err != nil {
				t.Fatalf("WriteDocument() error = %v", err)
			}
			got, err := ReadDocument(path)
			if err != nil {
				t.Fatalf("ReadDocument() error = %v", err)
			}
			if got.EID != doc.EID {
				t.Errorf("EID = %q, want %q", got.EID, doc.EID)
			}
			if !reflect.DeepEqual(got.NWBFile, doc.NWBFile) {
				t.Errorf("NWBFile = %+v, want %+v", got.NWBFile, doc.NWBFile)
			}
			if !reflect.DeepEqual(got.Trials, doc.Trials) {
				t.Errorf("Trials = %+v, want %+v", got.Trials, doc.Trials)
			}
			if !reflect.DeepEqual(got.Units, doc.Units) {
				t.Errorf("Units differ after round trip")
			}
			if !reflect.DeepEqual(got.Behavior, doc.Behavior) {
				t.Errorf("Behavior = %+v, want %+v", got.Behavior, doc.Behavior)
			}
			if !reflect.DeepEqual(got.Probes, doc.Probes) {
				t.Errorf("Probes = %+v, want %+v", got.Probes, doc.Probes)
			}
			if !reflect.DeepEqual(got.Sections(), doc.Sections()) {
				t.Errorf("Sections() = %v, want %v", got.Sections(), doc.Sections())
			}
		})
	}
}

func TestFieldWireForm(t *testing.T) {
	f := Field{
		Name:        "spike_times",
		Description: "spike times of cluster",
		Data:        dataset.Joined("spikes.clusters", "spikes.times"),
	}
	data := testutil.JSONMarshal(t, f)
	s := string(data)
	if !strings.Contains(s, `"data":"spikes.clusters,spikes.times"`) {
		t.Errorf("MarshalJSON() = %s, want joined data string", s)
	}
	if strings.Contains(s, "timestamps") {
		t.Errorf("MarshalJSON() = %s, want unset timestamps omitted", s)
	}

	var placeholder Field
	testutil.JSONUnmarshal(t, []byte(`{"name":"location","data":"None","description":"no_description"}`), &placeholder)
	if !placeholder.Data.IsZero() {
		t.Errorf("Data = %v, want nil literal", placeholder.Data)
	}
}

func TestLiteralFieldRoundTrip(t *testing.T) {
	doc := &Document{EID: "literal-eid", Trials: []Field{
		{Name: "contrast_side", Description: "side", Data: dataset.Literal("left")},
		{Name: "block", Description: "block", Data: dataset.Literal(3)},
		{Name: "choice", Description: "choice", Data: dataset.Ref("_ibl_trials.choice")},
	}}
	for _, format := range []Format{FormatYAML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Marshal(doc, format)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			got, err := Unmarshal(data, format)
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if len(got.Trials) != 3 {
				t.Fatalf("Trials = %d fields, want 3", len(got.Trials))
			}
			if want := dataset.Literal("left"); !reflect.DeepEqual(got.Trials[0].Data, want) {
				t.Errorf("Trials[0].Data = %+v, want %+v", got.Trials[0].Data, want)
			}
			block := got.Trials[1].Data
			if block.Kind != dataset.SourceLiteral || block.String() != "3" {
				t.Errorf("Trials[1].Data = %+v, want literal 3", block)
			}
			if want := dataset.Ref("_ibl_trials.choice"); !reflect.DeepEqual(got.Trials[2].Data, want) {
				t.Errorf("Trials[2].Data = %+v, want %+v", got.Trials[2].Data, want)
			}
		})
	}
}

func TestUnmarshalRequiresEID(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"NWBFile":{}}`), FormatJSON); err == nil {
		t.Error("Unmarshal() error = nil, want missing eid")
	}
	if _, err := Unmarshal([]byte(`{}`), Format("xml")); err == nil {
		t.Error("Unmarshal(xml) error = nil, want unsupported format")
	}
}

func TestReadDocumentMissing(t *testing.T) {
	_, err := ReadDocument(filepath.Join(testutil.CreateTempDir(t), "absent.json"))
	var cfgErr *internal.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("ReadDocument() error = %v, want ConfigError", err)
	}
}

func TestIndexedPath(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"meta.json", 0, "meta_eid_0.json"},
		{"out/session.yaml", 3, "out/session_eid_3.yaml"},
		{"plain", 1, "plain_eid_1"},
	}
	for _, tt := range tests {
		if got := IndexedPath(tt.path, tt.n); got != tt.want {
			t.Errorf("IndexedPath(%q, %d) = %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}

func TestWriteDocuments(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	docs := []*Document{
		{EID: "a", NWBFile: NWBFile{Identifier: "a"}},
		{EID: "b", NWBFile: NWBFile{Identifier: "b"}},
	}
	paths, err := WriteDocuments(docs, filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatalf("WriteDocuments() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}
	for i, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("path %d: %v", i, err)
		}
		got, err := ReadDocument(p)
		if err != nil {
			t.Fatalf("ReadDocument(%s) error = %v", p, err)
		}
		if got.EID != docs[i].EID {
			t.Errorf("EID = %q, want %q", got.EID, docs[i].EID)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
		"a":      FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
