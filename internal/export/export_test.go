package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iblconvert/alyx2nwb/internal/dataset"
	"github.com/iblconvert/alyx2nwb/internal/metadata"
	"gopkg.in/yaml.v3"
)

func testDocument() *metadata.Document {
	return &metadata.Document{
		EID: "4ecb5d24-f5cc-402c-be28-9d0f7cb14b3a",
		NWBFile: metadata.NWBFile{
			SessionStartTime:   "2020-01-06T14:32:11",
			Lab:                "cortexlab",
			Institution:        "UCL",
			Experimenter:       []string{"Someone", "Else"},
			SessionDescription: "choice **world**",
		},
		Subject: &metadata.Subject{SubjectID: "KS023"},
		Trials: []metadata.Field{
			{Name: "start_time", Data: dataset.Ref("trials.intervals"), Description: "trial start"},
			{Name: "choice", Data: dataset.Ref("trials.choice"), Description: "left | right"},
		},
		Units: []metadata.Field{
			{Name: "spike_times", Data: dataset.Joined("spikes.clusters", "spikes.times"), Description: "times"},
		},
		Behavior: &metadata.Behavior{
			BehavioralTimeSeries: &metadata.SeriesGroup{TimeSeries: []metadata.Field{
				{Name: "wheel_position", Data: dataset.Ref("wheel.position"), Timestamps: dataset.Ref("wheel.timestamps")},
			}},
		},
		Probes: []metadata.Probe{{Name: "probe00", Description: "left"}},
	}
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		format  string
		wantExt string
		wantErr bool
	}{
		{"jsonl", "jsonl", false},
		{"md", "md", false},
		{"markdown", "md", false},
		{"yaml", "yaml", false},
		{"yml", "yaml", false},
		{"json", "json", false},
		{"xml", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exporter, err := NewExporter(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExporter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && exporter.Extension() != tt.wantExt {
				t.Errorf("Extension() = %v, want %v", exporter.Extension(), tt.wantExt)
			}
		})
	}
}

func TestSections(t *testing.T) {
	got := Sections(testDocument())
	want := []string{"Trials", "Units", "Behavior.BehavioralTimeSeries.TimeSeries"}
	if len(got) != len(want) {
		t.Fatalf("Sections() = %d sections, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.Name != want[i] {
			t.Errorf("Sections()[%d] = %v, want %v", i, s.Name, want[i])
		}
	}
	if len(Sections(&metadata.Document{EID: "x"})) != 0 {
		t.Error("Sections() of an empty document should be empty")
	}
}

func TestJSONExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONExporter{}).Export(testDocument(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	doc, err := metadata.Unmarshal(buf.Bytes(), metadata.FormatJSON)
	if err != nil {
		t.Fatalf("output is not a readable document: %v\n%s", err, buf.String())
	}
	if doc.EID != testDocument().EID {
		t.Errorf("EID = %v, want %v", doc.EID, testDocument().EID)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("output should be pretty-printed with indentation")
	}
}

func TestYAMLExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(testDocument(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	doc, err := metadata.Unmarshal(buf.Bytes(), metadata.FormatYAML)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(doc.Units) != 1 || doc.Units[0].Data.Kind != dataset.SourceJoined {
		t.Errorf("Units = %+v, want one joined field", doc.Units)
	}
}

func TestJSONLExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONLExporter{}).Export(testDocument(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), buf.String())
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if first["section"] != "Trials" || first["data"] != "trials.intervals" {
		t.Errorf("line 0 = %v", first)
	}
	if _, ok := first["timestamps"]; ok {
		t.Error("timestamps should be omitted when unset")
	}
	if !strings.Contains(lines[3], `"timestamps":"wheel.timestamps"`) {
		t.Errorf("line 3 = %s, want wheel timestamps", lines[3])
	}

	buf.Reset()
	if err := (&JSONLExporter{}).Export(&metadata.Document{EID: "x"}, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty document produced %q", buf.String())
	}
}

func TestMarkdownExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	if err := (&MarkdownExporter{}).Export(testDocument(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	output := buf.String()
	for _, want := range []string{
		"# Session 4ecb5d24-f5cc-402c-be28-9d0f7cb14b3a",
		"**Lab:** cortexlab",
		"**Experimenter:** Someone, Else",
		"**Subject:** KS023",
		"**Probes:** 1",
		"**Fields:** 4",
		"choice \\*\\*world\\*\\*",
		"## Trials",
		"| choice | `trials.choice` |  | left \\| right |",
		"`spikes.clusters,spikes.times`",
		"## Behavior.BehavioralTimeSeries.TimeSeries",
		"- **probe00** left",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		src  dataset.Source
		want string
	}{
		{dataset.Literal(nil), ""},
		{dataset.Literal(3.5), "3.5"},
		{dataset.Ref("trials.choice"), "trials.choice"},
		{dataset.Joined("spikes.clusters", "spikes.times"), "spikes.clusters,spikes.times"},
	}
	for _, tt := range tests {
		if got := sourceLabel(tt.src); got != tt.want {
			t.Errorf("sourceLabel(%+v) = %q, want %q", tt.src, got, tt.want)
		}
	}
}
