package metadata

import (
	"path/filepath"
	"testing"

	"github.com/iblconvert/alyx2nwb/testutil"
)

func TestSchemaCompiles(t *testing.T) {
	if _, err := Schema(); err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
}

func TestValidateDiscoveredDocument(t *testing.T) {
	doc := discover(t, newEphysFake())
	if err := Validate(doc); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidateFile(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	doc := discover(t, newEphysFake())

	for _, name := range []string{"ok.json", "ok.yaml"} {
		path := filepath.Join(dir, name)
		if err := WriteDocument(doc, path); err != nil {
			t.Fatalf("WriteDocument() error = %v", err)
		}
		if err := ValidateFile(path); err != nil {
			t.Errorf("ValidateFile(%s) error = %v", name, err)
		}
	}

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"missing eid", "noeid.json", `{"NWBFile":{"session_start_time":"x","identifier":"x","session_description":"x"},"Ecephys":{"Device":[],"ElectrodeGroup":[]},"Probes":[]}`},
		{"unknown field key", "extra.json", `{"eid":"x","NWBFile":{"session_start_time":"x","identifier":"x","session_description":"x"},"Ecephys":{"Device":[],"ElectrodeGroup":[]},"Probes":[],"Trials":[{"name":"a","data":"b","description":"","colour":"red"}]}`},
		{"field without name", "noname.yaml", "eid: x\nNWBFile: {session_start_time: x, identifier: x, session_description: x}\nEcephys: {Device: [], ElectrodeGroup: []}\nProbes: []\nUnits:\n  - data: clusters.depths\n    description: depth\n"},
		{"not a document", "garbage.yaml", "- just\n- a list\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.WriteFile(t, dir, tt.file, []byte(tt.content))
			if err := ValidateFile(path); err == nil {
				t.Errorf("ValidateFile() error = nil, want validation failure")
			}
		})
	}

	if err := ValidateFile(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("ValidateFile(absent) error = nil, want error")
	}
}
