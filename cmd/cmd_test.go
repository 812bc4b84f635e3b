package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/iblconvert/alyx2nwb/internal/alyx/alyxtest"
	"github.com/iblconvert/alyx2nwb/internal/sorting"
	"github.com/iblconvert/alyx2nwb/testutil"
)

const (
	firstEID  = "4ecb5d24-f5cc-402c-be28-9d0f7cb14b3a"
	secondEID = "d23a44ef-1402-4ed7-97f5-47e9a7a504d9"
)

// addEphysSession registers a session with trials and one probe of spikes
func addEphysSession(f *alyxtest.Fake, eid, subject string) {
	f.AddStandardSession(eid, subject, "probe00")
	f.AddArray(eid, "trials.intervals", "alf", []int{2, 2}, []float64{0, 4, 5, 9})
	f.AddArray(eid, "trials.choice", "alf", []int{2}, []float64{1, -1})
	coll := "alf/probe00"
	f.AddArray(eid, "clusters.depths", coll, []int{3}, []float64{100, 200, 300})
	f.AddArray(eid, "clusters.channels", coll, []int{3}, []float64{0, 1, 1})
	f.AddArray(eid, "spikes.clusters", coll, []int{3}, []float64{0, 0, 2})
	f.AddArray(eid, "spikes.times", coll, []int{3}, []float64{0.1, 0.2, 0.9})
	f.AddArray(eid, "channels.rawInd", coll, []int{2}, []float64{0, 1})
}

func newFixture(eids ...string) *alyxtest.Fake {
	f := alyxtest.New()
	for i, eid := range eids {
		addEphysSession(f, eid, fmt.Sprintf("KS02%d", i))
	}
	return f
}

// testConfig writes a configuration keeping every output under dir
func testConfig(t *testing.T, dir string) string {
	t.Helper()
	toml := fmt.Sprintf(`[alyx]
cache_dir = %q

[output]
dir = %q

[metrics]
textfile = %q
`, filepath.Join(dir, "cache"), filepath.Join(dir, "out"), filepath.Join(dir, "alyx2nwb.prom"))
	return testutil.WriteFile(t, dir, "alyx2nwb.toml", []byte(toml))
}

func resetFlags() {
	verbose, configPath, logFile = false, "", ""
	convertOut, convertSaveRaw, convertIndex = "", false, -1
	convertMetadata, convertChunkRows, convertDryRun = "", 0, false
	convertSearch = searchFlags{}
	metadataFormat, metadataOut = "yaml", ""
	metadataNoCache, metadataClearCache = false, false
	metadataSearch = searchFlags{}
	listSearch, listLimit = searchFlags{}, 0
	sortingUnit, sortingStart, sortingEnd = -1, sorting.NoLimit, sorting.NoLimit
}

// execute runs the root command against fake and returns its output
func execute(t *testing.T, fake alyx.Client, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	prevClient, prevInteractive := openClient, isInteractive
	openClient = func(ctx context.Context, c internal.Config) (alyx.Client, func() error, error) {
		return fake, func() error { return nil }, nil
	}
	isInteractive = func() bool { return false }
	t.Cleanup(func() {
		openClient, isInteractive = prevClient, prevInteractive
	})

	var stdout bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(""))
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestRootCommand(t *testing.T) {
	if !strings.HasPrefix(rootCmd.Version, version) {
		t.Errorf("Version = %q, want prefix %q", rootCmd.Version, version)
	}
	if _, err := execute(t, newFixture(), "nonexistent-command"); err == nil {
		t.Error("Execute() should return error for nonexistent command")
	}
	if _, err := execute(t, newFixture(), "list", "--config", filepath.Join(testutil.CreateTempDir(t), "missing.toml")); err == nil {
		t.Error("Execute() with a missing --config file should fail")
	}
}

func TestConvertCommand(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out, err := execute(t, newFixture(firstEID), "convert", firstEID, "--config", testConfig(t, dir))
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", firstEID+".nwb")); err != nil {
		t.Errorf("output file not written: %v", err)
	}
	for _, want := range []string{"Session " + firstEID, "Trials", "Units", "Acquisition"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "alyx2nwb.prom")); err != nil {
		t.Errorf("metrics textfile not written: %v", err)
	}
}

func TestConvertCommand_OutFile(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := filepath.Join(dir, "custom", "session.nwb")
	if _, err := execute(t, newFixture(firstEID), "convert", firstEID, "--config", testConfig(t, dir), "--out", path); err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file not written: %v", err)
	}
}

func TestConvertCommand_DryRun(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out, err := execute(t, newFixture(firstEID), "convert", firstEID, "--config", testConfig(t, dir), "--dry-run")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if !strings.Contains(out, "Dry run:") {
		t.Errorf("output missing dry run report:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", firstEID+".nwb")); !os.IsNotExist(err) {
		t.Errorf("dry run saved a file, stat error = %v", err)
	}
}

func TestConvertCommand_RemoteDestination(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out, err := execute(t, newFixture(firstEID), "convert", firstEID, "--config", testConfig(t, dir), "--out", "mem://runs")
	if err != nil {
		t.Fatalf("convert error = %v", err)
	}
	if !strings.Contains(out, "Uploaded runs/"+firstEID+".nwb") {
		t.Errorf("output missing upload line:\n%s", out)
	}
}

func TestConvertCommand_SessionSelection(t *testing.T) {
	fake := newFixture(firstEID, secondEID)
	dir := testutil.CreateTempDir(t)
	cfgPath := testConfig(t, dir)

	_, err := execute(t, fake, "convert", "--config", cfgPath, "--lab", alyxtest.Lab)
	if !errors.Is(err, internal.ErrAmbiguousSession) {
		t.Fatalf("convert error = %v, want ErrAmbiguousSession", err)
	}

	if _, err := execute(t, fake, "convert", "--config", cfgPath, "--lab", alyxtest.Lab, "--index", "1"); err != nil {
		t.Fatalf("convert --index 1 error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", secondEID+".nwb")); err != nil {
		t.Errorf("selected session not written: %v", err)
	}

	_, err = execute(t, fake, "convert", "--config", cfgPath, "--lab", alyxtest.Lab, "--index", "5")
	var cfgErr *internal.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("convert --index 5 error = %v, want ConfigError", err)
	}
}

func TestMetadataThenConvert(t *testing.T) {
	fake := newFixture(firstEID)
	dir := testutil.CreateTempDir(t)
	cfgPath := testConfig(t, dir)
	docPath := filepath.Join(dir, "meta.yaml")

	if _, err := execute(t, fake, "metadata", firstEID, "--config", cfgPath, "--out", docPath); err != nil {
		t.Fatalf("metadata error = %v", err)
	}
	if _, err := execute(t, fake, "validate", docPath, "--config", cfgPath); err != nil {
		t.Fatalf("validate error = %v", err)
	}
	nwbPath := filepath.Join(dir, "from-doc.nwb")
	if _, err := execute(t, fake, "convert", "--config", cfgPath, "--metadata", docPath, "--out", nwbPath); err != nil {
		t.Fatalf("convert --metadata error = %v", err)
	}
	if _, err := os.Stat(nwbPath); err != nil {
		t.Errorf("output file not written: %v", err)
	}
}

func TestMetadataCommand_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"yaml", "eid: " + firstEID},
		{"json", `"eid": "` + firstEID + `"`},
		{"md", "# Session " + firstEID},
		{"jsonl", `"section":"Trials"`},
	}
	dir := testutil.CreateTempDir(t)
	cfgPath := testConfig(t, dir)
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := execute(t, newFixture(firstEID), "metadata", firstEID, "--config", cfgPath, "--format", tt.format, "--no-cache")
			if err != nil {
				t.Fatalf("metadata error = %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}

	if _, err := execute(t, newFixture(firstEID), "metadata", firstEID, "--config", cfgPath, "--format", "xml"); err == nil {
		t.Error("metadata --format xml should fail")
	}
}

func TestMetadataCommand_SeveralSessions(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out := filepath.Join(dir, "docs", "meta")
	if _, err := execute(t, newFixture(firstEID, secondEID), "metadata", firstEID, secondEID,
		"--config", testConfig(t, dir), "--format", "json", "--out", out); err != nil {
		t.Fatalf("metadata error = %v", err)
	}
	for _, name := range []string{"meta_eid_0.json", "meta_eid_1.json"} {
		if _, err := os.Stat(filepath.Join(dir, "docs", name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "documents", "documents.yaml")); err != nil {
		t.Errorf("document cache index not written: %v", err)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	bad := testutil.WriteFile(t, dir, "bad.json", []byte(`{"eid": 3}`))
	if _, err := execute(t, newFixture(), "validate", bad, "--config", testConfig(t, dir)); err == nil {
		t.Error("validate of an invalid document should fail")
	}
	if _, err := execute(t, newFixture(), "validate", "--config", testConfig(t, dir)); err == nil {
		t.Error("validate without a file should fail")
	}
}

func TestListCommand(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out, err := execute(t, newFixture(firstEID, secondEID), "list", "--config", testConfig(t, dir))
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	for _, want := range []string{"Found 2 session(s)", firstEID, secondEID, "KS020", alyxtest.Lab} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, newFixture(firstEID), "list", "--config", testConfig(t, dir), "--subject", "nobody")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "No sessions found") {
		t.Errorf("output = %q, want no sessions", out)
	}
}

func TestSortingCommand(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	out, err := execute(t, newFixture(firstEID), "sorting", firstEID, "--config", testConfig(t, dir))
	if err != nil {
		t.Fatalf("sorting error = %v", err)
	}
	if !strings.Contains(out, "probe00") || !strings.Contains(out, "(2 with spikes)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, newFixture(firstEID), "sorting", firstEID, "--config", testConfig(t, dir), "--unit", "0", "--end", "5000")
	if err != nil {
		t.Fatalf("sorting --unit error = %v", err)
	}
	if !strings.Contains(out, "unit 0 (probe00): 1 spikes") || !strings.Contains(out, "3000") {
		t.Errorf("unexpected spike train output:\n%s", out)
	}
}

func TestPromptSession(t *testing.T) {
	eids := []string{firstEID, secondEID}
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"1\n", 1, false},
		{" 0 \n", 0, false},
		{"2\n", 0, true},
		{"x\n", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := promptSession(eids, strings.NewReader(tt.input), &out)
		if (err != nil) != tt.wantErr {
			t.Errorf("promptSession(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("promptSession(%q) = %d, want %d", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "[1] "+secondEID) {
			t.Errorf("prompt did not list the sessions: %q", out.String())
		}
	}
}
