package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iblconvert/alyx2nwb/internal"
	"github.com/iblconvert/alyx2nwb/testutil"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		dest    string
		want    Destination
		wantErr bool
	}{
		{"s3://ibl-nwb/converted", Destination{Driver: DriverS3, Root: "ibl-nwb", Prefix: "converted"}, false},
		{"s3://ibl-nwb", Destination{Driver: DriverS3, Root: "ibl-nwb"}, false},
		{"s3:///nobucket", Destination{}, true},
		{"mem://runs/", Destination{Driver: DriverMemory, Prefix: "runs"}, false},
		{"out/nwb/", Destination{Driver: DriverFilesystem, Root: "out/nwb"}, false},
		{"", Destination{Driver: DriverFilesystem, Root: "."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			got, err := ParseDestination(tt.dest)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDestination() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDestination() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDestinationKey(t *testing.T) {
	if got := (Destination{Prefix: "a/b"}).Key("x.nwb"); got != "a/b/x.nwb" {
		t.Errorf("Key() = %q, want a/b/x.nwb", got)
	}
	if got := (Destination{}).Key("x.nwb"); got != "x.nwb" {
		t.Errorf("Key() = %q, want x.nwb", got)
	}
	if (Destination{Driver: DriverFilesystem}).Remote() {
		t.Error("Remote() = true for a local directory")
	}
}

// exerciseStore runs the same checks against every driver
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	info, err := s.Put(ctx, "sessions/a.nwb", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != 5 {
		t.Errorf("Put() size = %d, want 5", info.Size)
	}
	if _, err := s.Put(ctx, "sessions/a.nwb", strings.NewReader("second")); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	if _, err := s.Put(ctx, "other/b.nwb", strings.NewReader("b")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rc, err := s.Get(ctx, "sessions/a.nwb")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "second" {
		t.Errorf("Get() = %q, want second", data)
	}

	list, err := s.List(ctx, "sessions/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Key != "sessions/a.nwb" {
		t.Errorf("List() = %+v, want [sessions/a.nwb]", list)
	}

	if err := s.Delete(ctx, "sessions/a.nwb"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "sessions/a.nwb"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}

	if _, err := s.Put(ctx, "../escape", strings.NewReader("x")); err == nil {
		t.Error("Put() accepted a key leaving the store")
	}
}

func TestFSStore(t *testing.T) {
	s, err := NewFS(filepath.Join(testutil.CreateTempDir(t), "blobs"))
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	exerciseStore(t, s)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestOpen(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	tests := []struct {
		dest string
		want Driver
	}{
		{dir, DriverFilesystem},
		{"mem://", DriverMemory},
	}
	for _, tt := range tests {
		s, _, err := Open(context.Background(), tt.dest, internal.S3Config{})
		if err != nil {
			t.Fatalf("Open(%q) error = %v", tt.dest, err)
		}
		if s.Driver() != tt.want {
			t.Errorf("Open(%q).Driver() = %v, want %v", tt.dest, s.Driver(), tt.want)
		}
	}

	_, _, err := Open(context.Background(), "s3://", internal.S3Config{})
	var cfgErr *internal.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Open(s3://) error = %v, want ConfigError", err)
	}
}

func TestUpload(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := testutil.WriteFile(t, dir, "session.nwb", []byte("container"))
	s := NewMemory()

	info, err := Upload(context.Background(), s, "out/session.nwb", path)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if info.Size != int64(len("container")) {
		t.Errorf("Upload() size = %d", info.Size)
	}
	rc, err := s.Get(context.Background(), "out/session.nwb")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	buf.ReadFrom(rc)
	if buf.String() != "container" {
		t.Errorf("Get() = %q, want container", buf.String())
	}

	_, err = Upload(context.Background(), s, "x", filepath.Join(dir, "missing.nwb"))
	var serr *internal.StorageError
	if !errors.As(err, &serr) {
		t.Errorf("Upload() missing file error = %v, want StorageError", err)
	}
}
