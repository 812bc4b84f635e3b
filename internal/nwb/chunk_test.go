package nwb

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/iblconvert/alyx2nwb/testutil"
	"github.com/sbinet/npyio"
)

// fakeRows yields sample i of channel c as i*channels+c
type fakeRows struct {
	samples, channels int
	reads             [][2]int
	failAt            int
}

func (f *fakeRows) NumSamples() int  { return f.samples }
func (f *fakeRows) NumChannels() int { return f.channels }

func (f *fakeRows) ReadRows(start, n int) ([]int16, error) {
	f.reads = append(f.reads, [2]int{start, n})
	if f.failAt > 0 && start >= f.failAt {
		return nil, errors.New("disk gone")
	}
	out := make([]int16, 0, n*f.channels)
	for i := start; i < start+n; i++ {
		for c := 0; c < f.channels; c++ {
			out = append(out, int16(i*f.channels+c))
		}
	}
	return out, nil
}

func TestChunkIteratorWindows(t *testing.T) {
	src := &fakeRows{samples: 7, channels: 2}
	it := NewChunkIterator(src, 3)
	if got := it.Shape(); !reflect.DeepEqual(got, []int{7, 2}) {
		t.Errorf("Shape() = %v, want [7 2]", got)
	}

	var total int
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		total += len(chunk)
	}
	if total != 14 {
		t.Errorf("total values = %d, want 14", total)
	}
	if want := [][2]int{{0, 3}, {3, 3}, {6, 1}}; !reflect.DeepEqual(src.reads, want) {
		t.Errorf("reads = %v, want %v", src.reads, want)
	}

	it.Reset()
	if _, err := it.Next(); err != nil {
		t.Errorf("Next() after Reset error = %v", err)
	}
}

func TestChunkIteratorDefaultWindow(t *testing.T) {
	it := NewChunkIterator(&fakeRows{samples: 1, channels: 1}, 0)
	if it.WindowRows() != 30000 {
		t.Errorf("WindowRows() = %d, want 30000", it.WindowRows())
	}
}

func TestChunkIteratorError(t *testing.T) {
	it := NewChunkIterator(&fakeRows{samples: 10, channels: 1, failAt: 4}, 4)
	if _, err := it.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	if _, err := it.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("second Next() error = %v, want read failure", err)
	}
}

func TestNPYAppenderRoundTrip(t *testing.T) {
	path := filepath.Join(testutil.CreateTempDir(t), "raw.npy")
	a, err := createNPYAppender(path, []int{3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Append([]int16{0, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := a.Append([]int16{4, 5, 6}); err == nil {
		t.Error("Append() past the shape = nil, want error")
	}
	if err := a.Append([]int16{4, 5}); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []int16
	if err := npyio.Read(f, &got); err != nil {
		t.Fatalf("npyio.Read() error = %v", err)
	}
	if want := []int16{0, 1, 2, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("data = %v, want %v", got, want)
	}
}

func TestNPYAppenderShort(t *testing.T) {
	path := filepath.Join(testutil.CreateTempDir(t), "short.npy")
	a, err := createNPYAppender(path, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	_ = a.Append([]int16{1})
	if err := a.Close(); err == nil {
		t.Error("Close() with missing values = nil, want error")
	}
}
