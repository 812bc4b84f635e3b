package nwb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
)

// RowSource is a recording read in windows of samples. Each sample row
// holds one int16 per channel.
type RowSource interface {
	NumSamples() int
	NumChannels() int
	ReadRows(start, n int) ([]int16, error)
}

// ChunkIterator pulls bounded windows of rows from a source in order, so
// a recording is never held in memory whole.
type ChunkIterator struct {
	src  RowSource
	rows int
	pos  int
}

// NewChunkIterator iterates src in windows of rows samples. A non-positive
// rows uses internal.DefaultChunkRows.
func NewChunkIterator(src RowSource, rows int) *ChunkIterator {
	if rows <= 0 {
		rows = internal.DefaultChunkRows
	}
	return &ChunkIterator{src: src, rows: rows}
}

// Shape is (samples, channels) of the whole recording
func (it *ChunkIterator) Shape() []int {
	return []int{it.src.NumSamples(), it.src.NumChannels()}
}

// WindowRows is the number of samples per window
func (it *ChunkIterator) WindowRows() int { return it.rows }

// Next returns the next window and io.EOF after the last one
func (it *ChunkIterator) Next() ([]int16, error) {
	total := it.src.NumSamples()
	if it.pos >= total {
		return nil, io.EOF
	}
	n := it.rows
	if it.pos+n > total {
		n = total - it.pos
	}
	data, err := it.src.ReadRows(it.pos, n)
	if err != nil {
		return nil, fmt.Errorf("reading samples [%d, %d): %w", it.pos, it.pos+n, err)
	}
	it.pos += n
	return data, nil
}

// Reset rewinds to the first window
func (it *ChunkIterator) Reset() { it.pos = 0 }

// npyAppender writes an int16 npy file whose final shape is known up front,
// one window at a time.
type npyAppender struct {
	f       *os.File
	w       *bufio.Writer
	shape   []int
	total   int
	written int
}

func createNPYAppender(path string, shape []int) (*npyAppender, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	a := &npyAppender{f: f, w: bufio.NewWriterSize(f, 1<<20), shape: shape, total: 1}
	for _, d := range shape {
		a.total *= d
	}
	if _, err := a.w.Write(npyHeader("<i2", shape)); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *npyAppender) Append(v []int16) error {
	if a.written+len(v) > a.total {
		return fmt.Errorf("appending %d values to %d of %d", len(v), a.written, a.total)
	}
	if err := binary.Write(a.w, binary.LittleEndian, v); err != nil {
		return err
	}
	a.written += len(v)
	return nil
}

func (a *npyAppender) Close() error {
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return err
	}
	if err := a.f.Close(); err != nil {
		return err
	}
	if a.written != a.total {
		return fmt.Errorf("wrote %d of %d values", a.written, a.total)
	}
	return nil
}

// npyHeader renders a version 1.0 header padded to 64 bytes
func npyHeader(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeText := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeText += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeText)

	const preamble = 10
	total := preamble + len(dict) + 1
	if rem := total % 64; rem != 0 {
		total += 64 - rem
	}
	headerLen := total - preamble

	out := make([]byte, 0, total)
	out = append(out, 0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0)
	out = append(out, byte(headerLen%256), byte(headerLen/256))
	out = append(out, dict...)
	for len(out) < total-1 {
		out = append(out, ' ')
	}
	return append(out, '\n')
}
