package dataset

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/iblconvert/alyx2nwb/internal/alyx"
	"github.com/klauspost/compress/zlib"
)

const int16Size = 2

// chunkIndex is the ".ch" sidecar of a compressed raw recording
type chunkIndex struct {
	Version      string  `json:"version"`
	Algorithm    string  `json:"algorithm"`
	Dtype        string  `json:"dtype"`
	DoTimeDiff   bool    `json:"do_time_diff"`
	NChannels    int     `json:"n_channels"`
	SampleRate   float64 `json:"sample_rate"`
	ChunkBounds  []int64 `json:"chunk_bounds"`
	ChunkOffsets []int64 `json:"chunk_offsets"`
}

// RawReader reads a multichannel int16 recording lazily, in row windows.
// Compressed files (".cbin") hold zlib chunks described by a ".ch" index;
// plain files (".bin") are read directly. Rows are samples, columns channels.
type RawReader struct {
	Name       string
	sampleRate float64
	nChannels  int
	nSamples   int
	item       alyx.Item
	index      *chunkIndex

	mu        sync.Mutex
	ra        io.ReaderAt
	closer    io.Closer
	lastChunk int
	lastData  []int16
}

// SampleRate in Hz
func (r *RawReader) SampleRate() float64 { return r.sampleRate }

// NumChannels is the number of saved channels
func (r *RawReader) NumChannels() int { return r.nChannels }

// NumSamples is the number of rows
func (r *RawReader) NumSamples() int { return r.nSamples }

// ReadRows returns up to n rows starting at start, row-major. Fewer rows are
// returned at the end of the recording.
func (r *RawReader) ReadRows(start, n int) ([]int16, error) {
	if start < 0 || start >= r.nSamples || n <= 0 {
		return nil, nil
	}
	if start+n > r.nSamples {
		n = r.nSamples - start
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.open(); err != nil {
		return nil, err
	}
	if r.index == nil {
		return r.readPlain(start, n)
	}
	return r.readCompressed(start, n)
}

// Close releases the underlying file
func (r *RawReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.ra, r.closer = nil, nil
	return err
}

func (r *RawReader) open() error {
	if r.ra != nil {
		return nil
	}
	if r.item.Data != nil {
		r.ra = bytes.NewReader(r.item.Data)
		return nil
	}
	f, err := os.Open(r.item.LocalPath)
	if err != nil {
		return err
	}
	r.ra, r.closer = f, f
	return nil
}

func (r *RawReader) readPlain(start, n int) ([]int16, error) {
	buf := make([]byte, n*r.nChannels*int16Size)
	off := int64(start) * int64(r.nChannels) * int16Size
	if _, err := r.ra.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	out := make([]int16, n*r.nChannels)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*int16Size:]))
	}
	return out, nil
}

func (r *RawReader) readCompressed(start, n int) ([]int16, error) {
	out := make([]int16, 0, n*r.nChannels)
	row := start
	end := start + n
	for row < end {
		c := r.chunkOf(row)
		if c < 0 {
			return nil, fmt.Errorf("%s: row %d outside chunk bounds", r.Name, row)
		}
		data, err := r.chunk(c)
		if err != nil {
			return nil, err
		}
		lo := int(r.index.ChunkBounds[c])
		hi := int(r.index.ChunkBounds[c+1])
		take := hi
		if end < take {
			take = end
		}
		out = append(out, data[(row-lo)*r.nChannels:(take-lo)*r.nChannels]...)
		row = take
	}
	return out, nil
}

func (r *RawReader) chunkOf(row int) int {
	b := r.index.ChunkBounds
	for i := 0; i+1 < len(b); i++ {
		if int64(row) >= b[i] && int64(row) < b[i+1] {
			return i
		}
	}
	return -1
}

// chunk decompresses chunk c, keeping the last one for sequential reads
func (r *RawReader) chunk(c int) ([]int16, error) {
	if r.lastData != nil && r.lastChunk == c {
		return r.lastData, nil
	}
	off := r.index.ChunkOffsets[c]
	size := r.index.ChunkOffsets[c+1] - off
	compressed := make([]byte, size)
	if _, err := r.ra.ReadAt(compressed, off); err != nil && err != io.EOF {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%s chunk %d: %w", r.Name, c, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%s chunk %d: %w", r.Name, c, err)
	}

	rows := int(r.index.ChunkBounds[c+1] - r.index.ChunkBounds[c])
	if len(raw) != rows*r.nChannels*int16Size {
		return nil, fmt.Errorf("%s chunk %d: %d bytes, want %d", r.Name, c, len(raw), rows*r.nChannels*int16Size)
	}
	data := make([]int16, rows*r.nChannels)
	for i := range data {
		data[i] = int16(binary.LittleEndian.Uint16(raw[i*int16Size:]))
	}
	if r.index.DoTimeDiff {
		for i := 1; i < rows; i++ {
			prev := data[(i-1)*r.nChannels : i*r.nChannels]
			cur := data[i*r.nChannels : (i+1)*r.nChannels]
			for ch := range cur {
				cur[ch] += prev[ch]
			}
		}
	}
	r.lastChunk, r.lastData = c, data
	return data, nil
}

// newCompressedReader builds a reader for a ".cbin" file from its ".ch" index
func newCompressedReader(item, ch alyx.Item) (*RawReader, error) {
	data, err := readItem(ch)
	if err != nil {
		return nil, err
	}
	var idx chunkIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ch.Name(), err)
	}
	if idx.Dtype != "" && idx.Dtype != "int16" {
		return nil, fmt.Errorf("%s: unsupported dtype %s", ch.Name(), idx.Dtype)
	}
	if len(idx.ChunkBounds) < 2 || len(idx.ChunkOffsets) != len(idx.ChunkBounds) || idx.NChannels <= 0 {
		return nil, fmt.Errorf("%s: malformed chunk index", ch.Name())
	}
	return &RawReader{
		Name:       item.Name(),
		sampleRate: idx.SampleRate,
		nChannels:  idx.NChannels,
		nSamples:   int(idx.ChunkBounds[len(idx.ChunkBounds)-1]),
		item:       item,
		index:      &idx,
		lastChunk:  -1,
	}, nil
}

// newPlainReader builds a reader for a ".bin" file from its ".meta" sidecar
func newPlainReader(item, meta alyx.Item) (*RawReader, error) {
	data, err := readItem(meta)
	if err != nil {
		return nil, err
	}
	m := parseMeta(data)
	rate, err := metaFloat(m, "imSampRate", "niSampRate")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", meta.Name(), err)
	}
	nch, err := metaFloat(m, "nSavedChans")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", meta.Name(), err)
	}
	size, err := itemSize(item)
	if err != nil {
		return nil, err
	}
	return &RawReader{
		Name:       item.Name(),
		sampleRate: rate,
		nChannels:  int(nch),
		nSamples:   int(size / (int64(nch) * int16Size)),
		item:       item,
		lastChunk:  -1,
	}, nil
}

// parseMeta reads a SpikeGLX "key=value" metadata file
func parseMeta(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		out[strings.TrimPrefix(strings.TrimSpace(k), "~")] = strings.TrimSpace(v)
	}
	return out
}

func metaFloat(m map[string]string, keys ...string) (float64, error) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return strconv.ParseFloat(v, 64)
		}
	}
	return 0, fmt.Errorf("missing %s", strings.Join(keys, " or "))
}

func readItem(item alyx.Item) ([]byte, error) {
	if item.Data != nil {
		return item.Data, nil
	}
	return os.ReadFile(item.LocalPath)
}

func itemSize(item alyx.Item) (int64, error) {
	if item.Data != nil {
		return int64(len(item.Data)), nil
	}
	st, err := os.Stat(item.LocalPath)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// siblingItem points at a file next to item with another suffix
func siblingItem(item alyx.Item, suffix string) alyx.Item {
	return alyx.Item{
		LocalPath:  strings.TrimSuffix(item.LocalPath, item.Suffix()) + suffix,
		Collection: item.Collection,
	}
}
