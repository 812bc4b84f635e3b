package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// npy headers are padded to a multiple of 64 bytes
const npyHeaderUnits = 64

// EncodeNPY encodes a little-endian numeric array in npy version 1 format.
// data must be one of []float64, []float32, []int64, []int32, []uint8 and its
// length must match the product of shape.
func EncodeNPY(shape []int, data interface{}) []byte {
	var descr string
	switch data.(type) {
	case []float64:
		descr = "<f8"
	case []float32:
		descr = "<f4"
	case []int64:
		descr = "<i8"
	case []int32:
		descr = "<i4"
	case []uint8:
		descr = "|u1"
	default:
		panic(fmt.Sprintf("testutil: unsupported npy element type %T", data))
	}
	var buf bytes.Buffer
	buf.Write(npyHeader(descr, shape))
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// EncodeStringNPY encodes a 1-D numpy unicode array (dtype <U<n>)
func EncodeStringNPY(values []string) []byte {
	width := 1
	for _, v := range values {
		if n := utf8.RuneCountInString(v); n > width {
			width = n
		}
	}
	var buf bytes.Buffer
	buf.Write(npyHeader(fmt.Sprintf("<U%d", width), []int{len(values)}))
	for _, v := range values {
		runes := []rune(v)
		for i := 0; i < width; i++ {
			var r uint32
			if i < len(runes) {
				r = uint32(runes[i])
			}
			_ = binary.Write(&buf, binary.LittleEndian, r)
		}
	}
	return buf.Bytes()
}

func npyHeader(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	shapeText := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeText += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeText)

	const preamble = 10
	total := preamble + len(dict) + 1
	if rem := total % npyHeaderUnits; rem != 0 {
		total += npyHeaderUnits - rem
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
