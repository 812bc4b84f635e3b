package dataset

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sbinet/npyio"
)

// decodeNPY reads a numpy array. Numeric arrays become Array, unicode and
// byte-string arrays become Strings.
func decodeNPY(data []byte) (Value, error) {
	r, err := npyio.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	descr := r.Header.Descr
	shape := append([]int(nil), descr.Shape...)
	n := 1
	for _, d := range shape {
		n *= d
	}

	if kind, width, ok := textType(descr.Type); ok {
		return decodeText(data, kind, width, n)
	}

	vals, err := readNumeric(r, descr.Type, n)
	if err != nil {
		return nil, err
	}
	if descr.Fortran && len(shape) == 2 {
		vals = transpose(vals, shape[1], shape[0])
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	return Array{Shape: shape, Data: vals}, nil
}

func readNumeric(r *npyio.Reader, typ string, n int) ([]float64, error) {
	out := make([]float64, n)
	switch strings.TrimLeft(typ, "<|=") {
	case "f8":
		v := make([]float64, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		copy(out, v)
	case "f4":
		v := make([]float32, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "i8":
		v := make([]int64, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "i4":
		v := make([]int32, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "i2":
		v := make([]int16, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "i1":
		v := make([]int8, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "u8":
		v := make([]uint64, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "u4":
		v := make([]uint32, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "u2":
		v := make([]uint16, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "u1":
		v := make([]uint8, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			out[i] = float64(x)
		}
	case "b1":
		v := make([]bool, n)
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		for i, x := range v {
			if x {
				out[i] = 1
			}
		}
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", typ)
	}
	return out, nil
}

// textType recognizes "<U12" (UTF-32) and "|S8" (bytes) dtypes
func textType(typ string) (kind byte, width int, ok bool) {
	t := strings.TrimLeft(typ, "<>|=")
	if len(t) < 2 || (t[0] != 'U' && t[0] != 'S') {
		return 0, 0, false
	}
	w, err := strconv.Atoi(t[1:])
	if err != nil {
		return 0, 0, false
	}
	return t[0], w, true
}

// decodeText reads fixed width strings after the header. The header length
// lives at bytes 8-9 (version 1) or 8-11 (version 2 and 3).
func decodeText(data []byte, kind byte, width, n int) (Value, error) {
	if len(data) < 10 {
		return nil, io.ErrUnexpectedEOF
	}
	var offset int
	switch data[6] {
	case 1:
		offset = 10 + int(binary.LittleEndian.Uint16(data[8:10]))
	default:
		if len(data) < 12 {
			return nil, io.ErrUnexpectedEOF
		}
		offset = 12 + int(binary.LittleEndian.Uint32(data[8:12]))
	}
	body := data[offset:]
	item := width
	if kind == 'U' {
		item = width * 4
	}
	if len(body) < item*n {
		return nil, io.ErrUnexpectedEOF
	}

	out := make(Strings, n)
	for i := 0; i < n; i++ {
		cell := body[i*item : (i+1)*item]
		if kind == 'S' {
			out[i] = string(bytes.TrimRight(cell, "\x00"))
			continue
		}
		var b strings.Builder
		for j := 0; j+4 <= len(cell); j += 4 {
			r := rune(binary.LittleEndian.Uint32(cell[j : j+4]))
			if r == 0 {
				break
			}
			if !utf8.ValidRune(r) {
				r = utf8.RuneError
			}
			b.WriteRune(r)
		}
		out[i] = b.String()
	}
	return out, nil
}

// transpose converts column-major rows x cols data into row-major
func transpose(v []float64, cols, rows int) []float64 {
	out := make([]float64, len(v))
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			out[r*cols+c] = v[c*rows+r]
		}
	}
	return out
}
