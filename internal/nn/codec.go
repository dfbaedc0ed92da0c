package nn

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// MaxNameLen bounds a stored parameter name.
const MaxNameLen = 1 << 16

// WriteParams encodes params. Format: count (4), then per param: nameLen (4), name
// bytes, rows (4), cols (4), values (rows*cols*4 bytes, float32 little-endian).
func WriteParams(w io.Writer, params []*Param) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(params))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, p := range params {
		name := []byte(p.Name)
		if len(name) > MaxNameLen {
			return fmt.Errorf("parameter name too long: %d bytes", len(name))
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(name))); err != nil {
			return fmt.Errorf("write name len: %w", err)
		}
		if _, err := w.Write(name); err != nil {
			return fmt.Errorf("write name: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(p.Rows), uint32(p.Cols)}); err != nil {
			return fmt.Errorf("write shape: %w", err)
		}
		if _, err := w.Write(float64SliceToBytes(p.Value)); err != nil {
			return fmt.Errorf("write values: %w", err)
		}
	}
	return nil
}

// ReadParams decodes parameters into the matching entries of params by name and
// returns how many were loaded. Every stored parameter must exist in params with the
// same shape; params absent from the stream keep their current values.
func ReadParams(r io.Reader, params []*Param) (int, error) {
	byName := make(map[string]*Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return int(i), fmt.Errorf("read name len: %w", err)
		}
		if nameLen > MaxNameLen {
			return int(i), fmt.Errorf("parameter name length %d exceeds %d", nameLen, MaxNameLen)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return int(i), fmt.Errorf("read name: %w", err)
		}
		var shape [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &shape); err != nil {
			return int(i), fmt.Errorf("read shape: %w", err)
		}
		p, ok := byName[string(name)]
		if !ok {
			return int(i), fmt.Errorf("unknown parameter %q", name)
		}
		if int(shape[0]) != p.Rows || int(shape[1]) != p.Cols {
			return int(i), fmt.Errorf("parameter %s: shape mismatch: file has %dx%d, model expects %dx%d",
				p.Name, shape[0], shape[1], p.Rows, p.Cols)
		}
		buf := make([]byte, p.Len()*4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return int(i), fmt.Errorf("read values of %s: %w", p.Name, err)
		}
		bytesToFloat64Slice(buf, p.Value)
	}
	return int(n), nil
}

// SaveParams writes params to path, creating the directory if needed.
func SaveParams(path string, params []*Param) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weights file: %w", err)
	}
	if err := WriteParams(f, params); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParams reads params from path.
func LoadParams(path string, params []*Param) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open weights file: %w", err)
	}
	defer f.Close()
	return ReadParams(f, params)
}

func float64SliceToBytes(s []float64) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(float32(v)))
	}
	return out
}

func bytesToFloat64Slice(b []byte, dst []float64) {
	const size = 4
	for i := range dst {
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size])))
	}
}
