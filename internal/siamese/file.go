package siamese

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/twinscope/internal/nn"
)

var fileMagic = [4]byte{'T', 'W', 'S', 'M'}

const fileVersion = 1

type fileHeader struct {
	Version      int          `json:"version"`
	Architecture Architecture `json:"architecture"`
}

// Save writes the model to path. Format: magic (4), header length (4), JSON header,
// then the parameter block. The file is written to a temporary name and renamed so
// readers never see a partial model.
func (m *Model) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := m.write(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush model file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename model file: %w", err)
	}
	return nil
}

func (m *Model) write(w io.Writer) error {
	header, err := json.Marshal(fileHeader{Version: fileVersion, Architecture: m.arch})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := w.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return fmt.Errorf("write header len: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nn.WriteParams(w, m.tower.Params())
}

// Load reads a model written by Save, rebuilding its architecture first.
func Load(path string, opts ...Option) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	arch, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := Build(arch, opts...)
	if err != nil {
		return nil, err
	}
	params := m.tower.Params()
	n, err := nn.ReadParams(r, params)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if n != len(params) {
		m.Close()
		return nil, fmt.Errorf("%s: model file has %d parameters, architecture needs %d", path, n, len(params))
	}
	return m, nil
}

// ReadArchitecture returns the architecture stored in a model file without loading weights.
func ReadArchitecture(path string) (Architecture, error) {
	f, err := os.Open(path)
	if err != nil {
		return Architecture{}, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

const maxHeaderLen = 1 << 16

func readHeader(r io.Reader) (Architecture, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Architecture{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != fileMagic {
		return Architecture{}, fmt.Errorf("not a model file")
	}
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return Architecture{}, fmt.Errorf("read header len: %w", err)
	}
	if headerLen > maxHeaderLen {
		return Architecture{}, fmt.Errorf("header length %d exceeds %d", headerLen, maxHeaderLen)
	}
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Architecture{}, fmt.Errorf("read header: %w", err)
	}
	var h fileHeader
	if err := json.Unmarshal(buf, &h); err != nil {
		return Architecture{}, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != fileVersion {
		return Architecture{}, fmt.Errorf("unsupported model file version %d", h.Version)
	}
	return h.Architecture, nil
}
