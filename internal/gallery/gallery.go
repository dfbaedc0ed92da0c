// Package gallery holds reference embeddings of catalog images and answers
// nearest-neighbour queries by Euclidean distance.
package gallery

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/twinscope/internal/metric"
)

// Entry is one reference image.
type Entry struct {
	ID       string    `json:"id"`
	EntityID string    `json:"entity_id"`
	Filename string    `json:"filename"`
	Vector   []float32 `json:"-"`
}

// EntryID derives the ID of an entity's reference image from its catalog filename,
// relative to the image directory. Rebuilding a gallery yields the same IDs even
// when the image directory moves.
func EntryID(entityID, filename string) string {
	h := sha256.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(filepath.ToSlash(filepath.Clean(filename))))
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// Match is a search hit.
type Match struct {
	ID         string  `json:"id"`
	EntityID   string  `json:"entity_id"`
	Filename   string  `json:"filename"`
	Distance   float64 `json:"distance"`
	SameEntity bool    `json:"same_entity"`
}

// Index is an in-memory brute-force gallery. Safe for concurrent use.
type Index struct {
	dimensions int
	entries    []Entry
	byID       map[string]int
	mu         sync.RWMutex
}

// New creates an empty gallery for vectors of the given dimension.
func New(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Index{
		dimensions: dimensions,
		byID:       make(map[string]int),
	}, nil
}

// Dimensions returns the vector width.
func (g *Index) Dimensions() int {
	return g.dimensions
}

// Add inserts entries, replacing any existing entry with the same ID.
func (g *Index) Add(ctx context.Context, entries []Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != g.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), g.dimensions)
		}
		vec := make([]float32, g.dimensions)
		copy(vec, e.Vector)
		e.Vector = vec
		if i, ok := g.byID[e.ID]; ok {
			g.entries[i] = e
			continue
		}
		g.byID[e.ID] = len(g.entries)
		g.entries = append(g.entries, e)
	}
	return nil
}

// Search returns the k entries nearest to query, closest first. SameEntity is set
// on matches whose distance is below the similarity threshold.
func (g *Index) Search(ctx context.Context, query []float64, k int) ([]*Match, error) {
	if len(query) != g.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), g.dimensions)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if k <= 0 || len(g.entries) == 0 {
		return nil, nil
	}
	matches := make([]*Match, len(g.entries))
	vec := make([]float64, g.dimensions)
	for i, e := range g.entries {
		for j, v := range e.Vector {
			vec[j] = float64(v)
		}
		d := metric.Distance(query, vec)
		matches[i] = &Match{
			ID:         e.ID,
			EntityID:   e.EntityID,
			Filename:   e.Filename,
			Distance:   d,
			SameEntity: metric.PredictSimilar(d),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Remove deletes entries by ID.
func (g *Index) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := make([]Entry, 0, len(g.entries))
	g.byID = make(map[string]int, len(g.entries))
	for _, e := range g.entries {
		if !removeSet[e.ID] {
			g.byID[e.ID] = len(kept)
			kept = append(kept, e)
		}
	}
	g.entries = kept
	return nil
}

// Entities returns the number of distinct entities in the gallery.
func (g *Index) Entities() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range g.entries {
		seen[e.EntityID] = true
	}
	return len(seen)
}

// Size returns the number of entries.
func (g *Index) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Save persists the gallery to path. Directory is created if needed. Format:
// dimension (4), n (4), then per entry: three length-prefixed strings (id, entity
// id, filename) and the vector (dimension*4 bytes).
func (g *Index) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create gallery dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create gallery file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, [2]uint32{uint32(g.dimensions), uint32(len(g.entries))}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range g.entries {
		for _, s := range []string{e.ID, e.EntityID, e.Filename} {
			if err := writeString(f, s); err != nil {
				return err
			}
		}
		if _, err := f.Write(float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads a gallery written by Save.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gallery file: %w", err)
	}
	defer f.Close()
	var header [2]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	g, err := New(int(header[0]))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, g.dimensions*4)
	for i := uint32(0); i < header[1]; i++ {
		var fields [3]string
		for j := range fields {
			if fields[j], err = readString(f); err != nil {
				return nil, err
			}
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		g.byID[fields[0]] = len(g.entries)
		g.entries = append(g.entries, Entry{ID: fields[0], EntityID: fields[1], Filename: fields[2], Vector: bytesToFloat32Slice(buf)})
	}
	return g, nil
}

const maxStringLen = 1 << 16

func writeString(w io.Writer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return fmt.Errorf("write string len: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("read string len: %w", err)
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds %d", n, maxStringLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// ToFloat32 converts an embedding for storage.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
