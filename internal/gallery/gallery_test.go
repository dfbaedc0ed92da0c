package gallery

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestIndex_AddSearch(t *testing.T) {
	g, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	entries := []Entry{
		{ID: "1", EntityID: "cat", Filename: "cat1.jpg", Vector: []float32{0, 0}},
		{ID: "2", EntityID: "cat", Filename: "cat2.jpg", Vector: []float32{0.1, 0}},
		{ID: "3", EntityID: "dog", Filename: "dog1.jpg", Vector: []float32{3, 4}},
	}
	if err := g.Add(ctx, entries); err != nil {
		t.Fatal(err)
	}
	matches, err := g.Search(ctx, []float64{0, 0.05}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].ID != "1" || matches[1].ID != "2" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	if !matches[0].SameEntity {
		t.Error("close match should be flagged same entity")
	}
	far, _ := g.Search(ctx, []float64{0, 0}, 10)
	if len(far) != 3 || far[2].EntityID != "dog" || far[2].SameEntity || far[2].Distance != 5 {
		t.Errorf("unexpected far match: %+v", far[2])
	}
	if g.Entities() != 2 {
		t.Errorf("Entities = %d", g.Entities())
	}
	if _, err := g.Search(ctx, []float64{1}, 1); err == nil {
		t.Error("expected dimension error")
	}
}

func TestIndex_AddReplacesAndRemove(t *testing.T) {
	g, _ := New(1)
	ctx := context.Background()
	_ = g.Add(ctx, []Entry{{ID: "x", Vector: []float32{1}}, {ID: "y", Vector: []float32{2}}})
	_ = g.Add(ctx, []Entry{{ID: "x", Vector: []float32{5}}})
	if g.Size() != 2 {
		t.Fatalf("expected 2 entries, got %d", g.Size())
	}
	if err := g.Remove(ctx, []string{"y"}); err != nil {
		t.Fatal(err)
	}
	matches, _ := g.Search(ctx, []float64{5}, 1)
	if g.Size() != 1 || matches[0].ID != "x" || matches[0].Distance > 1e-3 {
		t.Errorf("unexpected state: size %d, %+v", g.Size(), matches)
	}
	if err := g.Add(ctx, []Entry{{ID: "z", Vector: []float32{1, 2}}}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestIndex_SaveLoad(t *testing.T) {
	g, _ := New(3)
	ctx := context.Background()
	_ = g.Add(ctx, []Entry{
		{ID: "a", EntityID: "e1", Filename: "a.png", Vector: []float32{1, 2, 3}},
		{ID: "b", EntityID: "e2", Filename: "b.png", Vector: []float32{-1, 0.5, 0}},
	})
	path := filepath.Join(t.TempDir(), "data", "gallery.idx")
	if err := g.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 || loaded.Dimensions() != 3 {
		t.Fatalf("size %d dims %d", loaded.Size(), loaded.Dimensions())
	}
	matches, _ := loaded.Search(ctx, []float64{-1, 0.5, 0}, 1)
	if matches[0].ID != "b" || matches[0].EntityID != "e2" || matches[0].Filename != "b.png" {
		t.Errorf("unexpected match after load: %+v", matches[0])
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.idx")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEntryID(t *testing.T) {
	id := EntryID("cat", "cats/a.jpg")
	if len(id) != 24 {
		t.Errorf("unexpected ID length: %q", id)
	}
	tests := []struct {
		name     string
		entity   string
		filename string
		same     bool
	}{
		{"identical", "cat", "cats/a.jpg", true},
		{"dot segment", "cat", "cats/./a.jpg", true},
		{"parent segment", "cat", "cats/x/../a.jpg", true},
		{"other file", "cat", "cats/b.jpg", false},
		{"other entity", "dog", "cats/a.jpg", false},
		{"no separator collision", "ca", "tcats/a.jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntryID(tt.entity, tt.filename) == id; got != tt.same {
				t.Errorf("EntryID(%q, %q) same=%v, want %v", tt.entity, tt.filename, got, tt.same)
			}
		})
	}
}

func TestLoad_rejectsOversizedString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.idx")
	data := []byte{1, 0, 0, 0, 1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("expected string length error, got %v", err)
	}
}

func BenchmarkIndex_Search(b *testing.B) {
	g, _ := New(64)
	ctx := context.Background()
	entries := make([]Entry, 1000)
	for i := range entries {
		v := make([]float32, 64)
		v[0] = float32(i) / 1000
		entries[i] = Entry{ID: strconv.Itoa(i), EntityID: strconv.Itoa(i % 26), Vector: v}
	}
	_ = g.Add(ctx, entries)
	query := make([]float64, 64)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = g.Search(ctx, query, 10)
	}
}
