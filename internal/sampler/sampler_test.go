package sampler

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/twinscope/internal/models"
)

func entity(id string, labels []string, images ...string) models.Entity {
	e := models.Entity{ID: id, Labels: labels}
	for _, img := range images {
		e.Images = append(e.Images, models.ImageRef{Filename: img})
	}
	return e
}

// owners maps filename to the entity that holds it.
func owners(entities []models.Entity) map[string]*models.Entity {
	m := make(map[string]*models.Entity)
	for i := range entities {
		for _, img := range entities[i].Images {
			m[img.Filename] = &entities[i]
		}
	}
	return m
}

func TestBuild_twoEntityScenario(t *testing.T) {
	entities := []models.Entity{
		entity("A", []string{"x"}, "a1", "a2", "a3"),
		entity("B", []string{"y"}, "b1", "b2"),
	}
	ds, stats, err := New(1).Build(entities)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 8 {
		t.Fatalf("expected 8 entries, got %d", ds.Len())
	}
	if stats.Units != 4 || stats.PositiveSources != 2 {
		t.Errorf("stats: %+v", stats)
	}
	if err := ds.Validate(); err != nil {
		t.Fatal(err)
	}
	own := owners(entities)
	perEntity := map[string]int{}
	for i := 0; i < ds.Len(); i += 2 {
		pos, neg := ds.Pairs[i], ds.Pairs[i+1]
		src := own[pos.A]
		if own[pos.B] != src {
			t.Errorf("positive %v mixes entities", pos)
		}
		perEntity[src.ID]++
		if neg.A != pos.A {
			t.Errorf("negative %v should be anchored on %s", neg, pos.A)
		}
		if own[neg.B] == src {
			t.Errorf("negative %v draws from its own entity", neg)
		}
	}
	if perEntity["A"] != 3 || perEntity["B"] != 1 {
		t.Errorf("units per entity: %v", perEntity)
	}
}

func TestBuild_combinationCounts(t *testing.T) {
	var entities []models.Entity
	for k := 0; k <= 5; k++ {
		imgs := make([]string, k)
		for i := range imgs {
			imgs[i] = fmt.Sprintf("e%d_%d", k, i)
		}
		entities = append(entities, entity(fmt.Sprintf("e%d", k), []string{fmt.Sprintf("l%d", k)}, imgs...))
	}
	ds, stats, err := New(3).Build(entities)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 2 {
		t.Errorf("entities with <2 images should be skipped: %+v", stats)
	}
	positives := map[string]int{}
	negatives := map[string]int{}
	for i, p := range ds.Pairs {
		src := strings.SplitN(p.A, "_", 2)[0]
		if ds.Labels[i] == models.LabelSimilar {
			positives[src]++
		} else {
			negatives[src]++
		}
	}
	for k := 0; k <= 5; k++ {
		id := fmt.Sprintf("e%d", k)
		want := k * (k - 1) / 2
		if positives[id] != want || negatives[id] != want {
			t.Errorf("%s: positives=%d negatives=%d, want %d each", id, positives[id], negatives[id], want)
		}
	}
}

func TestBuild_negativesAreLabelDisjoint(t *testing.T) {
	entities := []models.Entity{
		entity("cat1", []string{"cat", "pet"}, "c1a", "c1b", "c1c"),
		entity("cat2", []string{"cat"}, "c2a", "c2b"),
		entity("dog", []string{"dog", "pet"}, "d1", "d2"),
		entity("car", []string{"car"}, "v1"),
		entity("boat", []string{"boat"}, "w1", "w2", "w3", "w4"),
	}
	ds, _, err := New(11).Build(entities)
	if err != nil {
		t.Fatal(err)
	}
	own := owners(entities)
	for i := 1; i < ds.Len(); i += 2 {
		src := own[ds.Pairs[i-1].A]
		neg := own[ds.Pairs[i].B]
		if !src.DisjointFrom(neg) {
			t.Errorf("negative %v: %s and %s share labels", ds.Pairs[i], src.ID, neg.ID)
		}
	}
}

func TestBuild_labelsInterleaved(t *testing.T) {
	entities := []models.Entity{
		entity("a", []string{"a"}, "a1", "a2", "a3", "a4"),
		entity("b", []string{"b"}, "b1", "b2", "b3"),
		entity("c", []string{"c"}, "c1"),
	}
	for _, shuffle := range []bool{true, false} {
		ds, _, err := New(5, WithShuffle(shuffle)).Build(entities)
		if err != nil {
			t.Fatal(err)
		}
		if ds.Len()%2 != 0 {
			t.Fatalf("odd length %d", ds.Len())
		}
		for i, l := range ds.Labels {
			want := models.LabelSimilar
			if i%2 == 1 {
				want = models.LabelDissimilar
			}
			if l != want {
				t.Fatalf("shuffle=%v: label[%d]=%d, want %d", shuffle, i, l, want)
			}
		}
	}
}

func TestBuild_deterministic(t *testing.T) {
	entities := []models.Entity{
		entity("a", []string{"a"}, "a1", "a2", "a3"),
		entity("b", []string{"b"}, "b1", "b2", "b3"),
		entity("c", []string{"c"}, "c1", "c2"),
	}
	ds1, _, _ := New(9).Build(entities)
	ds2, _, _ := New(9).Build(entities)
	for i := range ds1.Pairs {
		if ds1.Pairs[i] != ds2.Pairs[i] {
			t.Fatalf("pair %d differs: %v vs %v", i, ds1.Pairs[i], ds2.Pairs[i])
		}
	}
}

func TestBuild_exhausted(t *testing.T) {
	entities := []models.Entity{
		entity("a", []string{"shared", "a"}, "a1", "a2"),
		entity("b", []string{"shared"}, "b1", "b2"),
	}
	_, _, err := New(1, WithMaxDraws(20)).Build(entities)
	if !errors.Is(err, ErrNoValidNegative) {
		t.Fatalf("expected ErrNoValidNegative, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.EntityID != "a" || exhausted.Draws != 20 {
		t.Errorf("unexpected error detail: %+v", exhausted)
	}
}

func TestBuild_skipExhausted(t *testing.T) {
	entities := []models.Entity{
		entity("a", []string{"shared"}, "a1", "a2"),
		entity("b", []string{"shared"}, "b1", "b2"),
		entity("c", []string{"other"}, "c1", "c2"),
	}
	// c is the only disjoint entity and has no images to offer.
	entities[2].Images = nil
	ds, stats, err := New(1, WithMaxDraws(10), WithSkipExhausted(true)).Build(entities)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 0 || stats.Exhausted != 2 {
		t.Errorf("expected both entities skipped: len=%d stats=%+v", ds.Len(), stats)
	}
}

func TestBuild_singleImageNegativeSource(t *testing.T) {
	entities := []models.Entity{
		entity("a", []string{"a"}, "a1", "a2"),
		entity("solo", []string{"s"}, "s1"),
	}
	ds, _, err := New(2).Build(entities)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 2 || ds.Pairs[1].B != "s1" {
		t.Errorf("single-image entity should supply the negative: %+v", ds.Pairs)
	}
}

func TestBuild_empty(t *testing.T) {
	ds, stats, err := New(1).Build([]models.Entity{entity("a", []string{"a"}, "a1")})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 0 || stats.Units != 0 {
		t.Errorf("expected empty dataset, got %d", ds.Len())
	}
}
