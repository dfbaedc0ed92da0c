// Package models defines core data structures for catalog entities, training pairs, and run history.
package models

import "sort"

// ImageRef points at one image file of an entity, relative to the image base directory.
type ImageRef struct {
	Filename string `json:"filename"`
}

// Entity is a labeled real-world item with its associated images. Loaded once and treated as immutable.
type Entity struct {
	ID     string     `json:"id"`
	Labels []string   `json:"labels"`
	Images []ImageRef `json:"images"`
}

// LabelSet returns the entity's labels as a set.
func (e *Entity) LabelSet() map[string]struct{} {
	set := make(map[string]struct{}, len(e.Labels))
	for _, l := range e.Labels {
		set[l] = struct{}{}
	}
	return set
}

// DisjointFrom reports whether e shares no label with other.
func (e *Entity) DisjointFrom(other *Entity) bool {
	if len(e.Labels) == 0 || len(other.Labels) == 0 {
		return true
	}
	set := e.LabelSet()
	for _, l := range other.Labels {
		if _, ok := set[l]; ok {
			return false
		}
	}
	return true
}

// NormalizeLabels sorts and de-duplicates the label list in place.
func (e *Entity) NormalizeLabels() {
	if len(e.Labels) == 0 {
		return
	}
	sort.Strings(e.Labels)
	out := e.Labels[:1]
	for _, l := range e.Labels[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	e.Labels = out
}
