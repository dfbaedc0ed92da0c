package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/hyperjump/twinscope/internal/models"
)

// LabelIndex is an in-memory Bleve index over entity IDs and labels.
type LabelIndex struct {
	index    bleve.Index
	entities map[string]*models.Entity
}

// labelDoc is the indexed form of an entity.
type labelDoc struct {
	ID     string `json:"id"`
	Labels string `json:"labels"`
}

// LabelHit is one entity matching a label query.
type LabelHit struct {
	Entity *models.Entity `json:"entity"`
	Score  float64        `json:"score"`
}

// NewLabelIndex builds a memory-only index of the given entities.
func NewLabelIndex(entities []models.Entity) (*LabelIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	labelsField := bleve.NewTextFieldMapping()
	labelsField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("labels", labelsField)
	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idField)
	im.AddDocumentMapping("entity", docMapping)
	im.DefaultType = "entity"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create label index: %w", err)
	}
	li := &LabelIndex{index: index, entities: make(map[string]*models.Entity, len(entities))}
	batch := index.NewBatch()
	for i := range entities {
		e := &entities[i]
		li.entities[e.ID] = e
		if err := batch.Index(e.ID, labelDoc{ID: e.ID, Labels: strings.Join(e.Labels, " ")}); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to index entity %s: %w", e.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to commit label index: %w", err)
	}
	return li, nil
}

// Search returns up to limit entities whose labels match query.
func (l *LabelIndex) Search(ctx context.Context, query string, limit int) ([]*LabelHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("labels")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("label search failed: %w", err)
	}
	hits := make([]*LabelHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if e, ok := l.entities[h.ID]; ok {
			hits = append(hits, &LabelHit{Entity: e, Score: h.Score})
		}
	}
	return hits, nil
}

// Entity returns the entity with the given ID.
func (l *LabelIndex) Entity(id string) (*models.Entity, bool) {
	e, ok := l.entities[id]
	return e, ok
}

// Size returns the number of indexed entities.
func (l *LabelIndex) Size() int {
	return len(l.entities)
}

// Close releases the index.
func (l *LabelIndex) Close() error {
	return l.index.Close()
}
