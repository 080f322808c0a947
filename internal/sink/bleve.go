package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// BleveSink indexes questions and answers for full-text search.
type BleveSink struct {
	idx bleve.Index
}

// Hit is one search result.
type Hit struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score"`
}

// NewBleveSink opens the index at path, creating it when missing.
func NewBleveSink(path string) (*BleveSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}
	idx, err := bleve.Open(path)
	if err != nil {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}
	return &BleveSink{idx: idx}, nil
}

// NewMemBleveSink creates an index held in memory.
func NewMemBleveSink() (*BleveSink, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, err
	}
	return &BleveSink{idx: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Store = true
	title.IncludeTermVectors = true

	body := bleve.NewTextFieldMapping()
	body.Store = false

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name
	exact.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("body", body)
	dm.AddFieldMappingsAt("type", exact)
	dm.AddFieldMappingsAt("tag_key", exact)
	dm.AddFieldMappingsAt("tags", exact)

	im.DefaultMapping = dm
	return im
}

func questionDocID(id int64) string { return "q:" + strconv.FormatInt(id, 10) }
func answerDocID(id int64) string   { return "a:" + strconv.FormatInt(id, 10) }

func (s *BleveSink) Write(_ context.Context, b *models.Batch) error {
	if b.Len() == 0 {
		return nil
	}

	titles := make(map[int64]string, len(b.Questions))
	batch := s.idx.NewBatch()
	for _, q := range b.Questions {
		titles[q.QuestionID] = q.Title
		if err := batch.Index(questionDocID(q.QuestionID), map[string]any{
			"type":          "question",
			"tag_key":       b.TagKey,
			"tags":          q.Tags,
			"title":         q.Title,
			"body":          q.Body,
			"score":         q.Score,
			"creation_date": q.CreationDate,
		}); err != nil {
			return fmt.Errorf("failed to index question %d: %w", q.QuestionID, err)
		}
	}
	for _, a := range b.Answers {
		if err := batch.Index(answerDocID(a.AnswerID), map[string]any{
			"type":        "answer",
			"tag_key":     b.TagKey,
			"question_id": a.QuestionID,
			"title":       titles[a.QuestionID],
			"body":        a.Body,
		}); err != nil {
			return fmt.Errorf("failed to index answer %d: %w", a.AnswerID, err)
		}
	}
	return s.idx.Batch(batch)
}

// Search runs a match query over titles and bodies.
func (s *BleveSink) Search(query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(3.0)
	body := bleve.NewMatchQuery(query)
	body.SetField("body")

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(title, body), limit, 0, false)
	req.Fields = []string{"type", "title"}
	res, err := s.idx.Search(req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields["type"].(string); ok {
			hit.Type = v
		}
		if v, ok := h.Fields["title"].(string); ok {
			hit.Title = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DocCount returns the number of indexed documents.
func (s *BleveSink) DocCount() (uint64, error) {
	return s.idx.DocCount()
}

func (s *BleveSink) Close() error {
	return s.idx.Close()
}
