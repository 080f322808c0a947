package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/api"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// ErrAnswerLookup wraps any failure of an answer lookup chunk.
var ErrAnswerLookup = errors.New("answer lookup failed")

// AnswerLookup fetches answers by id. *api.Client implements it.
type AnswerLookup interface {
	LookupAnswers(ctx context.Context, ids []int64) (*api.Page[api.Answer], error)
}

// Assembler turns a page of questions into paired question/answer records.
type Assembler struct {
	lookup    AnswerLookup
	chunkSize int
	logger    *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithChunkSize sets how many ids go into one lookup. Values outside
// 1..api.MaxIDsPerLookup fall back to the maximum.
func WithChunkSize(n int) Option {
	return func(a *Assembler) {
		if n < 1 || n > api.MaxIDsPerLookup {
			n = api.MaxIDsPerLookup
		}
		a.chunkSize = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Assembler backed by lookup.
func New(lookup AnswerLookup, opts ...Option) *Assembler {
	a := &Assembler{
		lookup:    lookup,
		chunkSize: api.MaxIDsPerLookup,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble keeps the questions that have an accepted answer, fetches those
// answers and pairs them. Questions whose answer is not returned are dropped,
// so every question in the result has exactly one answer.
func (a *Assembler) Assemble(ctx context.Context, questions []api.Question) (*models.Batch, error) {
	accepted := make([]api.Question, 0, len(questions))
	seenQuestion := make(map[int64]bool, len(questions))
	var ids []int64
	seenID := make(map[int64]bool, len(questions))
	for _, q := range questions {
		if q.AcceptedAnswerID == nil || seenQuestion[q.QuestionID] {
			continue
		}
		seenQuestion[q.QuestionID] = true
		accepted = append(accepted, q)
		if id := *q.AcceptedAnswerID; !seenID[id] {
			seenID[id] = true
			ids = append(ids, id)
		}
	}

	answers := make(map[int64]api.Answer, len(ids))
	chunks := Chunk(ids, a.chunkSize)
	for i, chunk := range chunks {
		page, err := a.lookup.LookupAnswers(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d/%d: %w", ErrAnswerLookup, i+1, len(chunks), err)
		}
		for _, ans := range page.Items {
			answers[ans.AnswerID] = ans
		}
	}

	batch := &models.Batch{
		Questions: make([]models.QuestionRecord, 0, len(accepted)),
		Answers:   make([]models.AnswerRecord, 0, len(accepted)),
	}
	for _, q := range accepted {
		ans, ok := answers[*q.AcceptedAnswerID]
		if !ok || ans.QuestionID != q.QuestionID {
			a.logger.Debug("dropping question without its accepted answer",
				"question_id", q.QuestionID, "accepted_answer_id", *q.AcceptedAnswerID)
			continue
		}
		batch.Questions = append(batch.Questions, toQuestionRecord(q))
		batch.Answers = append(batch.Answers, models.AnswerRecord{
			AnswerID:   ans.AnswerID,
			QuestionID: ans.QuestionID,
			Body:       HTMLToText(ans.Content()),
		})
	}

	return batch, nil
}

func toQuestionRecord(q api.Question) models.QuestionRecord {
	id := *q.AcceptedAnswerID
	return models.QuestionRecord{
		Tags:             q.Tags,
		AcceptedAnswerID: &id,
		AnswerCount:      q.AnswerCount,
		Score:            q.Score,
		CreationDate:     q.CreationDate,
		QuestionID:       q.QuestionID,
		Title:            HTMLToText(q.Title),
		Body:             HTMLToText(q.Content()),
	}
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []int64, size int) [][]int64 {
	if size < 1 {
		size = 1
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// HTMLToText strips markup and decodes entities.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
