package assembler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/api"
)

// MockLookup is a mock implementation of AnswerLookup
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) LookupAnswers(ctx context.Context, ids []int64) (*api.Page[api.Answer], error) {
	args := m.Called(ctx, ids)
	page, _ := args.Get(0).(*api.Page[api.Answer])
	return page, args.Error(1)
}

// answersFor answers every requested id, attributing answer id N to question N/10.
func answersFor(ids []int64) *api.Page[api.Answer] {
	page := &api.Page[api.Answer]{QuotaRemaining: 100}
	for _, id := range ids {
		page.Items = append(page.Items, api.Answer{AnswerID: id, QuestionID: id / 10, Body: "<p>answer</p>"})
	}
	return page
}

func acceptedID(id int64) *int64 { return &id }

func TestChunk(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 250} {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(i)
		}

		chunks := Chunk(ids, 100)

		assert.Len(t, chunks, (n+99)/100, "n=%d", n)
		var flat []int64
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 100)
			assert.NotEmpty(t, c)
			flat = append(flat, c...)
		}
		if n == 0 {
			assert.Empty(t, flat)
		} else {
			assert.Equal(t, ids, flat, "chunks preserve order without loss")
		}
	}
}

func TestAssemble_ChunksLookups(t *testing.T) {
	var seen [][]int64
	stub := lookupFunc(func(_ context.Context, ids []int64) (*api.Page[api.Answer], error) {
		seen = append(seen, append([]int64(nil), ids...))
		return answersFor(ids), nil
	})

	var questions []api.Question
	for q := int64(1); q <= 250; q++ {
		questions = append(questions, api.Question{QuestionID: q, AcceptedAnswerID: acceptedID(q * 10), CreationDate: q})
	}

	batch, err := New(stub).Assemble(context.Background(), questions)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Len(t, seen[0], 100)
	assert.Len(t, seen[1], 100)
	assert.Len(t, seen[2], 50)
	assert.Equal(t, 250, batch.Len())
	assert.Len(t, batch.Answers, 250)
}

type lookupFunc func(ctx context.Context, ids []int64) (*api.Page[api.Answer], error)

func (f lookupFunc) LookupAnswers(ctx context.Context, ids []int64) (*api.Page[api.Answer], error) {
	return f(ctx, ids)
}

func TestAssemble_NoOrphanQuestions(t *testing.T) {
	lookup := new(MockLookup)
	lookup.On("LookupAnswers", mock.Anything, []int64{10, 20, 30}).Return(&api.Page[api.Answer]{
		Items: []api.Answer{
			{AnswerID: 10, QuestionID: 1, Body: "<p>first &amp; only</p>"},
			// answer 20 missing from the response
			{AnswerID: 30, QuestionID: 999, Body: "belongs elsewhere"},
		},
	}, nil)

	questions := []api.Question{
		{QuestionID: 1, AcceptedAnswerID: acceptedID(10), Title: "Q &lt;1&gt;", Body: "<b>one</b>"},
		{QuestionID: 2, AcceptedAnswerID: acceptedID(20)},
		{QuestionID: 3, AcceptedAnswerID: acceptedID(30)},
		{QuestionID: 4}, // no accepted answer
	}

	batch, err := New(lookup).Assemble(context.Background(), questions)
	require.NoError(t, err)

	require.Equal(t, 1, batch.Len())
	require.Len(t, batch.Answers, 1)
	q, a := batch.Questions[0], batch.Answers[0]
	assert.Equal(t, int64(1), q.QuestionID)
	assert.Equal(t, "Q <1>", q.Title)
	assert.Equal(t, "one", q.Body)
	assert.Equal(t, q.QuestionID, a.QuestionID)
	assert.Equal(t, *q.AcceptedAnswerID, a.AnswerID)
	assert.Equal(t, "first & only", a.Body)
	lookup.AssertExpectations(t)
}

func TestAssemble_DeduplicatesQuestionsAndIDs(t *testing.T) {
	lookup := new(MockLookup)
	lookup.On("LookupAnswers", mock.Anything, []int64{10}).Return(answersFor([]int64{10}), nil).Once()

	questions := []api.Question{
		{QuestionID: 1, AcceptedAnswerID: acceptedID(10)},
		{QuestionID: 1, AcceptedAnswerID: acceptedID(10)},
	}

	batch, err := New(lookup).Assemble(context.Background(), questions)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Len())
	lookup.AssertExpectations(t)
}

func TestAssemble_NoAcceptedAnswers(t *testing.T) {
	lookup := new(MockLookup)

	batch, err := New(lookup).Assemble(context.Background(), []api.Question{{QuestionID: 1}, {QuestionID: 2}})
	require.NoError(t, err)
	assert.Zero(t, batch.Len())
	lookup.AssertNotCalled(t, "LookupAnswers", mock.Anything, mock.Anything)
}

func TestAssemble_LookupFailure(t *testing.T) {
	lookup := new(MockLookup)
	cause := errors.New("connection reset")
	lookup.On("LookupAnswers", mock.Anything, mock.Anything).Return(nil, cause)

	_, err := New(lookup).Assemble(context.Background(), []api.Question{{QuestionID: 1, AcceptedAnswerID: acceptedID(10)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnswerLookup)
	assert.ErrorIs(t, err, cause)
}

func TestWithChunkSize(t *testing.T) {
	assert.Equal(t, 10, New(nil, WithChunkSize(10)).chunkSize)
	assert.Equal(t, api.MaxIDsPerLookup, New(nil, WithChunkSize(0)).chunkSize)
	assert.Equal(t, api.MaxIDsPerLookup, New(nil, WithChunkSize(500)).chunkSize)
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "plain", HTMLToText("  plain "))
	assert.Equal(t, "Use x < y & z", HTMLToText("<p>Use <code>x &lt; y</code> &amp; z</p>"))
	assert.Equal(t, `say "hi"`, HTMLToText("say &quot;hi&quot;"))
}
