package sink

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

func ptr(v int64) *int64 { return &v }

func testBatch() *models.Batch {
	return &models.Batch{
		TagKey: "python;asyncio",
		From:   1700000000,
		Cursor: 1700000100,
		Questions: []models.QuestionRecord{
			{Tags: []string{"python", "asyncio"}, AcceptedAnswerID: ptr(11), AnswerCount: 2, Score: 5, CreationDate: 1700000010, QuestionID: 1, Title: "How to await", Body: "event loop, \"quoted\""},
			{Tags: []string{"python", "asyncio"}, AcceptedAnswerID: ptr(22), AnswerCount: 1, Score: 1, CreationDate: 1700000099, QuestionID: 2, Title: "Cancel tasks", Body: "multi\nline"},
		},
		Answers: []models.AnswerRecord{
			{AnswerID: 11, QuestionID: 1, Body: "use asyncio.run"},
			{AnswerID: 22, QuestionID: 2, Body: "task.cancel()"},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_Write(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(filepath.Join(dir, "questions"), filepath.Join(dir, "answers"))
	require.NoError(t, err)

	b := testBatch()
	require.NoError(t, s.Write(context.Background(), b))
	require.NoError(t, s.Write(context.Background(), b))

	qPath := s.QuestionsPath(b)
	assert.Equal(t, filepath.Join(dir, "questions", "python+asyncio_questions_1700000000.csv"), qPath)

	rows := readCSV(t, qPath)
	require.Len(t, rows, 5, "header written once, then two appends")
	assert.Equal(t, questionHeader, rows[0])
	assert.Equal(t, []string{"python;asyncio", "11", "2", "5", "1700000010", "1", "How to await", "event loop, \"quoted\""}, rows[1])
	assert.Equal(t, "multi\nline", rows[2][7])

	answers := readCSV(t, s.AnswersPath(b))
	require.Len(t, answers, 5)
	assert.Equal(t, answerHeader, answers[0])
	assert.Equal(t, []string{"22", "2", "task.cancel()"}, answers[2])
}

func TestCSVSink_EmptyBatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(filepath.Join(dir, "q"), filepath.Join(dir, "a"))
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), &models.Batch{TagKey: "go"}))

	entries, err := os.ReadDir(filepath.Join(dir, "q"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE temp_questions (
		question_id INTEGER PRIMARY KEY,
		tags TEXT, accepted_answer_id INTEGER, answer_count INTEGER, score INTEGER,
		creation_date INTEGER, title TEXT, body TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE temp_answers (answer_id INTEGER PRIMARY KEY, question_id INTEGER, body TEXT)`)
	require.NoError(t, err)
	return db
}

func TestSQLSink_SQLiteIdempotent(t *testing.T) {
	db := openSQLite(t)
	s := newSQLSink(db, "sqlite", "temp_questions", "temp_answers")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, testBatch()))
	require.NoError(t, s.Write(ctx, testBatch()), "replayed batch is ignored")

	var questions, answers int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM temp_questions`).Scan(&questions))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM temp_answers`).Scan(&answers))
	assert.Equal(t, 2, questions)
	assert.Equal(t, 2, answers)

	var tags, title string
	require.NoError(t, db.QueryRow(`SELECT tags, title FROM temp_questions WHERE question_id = 2`).Scan(&tags, &title))
	assert.Equal(t, "python;asyncio", tags)
	assert.Equal(t, "Cancel tasks", title)
}

func TestSQLSink_RollsBackOnFailure(t *testing.T) {
	db := openSQLite(t)
	_, err := db.Exec(`DROP TABLE temp_answers`)
	require.NoError(t, err)

	s := newSQLSink(db, "sqlite", "temp_questions", "temp_answers")
	require.Error(t, s.Write(context.Background(), testBatch()))

	var questions int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM temp_questions`).Scan(&questions))
	assert.Zero(t, questions, "questions are not committed without their answers")
}

func TestInsertStatement(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO temp_answers (answer_id, question_id, body) VALUES ($1, $2, $3) ON CONFLICT (answer_id) DO NOTHING",
		insertStatement("postgres", "temp_answers", "answer_id", "answer_id", "question_id", "body"))
	assert.Equal(t,
		"INSERT INTO a (x, y) VALUES (?, ?) ON CONFLICT (x) DO NOTHING",
		insertStatement("sqlite", "a", "x", "x", "y"))
}

func TestNewSQLSink_RejectsUnsafeTable(t *testing.T) {
	_, err := NewSQLSink(context.Background(), "sqlite", ":memory:", "questions; DROP TABLE x", "answers")
	assert.ErrorContains(t, err, "unsafe table name")
}

func TestSQLSink_Postgres(t *testing.T) {
	dsn := os.Getenv("HARVEST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HARVEST_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1) // temp tables live on one connection
	_, err = db.ExecContext(ctx, `
		CREATE TEMP TABLE pg_questions (question_id BIGINT PRIMARY KEY, tags TEXT, accepted_answer_id BIGINT,
			answer_count INT, score INT, creation_date BIGINT, title TEXT, body TEXT);
		CREATE TEMP TABLE pg_answers (answer_id BIGINT PRIMARY KEY, question_id BIGINT, body TEXT);`)
	require.NoError(t, err)

	s := newSQLSink(db, "postgres", "pg_questions", "pg_answers")
	require.NoError(t, s.Write(ctx, testBatch()))
	require.NoError(t, s.Write(ctx, testBatch()))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pg_questions`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMongoSink(t *testing.T) {
	uri := os.Getenv("HARVEST_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("HARVEST_TEST_MONGODB_URI not set")
	}
	ctx := context.Background()

	s, err := NewMongoSink(ctx, uri, "harvester_test", "questions", "answers")
	require.NoError(t, err)
	defer s.Close()
	defer s.questions.Database().Drop(ctx)

	require.NoError(t, s.Write(ctx, testBatch()))
	require.NoError(t, s.Write(ctx, testBatch()))

	n, err := s.questions.CountDocuments(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBleveSink_WriteAndSearch(t *testing.T) {
	s, err := NewMemBleveSink()
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(context.Background(), testBatch()))
	require.NoError(t, s.Write(context.Background(), testBatch()))

	count, err := s.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count, "documents are keyed by id")

	hits, err := s.Search("cancel", 10)
	require.NoError(t, err)
	byID := map[string]Hit{}
	for _, h := range hits {
		byID[h.ID] = h
	}
	require.Contains(t, byID, "q:2")
	assert.Equal(t, "question", byID["q:2"].Type)
	assert.Equal(t, "Cancel tasks", byID["q:2"].Title)
	assert.NotContains(t, byID, "q:1")

	hits, err = s.Search("   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// MockSink is a mock implementation of Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Write(ctx context.Context, b *models.Batch) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

func TestMulti_Write(t *testing.T) {
	a, b := new(MockSink), new(MockSink)
	batch := testBatch()
	a.On("Write", mock.Anything, batch).Return(nil)
	b.On("Write", mock.Anything, batch).Return(nil)

	require.NoError(t, NewMulti(a, b).Write(context.Background(), batch))
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestMulti_WriteFailsIfAnySinkFails(t *testing.T) {
	a, b := new(MockSink), new(MockSink)
	cause := errors.New("disk full")
	a.On("Write", mock.Anything, mock.Anything).Return(nil)
	b.On("Write", mock.Anything, mock.Anything).Return(cause)

	err := NewMulti(a, b).Write(context.Background(), testBatch())
	assert.ErrorIs(t, err, cause)
}

func TestMulti_CloseJoinsErrors(t *testing.T) {
	a, b := new(MockSink), new(MockSink)
	a.On("Close").Return(errors.New("a failed"))
	b.On("Close").Return(nil)

	err := NewMulti(a, b).Close()
	assert.ErrorContains(t, err, "a failed")
	b.AssertCalled(t, "Close")
}

func TestSearchable(t *testing.T) {
	idx, err := NewMemBleveSink()
	require.NoError(t, err)
	defer idx.Close()

	got, ok := Searchable(NewMulti(new(MockSink), idx))
	assert.True(t, ok)
	assert.Same(t, idx, got)

	_, ok = Searchable(new(MockSink))
	assert.False(t, ok)
}

func TestNew_BuildsConfiguredSinks(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), config.SinkConfig{
		Types:        []string{"csv", "bleve"},
		QuestionsDir: filepath.Join(dir, "q"),
		AnswersDir:   filepath.Join(dir, "a"),
		BlevePath:    filepath.Join(dir, "index.bleve"),
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &Multi{}, s)
	require.NoError(t, s.Write(context.Background(), testBatch()))
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), config.SinkConfig{Types: []string{"kafka"}}, nil)
	assert.ErrorContains(t, err, "unsupported sink type")
}
