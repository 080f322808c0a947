package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// SQLSink inserts batches into a questions and an answers table in one
// transaction. Rows already present are left untouched.
type SQLSink struct {
	db              *sql.DB
	insertQuestions string
	insertAnswers   string
}

// NewSQLSink opens driver ("postgres" or "sqlite") at dsn.
func NewSQLSink(ctx context.Context, driver, dsn, questionsTable, answersTable string) (*SQLSink, error) {
	if !safeIdent.MatchString(questionsTable) || !safeIdent.MatchString(answersTable) {
		return nil, fmt.Errorf("unsafe table name (must be [A-Za-z0-9_], optionally schema-qualified)")
	}
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return newSQLSink(db, driver, questionsTable, answersTable), nil
}

func newSQLSink(db *sql.DB, driver, questionsTable, answersTable string) *SQLSink {
	return &SQLSink{
		db: db,
		insertQuestions: insertStatement(driver, questionsTable, "question_id",
			"question_id", "tags", "accepted_answer_id", "answer_count", "score", "creation_date", "title", "body"),
		insertAnswers: insertStatement(driver, answersTable, "answer_id",
			"answer_id", "question_id", "body"),
	}
}

func insertStatement(driver, table, key string, columns ...string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		if driver == "postgres" {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "), key)
}

func (s *SQLSink) Write(ctx context.Context, b *models.Batch) error {
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qStmt, err := tx.PrepareContext(ctx, s.insertQuestions)
	if err != nil {
		return fmt.Errorf("failed to prepare question insert: %w", err)
	}
	defer qStmt.Close()

	for _, q := range b.Questions {
		var accepted sql.NullInt64
		if q.AcceptedAnswerID != nil {
			accepted = sql.NullInt64{Int64: *q.AcceptedAnswerID, Valid: true}
		}
		if _, err := qStmt.ExecContext(ctx, q.QuestionID, strings.Join(q.Tags, models.TagSeparator),
			accepted, q.AnswerCount, q.Score, q.CreationDate, q.Title, q.Body); err != nil {
			return fmt.Errorf("failed to insert question %d: %w", q.QuestionID, err)
		}
	}

	aStmt, err := tx.PrepareContext(ctx, s.insertAnswers)
	if err != nil {
		return fmt.Errorf("failed to prepare answer insert: %w", err)
	}
	defer aStmt.Close()

	for _, a := range b.Answers {
		if _, err := aStmt.ExecContext(ctx, a.AnswerID, a.QuestionID, a.Body); err != nil {
			return fmt.Errorf("failed to insert answer %d: %w", a.AnswerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}
