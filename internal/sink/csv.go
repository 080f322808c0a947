package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

var (
	questionHeader = []string{"tags", "accepted_answer_id", "answer_count", "score", "creation_date", "question_id", "title", "body"}
	answerHeader   = []string{"answer_id", "question_id", "body"}

	fileNameReplacer = strings.NewReplacer(models.TagSeparator, "+", "/", "_", string(filepath.Separator), "_")
)

// CSVSink appends each batch to per-tag CSV files named
// <tag-key>_questions_<from>.csv and <tag-key>_answers_<from>.csv.
type CSVSink struct {
	questionsDir string
	answersDir   string
	mu           sync.Mutex
}

// NewCSVSink creates both output directories.
func NewCSVSink(questionsDir, answersDir string) (*CSVSink, error) {
	for _, dir := range []string{questionsDir, answersDir} {
		if dir == "" {
			return nil, fmt.Errorf("csv output directory not configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &CSVSink{questionsDir: questionsDir, answersDir: answersDir}, nil
}

// QuestionsPath returns the questions file a batch is written to.
func (s *CSVSink) QuestionsPath(b *models.Batch) string {
	return filepath.Join(s.questionsDir, fmt.Sprintf("%s_questions_%d.csv", fileNameReplacer.Replace(b.TagKey), b.From))
}

// AnswersPath returns the answers file a batch is written to.
func (s *CSVSink) AnswersPath(b *models.Batch) string {
	return filepath.Join(s.answersDir, fmt.Sprintf("%s_answers_%d.csv", fileNameReplacer.Replace(b.TagKey), b.From))
}

func (s *CSVSink) Write(_ context.Context, b *models.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	questions := make([][]string, 0, len(b.Questions))
	for _, q := range b.Questions {
		accepted := ""
		if q.AcceptedAnswerID != nil {
			accepted = strconv.FormatInt(*q.AcceptedAnswerID, 10)
		}
		questions = append(questions, []string{
			strings.Join(q.Tags, models.TagSeparator),
			accepted,
			strconv.Itoa(q.AnswerCount),
			strconv.Itoa(q.Score),
			strconv.FormatInt(q.CreationDate, 10),
			strconv.FormatInt(q.QuestionID, 10),
			q.Title,
			q.Body,
		})
	}
	if err := appendRows(s.QuestionsPath(b), questionHeader, questions); err != nil {
		return fmt.Errorf("failed to write questions: %w", err)
	}

	answers := make([][]string, 0, len(b.Answers))
	for _, a := range b.Answers {
		answers = append(answers, []string{
			strconv.FormatInt(a.AnswerID, 10),
			strconv.FormatInt(a.QuestionID, 10),
			a.Body,
		})
	}
	if err := appendRows(s.AnswersPath(b), answerHeader, answers); err != nil {
		return fmt.Errorf("failed to write answers: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error { return nil }

// appendRows appends rows to path, writing header first when the file is new.
func appendRows(path string, header []string, rows [][]string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	bufw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bufw)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return f.Sync()
}
