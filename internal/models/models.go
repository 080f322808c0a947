package models

import (
	"strings"
	"time"
)

// TagSeparator joins the tags of a TagSet into its key.
const TagSeparator = ";"

// TagSet is an ordered set of tags identifying one partition of the API's content
type TagSet []string

// Key returns the stable identifier used by the checkpoint and the schedule.
// Order matters: "go;http" and "http;go" are different keys.
func (t TagSet) Key() string {
	return strings.Join(t, TagSeparator)
}

// ParseTagSet splits a tag-key back into its tags, dropping empty entries.
func ParseTagSet(key string) TagSet {
	var tags TagSet
	for _, tag := range strings.Split(key, TagSeparator) {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// QuestionRecord is a question that has an accepted answer
type QuestionRecord struct {
	Tags             []string `json:"tags" bson:"tags"`
	AcceptedAnswerID *int64   `json:"accepted_answer_id,omitempty" bson:"accepted_answer_id,omitempty"`
	AnswerCount      int      `json:"answer_count" bson:"answer_count"`
	Score            int      `json:"score" bson:"score"`
	CreationDate     int64    `json:"creation_date" bson:"creation_date"`
	QuestionID       int64    `json:"question_id" bson:"_id"`
	Title            string   `json:"title" bson:"title"`
	Body             string   `json:"body" bson:"body"`
}

// AnswerRecord is the accepted answer of a QuestionRecord
type AnswerRecord struct {
	AnswerID   int64  `json:"answer_id" bson:"_id"`
	QuestionID int64  `json:"question_id" bson:"question_id"`
	Body       string `json:"body" bson:"body"`
}

// Batch holds paired records ready to be handed to a sink.
// Every question in Questions has exactly one answer in Answers with the same QuestionID.
type Batch struct {
	TagKey    string           `json:"tag_key"`
	From      int64            `json:"from"`   // checkpoint the cycle started from
	Cursor    int64            `json:"cursor"` // checkpoint after this batch is persisted
	Questions []QuestionRecord `json:"questions"`
	Answers   []AnswerRecord   `json:"answers"`
}

// Len returns the number of question/answer pairs in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Questions)
}

// Append adds the pairs of other to b.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.Questions = append(b.Questions, other.Questions...)
	b.Answers = append(b.Answers, other.Answers...)
}

// IngestionStatus tracks the status of ingestion cycles
type IngestionStatus struct {
	CycleID           string    `json:"cycle_id"`
	TagKey            string    `json:"tag_key"`
	LastSuccessfulRun time.Time `json:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt"`
	Status            string    `json:"status"` // "continue", "stop", "rerun", "fatal"
	ErrorMessage      string    `json:"error_message,omitempty"`
	RecordsIngested   int       `json:"records_ingested"`
	Checkpoint        int64     `json:"checkpoint"`
	QuotaRemaining    int       `json:"quota_remaining"`
}

// CycleReport summarizes a flushed cycle for downstream collaborators
type CycleReport struct {
	CycleID   string    `json:"cycle_id"`
	TagKey    string    `json:"tag_key"`
	Questions int       `json:"questions"`
	Answers   int       `json:"answers"`
	Cursor    int64     `json:"cursor"`
	Exhausted bool      `json:"exhausted"`
	Finished  time.Time `json:"finished"`
}
