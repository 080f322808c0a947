package api

import "time"

// Question is one item of a /questions search.
type Question struct {
	Tags             []string `json:"tags"`
	AcceptedAnswerID *int64   `json:"accepted_answer_id"`
	AnswerCount      int      `json:"answer_count"`
	Score            int      `json:"score"`
	CreationDate     int64    `json:"creation_date"`
	QuestionID       int64    `json:"question_id"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	BodyMarkdown     string   `json:"body_markdown"`
}

// Content returns the markdown body when the filter provides it, else the HTML body.
func (q Question) Content() string {
	if q.BodyMarkdown != "" {
		return q.BodyMarkdown
	}
	return q.Body
}

// Answer is one item of an /answers/{ids} lookup.
type Answer struct {
	AnswerID     int64  `json:"answer_id"`
	QuestionID   int64  `json:"question_id"`
	Body         string `json:"body"`
	BodyMarkdown string `json:"body_markdown"`
}

// Content returns the markdown body when the filter provides it, else the HTML body.
func (a Answer) Content() string {
	if a.BodyMarkdown != "" {
		return a.BodyMarkdown
	}
	return a.Body
}

// Page is one decoded API response.
type Page[T any] struct {
	Items          []T
	QuotaRemaining int
	HasMore        bool
	Backoff        time.Duration

	// MaxCreationDate is the largest creation_date in a question page, 0 otherwise.
	MaxCreationDate int64
}

// QuestionQuery selects one page of questions for a tag-key.
type QuestionQuery struct {
	Tagged         string
	FromDate       int64
	TimeoutRetries int
}

// envelope is the common wrapper object of every API response.
type envelope[T any] struct {
	Items          []T    `json:"items"`
	HasMore        *bool  `json:"has_more"`
	QuotaMax       int    `json:"quota_max"`
	QuotaRemaining *int   `json:"quota_remaining"`
	Backoff        int    `json:"backoff"`
	ErrorID        int    `json:"error_id"`
	ErrorName      string `json:"error_name"`
	ErrorMessage   string `json:"error_message"`
}
