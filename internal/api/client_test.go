package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/quota"
)

func testConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:        baseURL,
		Key:            "k3y",
		Site:           "stackoverflow",
		QuestionFilter: "qfilter",
		AnswerFilter:   "afilter",
		PageSize:       100,
		Timeout:        time.Second,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.APIConfig)) (*Client, *quota.Tracker) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	for _, m := range mutate {
		m(&cfg)
	}
	tracker := quota.New(0)
	client, err := NewClient(cfg, WithQuotaRecorder(tracker))
	require.NoError(t, err)
	return client, tracker
}

func TestClient_SearchQuestions(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/questions", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "creation", q.Get("sort"))
		assert.Equal(t, "asc", q.Get("order"))
		assert.Equal(t, "python;asyncio", q.Get("tagged"))
		assert.Equal(t, "1700000000", q.Get("fromdate"))
		assert.Equal(t, "qfilter", q.Get("filter"))
		assert.Equal(t, "100", q.Get("pagesize"))
		assert.Equal(t, "k3y", q.Get("key"))
		assert.Equal(t, "stackoverflow", q.Get("site"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"items": [
				{"question_id": 1, "creation_date": 1700000005, "accepted_answer_id": 11, "title": "a", "body_markdown": "x"},
				{"question_id": 2, "creation_date": 1700000009, "title": "b"},
				{"question_id": 3, "creation_date": 1700000007, "accepted_answer_id": 33}
			],
			"has_more": true,
			"quota_max": 10000,
			"quota_remaining": 9876
		}`)
	})

	page, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "python;asyncio", FromDate: 1700000000})
	require.NoError(t, err)

	assert.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, 9876, page.QuotaRemaining)
	assert.Equal(t, int64(1700000009), page.MaxCreationDate)
	assert.Equal(t, "x", page.Items[0].Content())
	assert.Nil(t, page.Items[1].AcceptedAnswerID)
	require.NotNil(t, page.Items[2].AcceptedAnswerID)
	assert.Equal(t, int64(33), *page.Items[2].AcceptedAnswerID)

	remaining, ok := tracker.Remaining()
	assert.True(t, ok)
	assert.Equal(t, 9876, remaining)
}

func TestClient_SearchQuestions_EmptyPage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [], "has_more": false, "quota_remaining": 50}`)
	})

	page, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.Zero(t, page.MaxCreationDate)
}

func TestClient_LookupAnswers(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/answers/11;33", r.URL.Path)
		assert.Equal(t, "afilter", r.URL.Query().Get("filter"))
		fmt.Fprint(w, `{
			"items": [
				{"answer_id": 11, "question_id": 1, "body_markdown": "use asyncio.run"},
				{"answer_id": 33, "question_id": 3, "body": "<p>await it</p>"}
			],
			"has_more": false,
			"quota_remaining": 9875
		}`)
	})

	page, err := client.LookupAnswers(context.Background(), []int64{11, 33})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "use asyncio.run", page.Items[0].Content())
	assert.Equal(t, "<p>await it</p>", page.Items[1].Content())
}

func TestClient_LookupAnswers_TooManyIDs(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	ids := make([]int64, 101)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	_, err := client.LookupAnswers(context.Background(), ids)
	assert.ErrorIs(t, err, ErrTooManyIDs)
	assert.Zero(t, calls.Load(), "no request is made")
}

func TestClient_ThrottleViolation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error_id": 502, "error_name": "throttle_violation", "error_message": "too many requests from this IP"}`)
	}, func(cfg *config.APIConfig) {
		cfg.ThrottleCooldown = 20 * time.Millisecond
	})

	start := time.Now()
	_, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go", TimeoutRetries: 3})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrThrottled)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 502, apiErr.ErrorID)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "cooldown is observed")
}

func TestClient_ServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})

	_, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go", TimeoutRetries: 5})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "boom", apiErr.Body)
	assert.NotErrorIs(t, err, ErrThrottled)
	assert.Equal(t, int32(1), calls.Load(), "only timeouts are retried")
}

func TestClient_UnexpectedResponse(t *testing.T) {
	client, tracker := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [], "quota_remaining": 10}`)
	})

	_, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go"})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	_, ok := tracker.Remaining()
	assert.False(t, ok, "quota is only recorded for well-formed responses")
}

func slowHandler(slowFor int32, delay time.Duration, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= slowFor {
			select {
			case <-r.Context().Done():
			case <-time.After(delay):
			}
			return
		}
		fmt.Fprint(w, `{"items": [{"question_id": 7, "creation_date": 70}], "has_more": false, "quota_remaining": 5}`)
	}
}

func TestClient_TimeoutRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, slowHandler(1, time.Second, &calls), func(cfg *config.APIConfig) {
		cfg.Timeout = 50 * time.Millisecond
	})

	page, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go", TimeoutRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(70), page.MaxCreationDate)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_TimeoutExhausted(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, slowHandler(100, time.Second, &calls), func(cfg *config.APIConfig) {
		cfg.Timeout = 30 * time.Millisecond
	})

	_, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go", TimeoutRetries: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeoutExhausted)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_HonoursBackoff(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `{"items": [], "has_more": true, "quota_remaining": 100, "backoff": 1}`)
			return
		}
		fmt.Fprint(w, `{"items": [], "has_more": false, "quota_remaining": 99}`)
	})

	page, err := client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, page.Backoff)

	start := time.Now()
	_, err = client.SearchQuestions(context.Background(), QuestionQuery{Tagged: "go"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestClient_CancelledDuringSearchDelay(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, func(cfg *config.APIConfig) {
		cfg.SearchDelay = time.Hour
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SearchQuestions(ctx, QuestionQuery{Tagged: "go"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeoutExhausted, "caller cancellation is not an API timeout")
	assert.Zero(t, calls.Load())
}
