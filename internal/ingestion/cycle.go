package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/api"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/retry"
)

// RunCycle harvests one tag-key until it is exhausted, the quota floor is
// reached, the context is cancelled or a fetch fails. The returned error is
// non-nil only for fatal conditions; recoverable ones come back as a
// SignalRerun outcome.
func (s *Service) RunCycle(ctx context.Context) (Outcome, error) {
	c := &cycle{id: s.newCycleID()}
	c.outcome.Report.CycleID = c.id

	ctx, span := s.tracer.Start(ctx, "ingestion.cycle", trace.WithAttributes(attribute.String("cycle.id", c.id)))
	defer span.End()

	state := StateSelectTag
	for state != StateDone {
		next, err := s.step(ctx, state, c)
		if err != nil {
			s.logger.Error("cycle failed", "cycle", c.id, "tag", c.tagKey, "state", state, "error", err)
			s.recordStatus(ctx, c, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "fatal")
			return c.outcome, err
		}
		s.logger.Debug("transition", "cycle", c.id, "from", state, "to", next)
		span.AddEvent(next.String())
		state = next
	}

	c.outcome.Report.TagKey = c.tagKey
	c.outcome.Report.Finished = s.now().UTC()
	s.metrics.RecordCycle(ctx, c.tagKey, c.outcome.Signal.String())
	s.recordStatus(ctx, c, nil)

	span.SetAttributes(
		attribute.String("tag", c.tagKey),
		attribute.String("signal", c.outcome.Signal.String()),
		attribute.Int("questions", c.outcome.Report.Questions),
		attribute.Int64("cursor", c.outcome.Report.Cursor),
	)
	if c.outcome.Err != nil {
		span.RecordError(c.outcome.Err)
	}

	s.logger.Info("cycle finished",
		"cycle", c.id,
		"tag", c.tagKey,
		"signal", c.outcome.Signal,
		"reason", c.outcome.Reason,
		"questions", c.outcome.Report.Questions,
		"cursor", c.outcome.Report.Cursor)
	return c.outcome, nil
}

func (s *Service) step(ctx context.Context, state State, c *cycle) (State, error) {
	switch state {
	case StateSelectTag:
		return s.selectTag(ctx, c), nil
	case StateFetchInitial:
		return s.fetchInitial(ctx, c)
	case StateFetchMore:
		return s.fetchMore(ctx, c), nil
	case StateFlush:
		return s.flush(ctx, c), nil
	default:
		return StateDone, fmt.Errorf("unknown state %v", state)
	}
}

func (s *Service) selectTag(ctx context.Context, c *cycle) State {
	if ctx.Err() != nil {
		return c.finish(SignalStop, "shutdown requested", nil)
	}
	if s.quota.ShouldStop() {
		return c.finish(SignalStop, "quota floor reached", nil)
	}

	sch, err := s.storage.LoadSchedule(ctx)
	if err != nil {
		return c.finish(SignalRerun, "loading schedule", err)
	}
	keys := make([]string, 0, len(s.config.Tags))
	for _, tag := range s.config.Tags {
		keys = append(keys, models.ParseTagSet(tag).Key())
	}
	if sch.Ensure(keys...) {
		if err := s.storage.SaveSchedule(ctx, sch); err != nil {
			return c.finish(SignalRerun, "seeding schedule", err)
		}
	}

	key, ok := sch.NextPending()
	if !ok {
		return c.finish(SignalStop, "no pending tags", nil)
	}

	cp, err := s.storage.LoadCheckpoint(ctx)
	if err != nil {
		return c.finish(SignalRerun, "loading checkpoint", err)
	}
	from, ok := cp.Cursor(key)
	if !ok {
		cp[key] = 0
		if err := s.storage.SaveCheckpoint(ctx, cp); err != nil {
			return c.finish(SignalRerun, "initialising checkpoint", err)
		}
	}

	c.tagKey = key
	c.from = from
	c.cursor = from
	c.checkpoint = cp
	c.schedule = sch
	c.acc = &models.Batch{TagKey: key, From: from, Cursor: from}
	c.outcome.Report.TagKey = key
	c.outcome.Report.Cursor = from

	s.logger.Info("harvesting tag", "cycle", c.id, "tag", key, "from", from)
	return StateFetchInitial
}

func (s *Service) fetchInitial(ctx context.Context, c *cycle) (State, error) {
	page, err := s.searcher.SearchQuestions(ctx, api.QuestionQuery{
		Tagged:         c.tagKey,
		FromDate:       c.cursor,
		TimeoutRetries: s.config.InitialTimeoutRetries,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return c.finish(SignalStop, "shutdown requested", nil), nil
		case errors.Is(err, api.ErrTimeoutExhausted):
			c.outcome.Signal = SignalStop
			return StateDone, fmt.Errorf("%w: tag %s: %w", ErrInitialFetchExhausted, c.tagKey, err)
		default:
			return c.finish(SignalRerun, "initial fetch failed", err), nil
		}
	}

	if err := s.absorb(ctx, c, page, s.config.InitialAnswerAttempts); err != nil {
		if ctx.Err() != nil {
			return c.finish(SignalStop, "shutdown requested", nil), nil
		}
		return c.finish(SignalRerun, "initial batch failed", err), nil
	}

	if !c.hasMore {
		c.exhausted = true
		return StateFlush, nil
	}
	return StateFetchMore, nil
}

func (s *Service) fetchMore(ctx context.Context, c *cycle) State {
	if ctx.Err() != nil {
		c.cancelled = true
		return StateFlush
	}
	if s.quota.ShouldStop() {
		c.quotaStop = true
		return StateFlush
	}
	if err := retry.Sleep(ctx, s.config.PageDelay); err != nil {
		c.cancelled = true
		return StateFlush
	}

	page, err := s.searcher.SearchQuestions(ctx, api.QuestionQuery{
		Tagged:         c.tagKey,
		FromDate:       c.cursor,
		TimeoutRetries: s.config.MoreTimeoutRetries,
	})
	if err == nil {
		err = s.absorb(ctx, c, page, s.config.MoreAnswerAttempts)
	}
	if err != nil {
		if ctx.Err() != nil {
			c.cancelled = true
			return StateFlush
		}
		return s.onFetchMoreFailure(c, err)
	}

	if !c.hasMore {
		c.exhausted = true
		return StateFlush
	}
	return StateFetchMore
}

// onFetchMoreFailure keeps what was accumulated when it reaches the save
// threshold and discards it otherwise.
func (s *Service) onFetchMoreFailure(c *cycle, err error) State {
	n := c.acc.Len()
	if n > 0 && n >= s.config.SaveThreshold {
		s.logger.Warn("page failed, saving partial batch",
			"cycle", c.id, "tag", c.tagKey, "accumulated", n, "error", err)
		c.partial = true
		c.outcome.Err = err
		return StateFlush
	}
	s.logger.Warn("page failed, discarding batch",
		"cycle", c.id, "tag", c.tagKey, "accumulated", n, "threshold", s.config.SaveThreshold, "error", err)
	return c.finish(SignalRerun, "page failed below save threshold", err)
}

// absorb assembles the new records of page into the cycle's batch and advances
// the cursor. Nothing changes when assembly fails.
func (s *Service) absorb(ctx context.Context, c *cycle, page *api.Page[api.Question], attempts int) error {
	if len(page.Items) == 0 && page.HasMore {
		return fmt.Errorf("%w: empty page with has_more set", api.ErrUnexpectedResponse)
	}

	fresh := make([]api.Question, 0, len(page.Items))
	for _, q := range page.Items {
		if q.CreationDate >= c.cursor {
			fresh = append(fresh, q)
		}
	}

	var batch *models.Batch
	err := retry.WithBackoff(ctx, func(ctx context.Context) error {
		var err error
		batch, err = s.assembler.Assemble(ctx, fresh)
		return err
	}, max(attempts, 1), s.config.AnswerRetryDelay, retry.WithLogger(s.logger))
	if err != nil {
		return err
	}

	c.acc.Append(batch)
	if page.MaxCreationDate >= c.cursor {
		c.cursor = page.MaxCreationDate + 1
	}
	c.hasMore = page.HasMore
	return nil
}

// flush writes the batch, then the checkpoint, then the schedule. A failure
// at any point leaves the checkpoint where it was, so the records are fetched
// again on the rerun.
func (s *Service) flush(ctx context.Context, c *cycle) State {
	// Writes must complete even when shutdown was requested mid-cycle
	wctx := context.WithoutCancel(ctx)

	batch := c.acc
	batch.Cursor = c.cursor
	if batch.Len() > 0 {
		if err := s.sink.Write(wctx, batch); err != nil {
			return c.finish(SignalRerun, "sink write failed", err)
		}
	}

	if c.cursor != c.from {
		cp := c.checkpoint.Clone()
		cp[c.tagKey] = c.cursor
		if err := s.storage.SaveCheckpoint(wctx, cp); err != nil {
			return c.finish(SignalRerun, "checkpoint save failed", err)
		}
		c.checkpoint = cp
	}
	c.outcome.Report.Cursor = c.cursor
	c.outcome.Report.Questions = batch.Len()
	c.outcome.Report.Answers = len(batch.Answers)
	s.metrics.RecordFlush(ctx, c.tagKey, batch.Len(), len(batch.Answers))

	if c.exhausted {
		sch := c.schedule.Clone()
		if sch.MarkExhausted(c.tagKey) {
			if err := s.storage.SaveSchedule(wctx, sch); err != nil {
				return c.finish(SignalRerun, "schedule save failed", err)
			}
		}
		c.schedule = sch
		c.outcome.Report.Exhausted = true
	}

	switch {
	case c.cancelled:
		return c.finish(SignalStop, "shutdown requested", nil)
	case c.quotaStop:
		return c.finish(SignalStop, "quota floor reached", nil)
	case c.partial:
		return c.finish(SignalRerun, "partial batch saved", c.outcome.Err)
	case s.quota.ShouldStop():
		return c.finish(SignalStop, "quota floor reached", nil)
	default:
		return c.finish(SignalContinue, "tag exhausted", nil)
	}
}
