package ingestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/api"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/quota"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/retry"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/sink"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/storage"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/telemetry"
)

// QuestionSearcher fetches one page of questions. *api.Client implements it.
type QuestionSearcher interface {
	SearchQuestions(ctx context.Context, q api.QuestionQuery) (*api.Page[api.Question], error)
}

// BatchAssembler pairs questions with their accepted answers.
// *assembler.Assembler implements it.
type BatchAssembler interface {
	Assemble(ctx context.Context, questions []api.Question) (*models.Batch, error)
}

// Trigger runs downstream work for a report. *downstream.Pipeline implements it.
type Trigger interface {
	Run(ctx context.Context, report models.CycleReport) error
}

// Service handles data ingestion from the StackExchange API
type Service struct {
	config    config.IngestionConfig
	storage   storage.Storage
	searcher  QuestionSearcher
	assembler BatchAssembler
	sink      sink.Sink
	quota     *quota.Tracker
	loader    Trigger
	trigger   Trigger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLoader sets the work run after every cycle that flushed records,
// whatever its signal. Typically uploads of the flushed files.
func WithLoader(t Trigger) Option {
	return func(s *Service) { s.loader = t }
}

// WithTrigger sets the transform run once a tag has been exhausted.
func WithTrigger(t Trigger) Option {
	return func(s *Service) { s.trigger = t }
}

// WithMetrics records cycle and flush metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer records one span per cycle.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new ingestion service
func NewService(
	cfg config.IngestionConfig,
	store storage.Storage,
	searcher QuestionSearcher,
	assembler BatchAssembler,
	out sink.Sink,
	tracker *quota.Tracker,
	opts ...Option,
) (*Service, error) {
	switch {
	case store == nil:
		return nil, ErrStorageRequired
	case searcher == nil:
		return nil, ErrSearcherRequired
	case assembler == nil:
		return nil, ErrAssemblerRequired
	case out == nil:
		return nil, ErrSinkRequired
	case tracker == nil:
		return nil, ErrQuotaTrackerRequired
	}

	s := &Service{
		config:    cfg,
		storage:   store,
		searcher:  searcher,
		assembler: assembler,
		sink:      out,
		quota:     tracker,
		tracer:    noop.NewTracerProvider().Tracer(""),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ingestion")
	return s, nil
}

// Run repeats ingestion cycles until one signals stop, the context is
// cancelled, or a fatal error occurs.
func (s *Service) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			s.logger.Info("shutdown requested, stopping")
			return nil
		}

		outcome, err := s.RunCycle(ctx)
		if err != nil {
			return err
		}

		s.runDownstream(ctx, outcome)

		switch outcome.Signal {
		case SignalStop:
			s.logger.Info("ingestion stopped", "reason", outcome.Reason)
			return nil
		case SignalRerun:
			s.logger.Warn("cycle will be rerun",
				"reason", outcome.Reason, "error", outcome.Err, "cooldown", s.config.RerunCooldown)
			if err := retry.Sleep(ctx, s.config.RerunCooldown); err != nil {
				return nil
			}
		}
	}
}

// runDownstream loads whatever the cycle flushed, then transforms when the tag
// was exhausted. An exhausted tag is never selected again, so its transform
// runs even when the same cycle also reached the quota floor. Failures are
// logged only.
func (s *Service) runDownstream(ctx context.Context, outcome Outcome) {
	report := outcome.Report
	// Flushed files are loaded even when shutdown was requested
	lctx := context.WithoutCancel(ctx)

	if s.loader != nil && report.Questions > 0 {
		if err := s.loader.Run(lctx, report); err != nil {
			s.logger.Error("load failed", "tag", report.TagKey, "cycle", report.CycleID, "error", err)
		}
	}
	if s.trigger != nil && report.Exhausted {
		if err := s.trigger.Run(lctx, report); err != nil {
			s.logger.Error("transform failed", "tag", report.TagKey, "cycle", report.CycleID, "error", err)
		}
	}
}

func (s *Service) newCycleID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy()).String()
}

// recordStatus persists the outcome of a cycle. Failures are logged only.
func (s *Service) recordStatus(ctx context.Context, c *cycle, fatal error) {
	ctx = context.WithoutCancel(ctx)

	prev, err := s.storage.GetIngestionStatus(ctx)
	if err != nil {
		s.logger.Warn("failed to read ingestion status", "error", err)
		prev = &models.IngestionStatus{}
	}

	now := s.now().UTC()
	status := models.IngestionStatus{
		CycleID:           c.id,
		TagKey:            c.tagKey,
		LastSuccessfulRun: prev.LastSuccessfulRun,
		LastAttempt:       now,
		Status:            c.outcome.Signal.String(),
		RecordsIngested:   c.outcome.Report.Questions,
		Checkpoint:        c.outcome.Report.Cursor,
	}
	if remaining, ok := s.quota.Remaining(); ok {
		status.QuotaRemaining = remaining
	}
	switch {
	case fatal != nil:
		status.Status = "fatal"
		status.ErrorMessage = fatal.Error()
	case c.outcome.Err != nil:
		status.ErrorMessage = c.outcome.Err.Error()
	}
	if fatal == nil && c.outcome.Signal != SignalRerun {
		status.LastSuccessfulRun = now
	}

	if err := s.storage.UpdateIngestionStatus(ctx, status); err != nil {
		s.logger.Warn("failed to update ingestion status", "error", err)
	}
}
