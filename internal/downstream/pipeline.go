package downstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/telemetry"
)

// ErrUploadNeedsCSV is returned when an upload bucket is configured without
// the csv sink producing files to upload.
var ErrUploadNeedsCSV = errors.New("downstream upload requires the csv sink")

// Step is one unit of work run after a tag has been harvested.
type Step interface {
	Name() string
	Run(ctx context.Context, report models.CycleReport) error
}

// Pipeline runs its steps in order and stops at the first failure.
type Pipeline struct {
	steps   []Step
	timeout time.Duration
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds a whole pipeline run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithMetrics counts step runs.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline over the given steps.
func NewPipeline(steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{steps: steps, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "downstream")
	return p
}

// NewLoad builds the per-flush load phase: the upload of flushed CSV files
// when a bucket is configured. The pipeline has no steps otherwise.
func NewLoad(ctx context.Context, cfg config.DownstreamConfig, sinkCfg config.SinkConfig, opts ...Option) (*Pipeline, error) {
	p := NewPipeline(nil, append([]Option{WithTimeout(cfg.Timeout)}, opts...)...)
	if cfg.BucketURL == "" {
		return p, nil
	}
	if !hasCSV(sinkCfg.Types) {
		return nil, ErrUploadNeedsCSV
	}
	step, err := OpenUploadStep(ctx, cfg.BucketURL, UploadConfig{
		QuestionsDir: sinkCfg.QuestionsDir,
		AnswersDir:   sinkCfg.AnswersDir,
		CopyLog:      cfg.CopyLog,
		Workers:      cfg.UploadWorkers,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	p.steps = append(p.steps, step)
	return p, nil
}

// NewTransform builds the phase run once a tag is exhausted: command, SQL,
// then notify.
func NewTransform(ctx context.Context, cfg config.DownstreamConfig, opts ...Option) (*Pipeline, error) {
	p := NewPipeline(nil, append([]Option{WithTimeout(cfg.Timeout)}, opts...)...)

	fail := func(err error) (*Pipeline, error) {
		if cerr := p.Close(); cerr != nil {
			p.logger.Warn("failed to close downstream steps", "error", cerr)
		}
		return nil, err
	}

	if len(cfg.Command) > 0 {
		p.steps = append(p.steps, NewCommandStep(cfg.Command, cfg.CommandDir, p.logger))
	}
	if cfg.PostgresDSN != "" && len(cfg.Statements) > 0 {
		step, err := NewSQLStep(ctx, cfg.PostgresDSN, cfg.Statements)
		if err != nil {
			return fail(err)
		}
		p.steps = append(p.steps, step)
	}
	if cfg.NATSURL != "" {
		step, err := NewNATSStep(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return fail(err)
		}
		p.steps = append(p.steps, step)
	}
	return p, nil
}

func hasCSV(types []string) bool {
	for _, t := range types {
		if t == "csv" {
			return true
		}
	}
	return false
}

// Steps returns the names of the configured steps, in run order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes every step for report.
func (p *Pipeline) Run(ctx context.Context, report models.CycleReport) error {
	if len(p.steps) == 0 {
		return nil
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	for _, step := range p.steps {
		start := time.Now()
		err := step.Run(ctx, report)
		p.metrics.RecordStep(ctx, step.Name(), err)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.Name(), err)
		}
		p.logger.Info("step finished", "step", step.Name(), "tag", report.TagKey, "elapsed", time.Since(start))
	}
	return nil
}

// Close releases the resources held by the steps.
func (p *Pipeline) Close() error {
	var errs []error
	for _, step := range p.steps {
		if c, ok := step.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", step.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
