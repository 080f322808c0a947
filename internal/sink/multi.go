package sink

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// Multi writes every batch to all of its sinks concurrently. A batch counts
// as written only if every sink accepted it.
type Multi struct {
	sinks []Sink
}

// NewMulti fans writes out to sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Write(ctx context.Context, b *models.Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sinks {
		g.Go(func() error {
			return s.Write(gctx, b)
		})
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Searchable returns the bleve index among s, if one is configured.
func Searchable(s Sink) (*BleveSink, bool) {
	switch v := s.(type) {
	case *BleveSink:
		return v, true
	case *Multi:
		for _, inner := range v.sinks {
			if idx, ok := Searchable(inner); ok {
				return idx, true
			}
		}
	}
	return nil, false
}
