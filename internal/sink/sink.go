package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// Sink receives the paired records of one flush. Write must be all-or-error:
// the caller only advances its checkpoint when Write returns nil.
type Sink interface {
	Write(ctx context.Context, batch *models.Batch) error
	Close() error
}

var safeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// New builds the sinks listed in cfg.Types, fanned out when there is more than one.
func New(ctx context.Context, cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	for _, typ := range cfg.Types {
		var (
			s   Sink
			err error
		)
		switch typ {
		case "csv":
			s, err = NewCSVSink(cfg.QuestionsDir, cfg.AnswersDir)
		case "sql":
			s, err = NewSQLSink(ctx, cfg.SQLDriver, cfg.SQLDSN, cfg.QuestionsTable, cfg.AnswersTable)
		case "mongodb":
			s, err = NewMongoSink(ctx, cfg.MongoDBURI, cfg.MongoDatabase, cfg.QuestionsTable, cfg.AnswersTable)
		case "bleve":
			s, err = NewBleveSink(cfg.BlevePath)
		default:
			err = fmt.Errorf("unsupported sink type: %s", typ)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create %s sink: %w", typ, err)
		}
		logger.Info("sink ready", "type", typ)
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no sink configured")
	case 1:
		return sinks[0], nil
	default:
		return NewMulti(sinks...), nil
	}
}
