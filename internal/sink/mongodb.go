package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// MongoSink upserts records keyed by their id, so a replayed batch does not
// create duplicates.
type MongoSink struct {
	client    *mongo.Client
	questions *mongo.Collection
	answers   *mongo.Collection
}

// NewMongoSink connects to uri and uses the two named collections of database.
func NewMongoSink(ctx context.Context, uri, database, questions, answers string) (*MongoSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri not configured")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	return &MongoSink{
		client:    client,
		questions: db.Collection(questions),
		answers:   db.Collection(answers),
	}, nil
}

func (m *MongoSink) Write(ctx context.Context, b *models.Batch) error {
	if b.Len() == 0 {
		return nil
	}

	qModels := make([]mongo.WriteModel, 0, len(b.Questions))
	for _, q := range b.Questions {
		qModels = append(qModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": q.QuestionID}).
			SetReplacement(q).
			SetUpsert(true))
	}
	if _, err := m.questions.BulkWrite(ctx, qModels, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert questions: %w", err)
	}

	aModels := make([]mongo.WriteModel, 0, len(b.Answers))
	for _, a := range b.Answers {
		aModels = append(aModels, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": a.AnswerID}).
			SetReplacement(a).
			SetUpsert(true))
	}
	if _, err := m.answers.BulkWrite(ctx, aModels, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert answers: %w", err)
	}
	return nil
}

func (m *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
