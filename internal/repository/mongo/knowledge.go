package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/avelkov/chatdesk/internal/config"
	"github.com/avelkov/chatdesk/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// KnowledgeRepository reads the document chunks the upload pipeline writes.
// The collection carries a text index on the chunk body; ingestion itself is
// owned by the knowledge-base collaborator.
type KnowledgeRepository struct {
	coll *mongo.Collection
}

// NewKnowledgeRepository connects to the knowledge-base collection
func NewKnowledgeRepository(ctx context.Context, cfg config.MongoConfig) (*KnowledgeRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &KnowledgeRepository{
		coll: client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

type chunkDoc struct {
	ChatbotID string `bson:"chatbot_id"`
	Text      string `bson:"text"`
	Source    string `bson:"source"`
}

// TopSnippets returns the best-matching document chunks for a chatbot and a
// user question, ranked by text score.
func (r *KnowledgeRepository) TopSnippets(ctx context.Context, chatbotID uuid.UUID, query string, limit int) ([]domain.KnowledgeSnippet, error) {
	filter := bson.M{
		"chatbot_id": chatbotID.String(),
		"$text":      bson.M{"$search": query},
	}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}, "text": 1, "source": 1}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query snippets: %w", err)
	}
	defer cursor.Close(ctx)

	var snippets []domain.KnowledgeSnippet
	for cursor.Next(ctx) {
		var doc chunkDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode snippet: %w", err)
		}
		snippets = append(snippets, domain.KnowledgeSnippet{Text: doc.Text, Source: doc.Source})
	}

	return snippets, cursor.Err()
}
