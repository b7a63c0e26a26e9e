package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oicur0t/logdedup/pkg/models"
	"github.com/oicur0t/logdedup/pkg/retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_]`)

// MongoOptions configures a MongoSink
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
	MaxRetries int

	// TargetIP and Source are stored on every document
	TargetIP string
	Source   string
}

// summaryDocument is the stored form of a summary
type summaryDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	models.Summary `bson:",inline"`
	TargetIP       string    `bson:"target_ip"`
	Source         string    `bson:"source"`
	GeneratedAt    time.Time `bson:"generated_at"`
}

// MongoSink stores summaries in a MongoDB collection
type MongoSink struct {
	client      *mongo.Client
	collection  *mongo.Collection
	opts        MongoOptions
	retryConfig retry.Config
	logger      *zap.Logger
}

// NewMongoSink connects to MongoDB and verifies the connection
func NewMongoSink(ctx context.Context, opts MongoOptions, logger *zap.Logger) (*MongoSink, error) {
	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.Timeout).
		SetServerSelectionTimeout(opts.Timeout)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collName := sanitizeCollectionName(opts.Collection)

	logger.Info("Connected to MongoDB",
		zap.String("database", opts.Database),
		zap.String("collection", collName))

	retryConfig := retry.DefaultConfig()
	retryConfig.MaxRetries = opts.MaxRetries

	return &MongoSink{
		client:      client,
		collection:  client.Database(opts.Database).Collection(collName),
		opts:        opts,
		retryConfig: retryConfig,
		logger:      logger,
	}, nil
}

// Name implements Sink
func (s *MongoSink) Name() string {
	return "mongodb"
}

// Write inserts one document per summary. Retried attempts reuse the same
// document IDs, so documents stored by an earlier attempt surface as
// duplicate key errors and are not stored twice.
func (s *MongoSink) Write(ctx context.Context, summaries []models.Summary) error {
	if len(summaries) == 0 {
		s.logger.Info("No summaries to insert", zap.String("collection", s.collection.Name()))
		return nil
	}

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Error("Failed to ensure indexes", zap.Error(err), zap.String("collection", s.collection.Name()))
	}

	docs := buildDocuments(summaries, s.opts.TargetIP, s.opts.Source, time.Now().UTC())

	err := retry.Do(ctx, s.retryConfig, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		_, err := s.collection.InsertMany(attemptCtx, docs, options.InsertMany().SetOrdered(false))
		switch {
		case err == nil:
			return nil
		case onlyDuplicateKeyErrors(err):
			s.logger.Warn("Duplicate key error, some summaries already stored",
				zap.String("collection", s.collection.Name()),
				zap.Int("attempt", attempt))
			return nil
		case mongo.IsNetworkError(err) || mongo.IsTimeout(err):
			s.logger.Warn("Insert failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt))
			return err
		default:
			return retry.Permanent(err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to insert summaries: %w", err)
	}

	s.logger.Info("Summaries inserted",
		zap.String("collection", s.collection.Name()),
		zap.Int("inserted", len(docs)),
		zap.String("target_ip", s.opts.TargetIP))

	return nil
}

// Close disconnects from MongoDB
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoSink) ensureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "count", Value: -1}},
			Options: options.Index().SetName("count_desc"),
		},
		{
			Keys: bson.D{
				{Key: "target_ip", Value: 1},
				{Key: "generated_at", Value: -1},
			},
			Options: options.Index().SetName("target_ip_generated_at"),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// duplicateKeyCodes are the server codes for a unique index violation
var duplicateKeyCodes = map[int]bool{11000: true, 11001: true, 12582: true}

// onlyDuplicateKeyErrors reports whether err is a bulk write failure in
// which every failed write hit an existing _id. Any other write error or a
// write concern error makes the insert a failure.
func onlyDuplicateKeyErrors(err error) bool {
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return false
	}
	if bulkErr.WriteConcernError != nil || len(bulkErr.WriteErrors) == 0 {
		return false
	}
	for _, writeErr := range bulkErr.WriteErrors {
		if !duplicateKeyCodes[writeErr.Code] {
			return false
		}
	}
	return true
}

func buildDocuments(summaries []models.Summary, targetIP, source string, generatedAt time.Time) []interface{} {
	docs := make([]interface{}, len(summaries))
	for i, summary := range summaries {
		docs[i] = summaryDocument{
			ID:          primitive.NewObjectID(),
			Summary:     summary,
			TargetIP:    targetIP,
			Source:      source,
			GeneratedAt: generatedAt,
		}
	}
	return docs
}

// sanitizeCollectionName lowercases name and replaces anything outside
// [a-z0-9_] with an underscore
func sanitizeCollectionName(name string) string {
	return invalidCollectionChars.ReplaceAllString(strings.ToLower(name), "_")
}
