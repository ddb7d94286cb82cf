package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"bluefly-sync/internal/models"
)

// MongoLogs backs both log kinds with MongoDB collections. Per-record
// read-modify-write maps onto FindOneAndUpdate, which gives the same
// atomic-per-key guarantee the file backend gets from its lock files.
type MongoLogs struct {
	client *mongo.Client
	events *mongo.Collection
	jobs   *mongo.Collection
	logger *zap.Logger
}

type mongoEvent struct {
	ID string `bson:"_id"`
	models.WebhookEvent `bson:",inline"`
}

type mongoJob struct {
	ID string `bson:"_id"`
	models.PipelineJob `bson:",inline"`
}

func NewMongoLogs(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoLogs, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetSocketTimeout(30 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, err
	}

	db := client.Database(database)
	logs := &MongoLogs{
		client: client,
		events: db.Collection("webhook_events"),
		jobs:   db.Collection("pipeline_jobs"),
		logger: logger,
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "received_at", Value: 1}}},
		{Keys: bson.D{{Key: "topic", Value: 1}}},
	}
	if _, err := logs.events.Indexes().CreateMany(connectCtx, indexes); err != nil {
		return nil, err
	}
	jobIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "product_id", Value: 1}}},
	}
	if _, err := logs.jobs.Indexes().CreateMany(connectCtx, jobIndexes); err != nil {
		return nil, err
	}

	logger.Info("Connected event logs to MongoDB", zap.String("database", database))
	return logs, nil
}

func (m *MongoLogs) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Webhooks returns the webhook-log view.
func (m *MongoLogs) Webhooks() WebhookStore { return &mongoWebhookLog{m} }

// Jobs returns the job-log view.
func (m *MongoLogs) Jobs() JobStore { return &mongoJobLog{m} }

type mongoWebhookLog struct{ *MongoLogs }

func (l *mongoWebhookLog) Append(ctx context.Context, event *models.WebhookEvent) (string, error) {
	event.ReceivedAt = isoNow()
	if event.Timestamp == "" {
		event.Timestamp = event.ReceivedAt
	}
	if event.Status == "" {
		event.Status = models.EventStatusUnread
	}

	doc := mongoEvent{WebhookEvent: *event}
	doc.ID = strings.TrimSuffix(eventFilename(event), ".json")
	if _, err := l.events.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (l *mongoWebhookLog) Get(ctx context.Context, handle string) (*models.WebhookEvent, error) {
	var doc mongoEvent
	err := l.events.FindOne(ctx, bson.M{"_id": handle}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, err
	}
	return &doc.WebhookEvent, nil
}

func (l *mongoWebhookLog) UpdateStatus(ctx context.Context, handle string, status models.EventStatus) (*models.WebhookEvent, error) {
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	update := bson.M{"$set": bson.M{
		"status":            status,
		"status_updated_at": isoNow(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoEvent
	err := l.events.FindOneAndUpdate(ctx, bson.M{"_id": handle}, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, err
	}
	return &doc.WebhookEvent, nil
}

func (l *mongoWebhookLog) QueryByStatus(ctx context.Context, status models.EventStatus, date string) ([]StoredEvent, error) {
	if !models.ValidEventStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	filter := bson.M{"status": status}
	if date != "" {
		filter["received_at"] = bson.M{"$gte": date, "$lt": date + "~"}
	}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})
	cursor, err := l.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []StoredEvent
	for cursor.Next(ctx) {
		var doc mongoEvent
		if err := cursor.Decode(&doc); err != nil {
			l.logger.Warn("Skipping undecodable event record", zap.Error(err))
			continue
		}
		event := doc.WebhookEvent
		results = append(results, StoredEvent{Handle: doc.ID, Event: &event})
	}
	return results, cursor.Err()
}

type mongoJobLog struct{ *MongoLogs }

func (l *mongoJobLog) CreateJob(ctx context.Context, sourceFile, topic string, productID int64, eventID string) (string, error) {
	now := time.Now().UTC()
	jobID := fmt.Sprintf("%s_product_%d", now.Format(stampLayout), productID)

	doc := mongoJob{
		ID: jobID,
		PipelineJob: models.PipelineJob{
			JobID:             jobID,
			SourceWebhookFile: sourceFile,
			Topic:             topic,
			ProductID:         productID,
			EventID:           eventID,
			CreatedAt:         isoNow(),
			Status:            models.JobStatusQueued,
			Stages: []models.JobStage{{
				Stage:     models.JobStatusQueued,
				Timestamp: isoNow(),
			}},
		},
	}
	if _, err := l.jobs.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return jobID, nil
}

func (l *mongoJobLog) Get(ctx context.Context, handle string) (*models.PipelineJob, error) {
	var doc mongoJob
	err := l.jobs.FindOne(ctx, bson.M{"_id": handle}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, err
	}
	return &doc.PipelineJob, nil
}

func (l *mongoJobLog) AppendStage(ctx context.Context, handle string, stage models.JobStatus, data map[string]any, errMsg string) (*models.PipelineJob, error) {
	if !models.ValidJobStatus(stage) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, stage)
	}

	set := bson.M{"status": stage}
	if errMsg != "" {
		set["error"] = errMsg
	}
	update := bson.M{
		"$set": set,
		"$push": bson.M{"stages": models.JobStage{
			Stage:     stage,
			Timestamp: isoNow(),
			Data:      data,
			Error:     errMsg,
		}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoJob
	err := l.jobs.FindOneAndUpdate(ctx, bson.M{"_id": handle}, update, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return nil, err
	}
	return &doc.PipelineJob, nil
}

func (l *mongoJobLog) QueryByStatus(ctx context.Context, status models.JobStatus, date string) ([]StoredJob, error) {
	if !models.ValidJobStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	filter := bson.M{"status": status}
	if date != "" {
		filter["created_at"] = bson.M{"$gte": date, "$lt": date + "~"}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := l.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []StoredJob
	for cursor.Next(ctx) {
		var doc mongoJob
		if err := cursor.Decode(&doc); err != nil {
			l.logger.Warn("Skipping undecodable job record", zap.Error(err))
			continue
		}
		job := doc.PipelineJob
		results = append(results, StoredJob{Handle: doc.ID, Job: &job})
	}
	return results, cursor.Err()
}
