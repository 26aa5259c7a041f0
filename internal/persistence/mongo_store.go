package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/hexflow/pkg/api"
)

const mongoOpTimeout = 5 * time.Second

// mongoTokenIndex is the server's default name for the unique
// workflow_token index.
const mongoTokenIndex = "workflow_token_1"

// MongoSessionStore implements SessionStore on top of MongoDB.
//
// Collection schema:
//
//	{
//	  _id:            string, // session id
//	  workflow_name:  string,
//	  workflow_token: string, // unique
//	  current_step:   string,
//	  status:         string,
//	  step_data:      string, // JSON
//	  metadata:       string, // JSON
//	  created_at:     int64,  // unix nanoseconds
//	  updated_at:     int64,
//	  version:        int64,
//	}
type MongoSessionStore struct {
	coll *mongo.Collection
	now  Clock
}

type mongoSessionDoc struct {
	ID            string `bson:"_id"`
	WorkflowName  string `bson:"workflow_name"`
	WorkflowToken string `bson:"workflow_token"`
	CurrentStep   string `bson:"current_step"`
	Status        string `bson:"status"`
	StepData      string `bson:"step_data"`
	Metadata      string `bson:"metadata"`
	CreatedAt     int64  `bson:"created_at"`
	UpdatedAt     int64  `bson:"updated_at"`
	Version       int64  `bson:"version"`
}

// NewMongoSessionStore creates a Mongo-backed store and ensures its indexes.
// dbName defaults to "hexflow", collName to "workflow_sessions".
func NewMongoSessionStore(ctx context.Context, client *mongo.Client, dbName, collName string) (*MongoSessionStore, error) {
	if dbName == "" {
		dbName = "hexflow"
	}
	if collName == "" {
		collName = "workflow_sessions"
	}
	s := &MongoSessionStore{
		coll: client.Database(dbName).Collection(collName),
		now:  time.Now,
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "workflow_token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "workflow_name", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return nil, storageErr("init_indexes", err)
	}
	return s, nil
}

func toMongoDoc(rec *api.SessionRecord) (mongoSessionDoc, error) {
	row, err := encodeRow(rec)
	if err != nil {
		return mongoSessionDoc{}, err
	}
	return mongoSessionDoc{
		ID:            row.SessionID,
		WorkflowName:  row.WorkflowName,
		WorkflowToken: row.WorkflowToken,
		CurrentStep:   row.CurrentStep,
		Status:        row.Status,
		StepData:      string(row.StepData),
		Metadata:      string(row.Metadata),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		Version:       row.Version,
	}, nil
}

func fromMongoDoc(doc mongoSessionDoc) (*api.SessionRecord, error) {
	return decodeRow(sessionRow{
		SessionID:     doc.ID,
		WorkflowName:  doc.WorkflowName,
		WorkflowToken: doc.WorkflowToken,
		CurrentStep:   doc.CurrentStep,
		Status:        doc.Status,
		StepData:      []byte(doc.StepData),
		Metadata:      []byte(doc.Metadata),
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
		Version:       doc.Version,
	})
}

func (s *MongoSessionStore) Create(ctx context.Context, workflowName, token string, opts ...RecordOption) (*api.SessionRecord, error) {
	rec := newRecord(workflowName, token, s.now(), opts)
	rec.Version = 1

	doc, err := toMongoDoc(rec)
	if err != nil {
		return nil, storageErr("create", err)
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = errTokenInUse
		}
		return nil, storageErr("create", err)
	}
	return rec, nil
}

func (s *MongoSessionStore) Get(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	rec, err := s.findOne(ctx, bson.M{"_id": sessionID})
	return rec, storageErr("get", err)
}

func (s *MongoSessionStore) GetByToken(ctx context.Context, token string) (*api.SessionRecord, error) {
	rec, err := s.findOne(ctx, bson.M{"workflow_token": token})
	return rec, storageErr("get_by_token", err)
}

func (s *MongoSessionStore) findOne(ctx context.Context, filter bson.M) (*api.SessionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc mongoSessionDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}
	return fromMongoDoc(doc)
}

func (s *MongoSessionStore) Save(ctx context.Context, rec *api.SessionRecord) error {
	next := *rec
	next.UpdatedAt = s.now()
	next.Version = rec.Version + 1

	doc, err := toMongoDoc(&next)
	if err != nil {
		return storageErr("save", err)
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	// A stored document with another version does not match the filter, so
	// the upsert attempts an insert on the same _id and fails as a duplicate.
	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": rec.SessionID, "version": rec.Version},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		if tokenTaken(err) {
			return storageErr("save", errTokenInUse)
		}
		if mongo.IsDuplicateKeyError(err) {
			return api.ErrVersionConflict
		}
		return storageErr("save", err)
	}

	rec.UpdatedAt = next.UpdatedAt
	rec.Version = next.Version
	return nil
}

// tokenTaken reports whether err is a duplicate key on the workflow_token
// index rather than on _id.
func tokenTaken(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == 11000 && strings.Contains(e.Message, mongoTokenIndex) {
			return true
		}
	}
	return false
}

func (s *MongoSessionStore) Delete(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return storageErr("delete", err)
	}
	if res.DeletedCount == 0 {
		return api.ErrSessionNotFound
	}
	return nil
}

func (s *MongoSessionStore) List(ctx context.Context, filter api.SessionFilter) ([]*api.SessionRecord, error) {
	query := bson.M{}
	if filter.WorkflowName != "" {
		query["workflow_name"] = filter.WorkflowName
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, storageErr("list", err)
	}

	var docs []mongoSessionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr("list", err)
	}

	sessions := make([]*api.SessionRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromMongoDoc(doc)
		if err != nil {
			return nil, storageErr("list", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, nil
}

func (s *MongoSessionStore) Expire(ctx context.Context, maxAgeDays int) (int, error) {
	limit := cutoff(s.now(), maxAgeDays)

	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": limit.UnixNano()}})
	if err != nil {
		return 0, storageErr("expire", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoSessionStore) Stats(ctx context.Context) (api.SessionStats, error) {
	stats := newStats()

	byStatus, err := s.countBy(ctx, "status")
	if err != nil {
		return stats, storageErr("stats", err)
	}
	for status, n := range byStatus {
		stats.StatusCounts[api.Status(status)] = n
		stats.TotalSessions += n
	}

	byWorkflow, err := s.countBy(ctx, "workflow_name")
	if err != nil {
		return stats, storageErr("stats", err)
	}
	stats.WorkflowCounts = byWorkflow
	return stats, nil
}

func (s *MongoSessionStore) countBy(ctx context.Context, field string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}

	var groups []struct {
		Key string `bson:"_id"`
		N   int    `bson:"n"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(groups))
	for _, g := range groups {
		counts[g.Key] = g.N
	}
	return counts, nil
}
