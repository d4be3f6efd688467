// Package mongodb implements pmode.Store using MongoDB
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

const settingsID = "pmodes"

// Store implements pmode.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	pmodes   *mongo.Collection
	settings *mongo.Collection

	now func() time.Time
}

// Config holds MongoDB connection settings
type Config struct {
	URI        string
	Database   string
	Collection string
}

type settingsDoc struct {
	ID             string `bson:"_id"`
	DefaultPModeID string `bson:"default_pmode_id"`
}

// NewStore connects to MongoDB and prepares the PMode collection
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "ebms"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "pmodes"
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		db:       db,
		pmodes:   db.Collection(collection),
		settings: db.Collection("settings"),
		now:      time.Now,
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.pmodes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "leg1.business_info.service", Value: 1}, {Key: "leg1.business_info.action", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating pmode indexes: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Get(ctx context.Context, id string) (*pmode.PMode, error) {
	var rec pmode.Record
	err := s.pmodes.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pmode.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading pmode %s: %w", id, err)
	}
	return pmode.FromRecord(&rec)
}

// Put replaces the PMode document, keeping the creation time of an earlier version
func (s *Store) Put(ctx context.Context, p *pmode.PMode) error {
	rec := pmode.ToRecord(p)
	now := s.now().UTC()

	var prev struct {
		CreatedAt time.Time `bson:"created_at"`
	}
	err := s.pmodes.FindOne(ctx, bson.M{"_id": rec.ID},
		options.FindOne().SetProjection(bson.M{"created_at": 1})).Decode(&prev)
	switch {
	case err == nil && !prev.CreatedAt.IsZero():
		rec.CreatedAt = prev.CreatedAt
	case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("loading pmode %s: %w", rec.ID, err)
	case rec.CreatedAt.IsZero():
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.pmodes.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("storing pmode %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.pmodes.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"deleted":    true,
			"updated_at": s.now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("deleting pmode %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return pmode.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, includeDeleted bool) ([]*pmode.PMode, error) {
	query := listFilter(includeDeleted)

	cursor, err := s.pmodes.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing pmodes: %w", err)
	}
	defer cursor.Close(ctx)

	var recs []*pmode.Record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("listing pmodes: %w", err)
	}
	return fromRecords(recs)
}

func (s *Store) DefaultID(ctx context.Context) (string, error) {
	var doc settingsDoc
	err := s.settings.FindOne(ctx, bson.M{"_id": settingsID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading default pmode: %w", err)
	}
	return doc.DefaultPModeID, nil
}

func (s *Store) SetDefaultID(ctx context.Context, id string) error {
	_, err := s.settings.UpdateOne(ctx, bson.M{"_id": settingsID},
		bson.M{"$set": bson.M{"default_pmode_id": id}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("storing default pmode: %w", err)
	}
	return nil
}

func listFilter(includeDeleted bool) bson.M {
	if includeDeleted {
		return bson.M{}
	}
	return bson.M{"deleted": bson.M{"$ne": true}}
}

func fromRecords(recs []*pmode.Record) ([]*pmode.PMode, error) {
	out := make([]*pmode.PMode, 0, len(recs))
	for _, rec := range recs {
		p, err := pmode.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("decoding pmode %s: %w", rec.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

var _ pmode.Store = (*Store)(nil)
