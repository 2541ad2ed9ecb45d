// Package mongo reads published flows from a MongoDB collection of activation documents.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// activation is the stored document:
// {_id, tenant_id, name, is_active, activated_at, graph: {nodes, edges}}
type activation struct {
	ID    bson.RawValue `bson:"_id"`
	Graph bson.Raw      `bson:"graph"`
}

// GraphSource loads the active graph of a tenant from Mongo
type GraphSource struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewGraphSource reads activations from coll
func NewGraphSource(coll *mongo.Collection) *GraphSource {
	return &GraphSource{coll: coll, now: time.Now}
}

// Connect dials Mongo and returns the client and a source on the configured collection
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *GraphSource, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping: %w", err)
	}
	return client, NewGraphSource(client.Database(cfg.Database).Collection(cfg.Collection)), nil
}

func (s *GraphSource) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	filter := bson.D{{Key: "tenant_id", Value: tenantID}, {Key: "is_active", Value: true}}
	opts := options.FindOne().SetSort(bson.D{{Key: "activated_at", Value: -1}})

	var doc activation
	if err := s.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNoActiveFlow
		}
		return nil, fmt.Errorf("failed to load active flow: %w", err)
	}

	id := activationID(doc.ID)
	if len(doc.Graph) == 0 {
		return nil, fmt.Errorf("activation %s: %w: missing graph", id, domain.ErrInvalidGraph)
	}
	// Relaxed extended JSON keeps numbers plain, which the graph decoder expects.
	raw, err := bson.MarshalExtJSON(doc.Graph, false, false)
	if err != nil {
		return nil, fmt.Errorf("activation %s: failed to convert graph: %w", id, err)
	}
	graph, err := domain.ParseGraph(raw)
	if err != nil {
		return nil, fmt.Errorf("activation %s: %w", id, err)
	}
	return &domain.ActiveGraph{ActivationID: id, TenantID: tenantID, Graph: graph}, nil
}

// Publish deactivates the tenant's flows and inserts graph as the active one
func (s *GraphSource) Publish(ctx context.Context, tenantID, name string, graph *domain.Graph) (string, error) {
	raw, err := json.Marshal(graph)
	if err != nil {
		return "", fmt.Errorf("failed to marshal graph: %w", err)
	}
	var body bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &body); err != nil {
		return "", fmt.Errorf("failed to convert graph: %w", err)
	}

	if _, err := s.coll.UpdateMany(ctx,
		bson.D{{Key: "tenant_id", Value: tenantID}, {Key: "is_active", Value: true}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "is_active", Value: false}}}},
	); err != nil {
		return "", fmt.Errorf("failed to deactivate flows: %w", err)
	}

	id := uuid.NewString()
	if _, err := s.coll.InsertOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "tenant_id", Value: tenantID},
		{Key: "name", Value: name},
		{Key: "is_active", Value: true},
		{Key: "activated_at", Value: s.now().UTC()},
		{Key: "graph", Value: body},
	}); err != nil {
		return "", fmt.Errorf("failed to insert activation: %w", err)
	}
	return id, nil
}

func activationID(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	}
	return v.String()
}
