package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantPinger reports Qdrant as ready when the server answers its
// HealthCheck RPC and, if a collection is named, that collection exists.
type QdrantPinger struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantPinger returns a Pinger for client. collection may be empty to
// skip the collection check.
func NewQdrantPinger(client *qdrant.Client, collection string) *QdrantPinger {
	return &QdrantPinger{client: client, collection: collection}
}

// Name implements Pinger.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping implements Pinger.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if p.collection == "" {
		return nil
	}
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("collection lookup failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("collection %q does not exist", p.collection)
	}
	return nil
}
