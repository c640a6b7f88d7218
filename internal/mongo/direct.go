package mongo

import (
	"context"
	"fmt"
	"log"
	"time"

	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	serverSelectionTimeout = 5 * time.Second
	maxPoolSize            = 10
	aggregateMaxTime       = 30 * time.Second
)

// DirectExecutor runs pipelines through the official MongoDB driver.
type DirectExecutor struct {
	client  *driver.Client
	maxDocs int
}

// NewDirectExecutor connects to MongoDB and verifies the connection with a
// ping before returning.
func NewDirectExecutor(ctx context.Context, uri string, maxDocs int) (*DirectExecutor, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB URI is required for direct connection")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(serverSelectionTimeout)

	client, err := driver.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("Failed to connect to MongoDB: %w", err)
	}

	log.Printf("[Mongo] Connected (direct)")
	return &DirectExecutor{client: client, maxDocs: maxDocs}, nil
}

// Run executes the aggregation pipeline and decodes every document into a
// generic map. Results longer than the configured maximum are truncated, but
// Count always reports the full number of matched documents.
func (e *DirectExecutor) Run(ctx context.Context, q Query) (*Result, error) {
	if q.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if q.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	pipeline := make([]any, len(q.Stages))
	for i, stage := range q.Stages {
		pipeline[i] = reviveDates(stage)
	}

	log.Printf("[Mongo] Running aggregation on %s.%s (%d stages)", q.Database, q.Collection, len(pipeline))

	start := time.Now()
	coll := e.client.Database(q.Database).Collection(q.Collection)
	cursor, err := coll.Aggregate(ctx, pipeline, options.Aggregate().SetMaxTime(aggregateMaxTime))
	if err != nil {
		return nil, fmt.Errorf("MongoDB query failed: %w", err)
	}

	var docs []map[string]any
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("MongoDB query failed: %w", err)
	}

	count := len(docs)
	if e.maxDocs > 0 && count > e.maxDocs {
		log.Printf("[Mongo] Truncating result from %d to %d documents", count, e.maxDocs)
		docs = docs[:e.maxDocs]
	}

	duration := time.Since(start)
	log.Printf("[Mongo] Query returned %d document(s) in %v", count, duration)
	return &Result{Documents: docs, Count: count, Duration: duration}, nil
}

// Ping checks connectivity against the primary.
func (e *DirectExecutor) Ping(ctx context.Context) error {
	return e.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (e *DirectExecutor) Close(ctx context.Context) error {
	log.Printf("[Mongo] Closing connection")
	return e.client.Disconnect(ctx)
}

// reviveDates converts {"$date": "..."} markers produced by the query parser
// into time.Time values the driver encodes as BSON dates. Other values pass
// through unchanged.
func reviveDates(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if raw, ok := val["$date"].(string); ok {
				if t, err := parseISODate(raw); err == nil {
					return t
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = reviveDates(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = reviveDates(item)
		}
		return out
	default:
		return v
	}
}

// parseISODate accepts full RFC 3339 timestamps, timestamps without a zone
// and bare dates.
func parseISODate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}
