// Package mongo executes aggregation pipelines, either directly through the
// official driver or through an MCP-style JSON-RPC gateway.
package mongo

import (
	"context"
	"time"
)

// Query is a single aggregation to run.
type Query struct {
	Database   string
	Collection string
	Stages     []map[string]any

	// Raw is the query exactly as generated, e.g. "db.orders.aggregate([...])".
	// The gateway forwards it verbatim when set; the direct executor only
	// uses Stages.
	Raw string
}

// Result holds the documents a query produced. Count is the number of
// documents the query matched before any truncation of Documents.
type Result struct {
	Documents []map[string]any
	Count     int
	Duration  time.Duration
}

// Executor runs aggregation queries against MongoDB.
type Executor interface {
	Run(ctx context.Context, q Query) (*Result, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
