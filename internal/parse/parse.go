// Package parse extracts MongoDB queries from LLM responses and normalizes
// them into aggregation pipelines.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Entity is one item of the "entities" array in a generated query response.
type Entity struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// GeneratedQuery is the normalized form of an LLM query-generation response.
type GeneratedQuery struct {
	// Query is the raw mongodb_query value in string form.
	Query string

	// Pipeline is the aggregation pipeline the query normalizes to.
	Pipeline []map[string]any

	Collection string
	Database   string
	QueryType  string
	Parameters map[string]any
	Entities   []Entity
}

// ErrNoQuery indicates the response contained no usable MongoDB query. The
// message is matched by the routing layer, keep it stable.
var ErrNoQuery = &parseError{"No MongoDB query found in response"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

var (
	jsonFenceRegex   = regexp.MustCompile("(?s)```json(.*?)```")
	collectionRegex  = regexp.MustCompile(`db\.([A-Za-z0-9_]+)\.`)
	aggregateRegex   = regexp.MustCompile(`(?s)\.aggregate\(\s*(\[.*\])\s*\)`)
	countRegex       = regexp.MustCompile(`(?s)\.countDocuments\(\s*(\{.*\})?\s*\)`)
	findRegex        = regexp.MustCompile(`(?s)\.find\(\s*(\{.*?\})?\s*\)`)
	limitRegex       = regexp.MustCompile(`\.limit\(\s*(\d+)\s*\)`)
	isoDateRegex  = regexp.MustCompile(`ISODate\(\s*['"]([^'"]+)['"]\s*\)`)
	rawQueryRegex = regexp.MustCompile(`(?s)db\.[A-Za-z0-9_]+\.(?:find|aggregate|countDocuments)\(.*\)`)
)

// rawResponse mirrors the JSON contract the query prompts ask the model for.
// mongodb_query may be a string or a pipeline array, entities may be objects
// or bare strings, so both stay raw until decoded.
type rawResponse struct {
	MongoDBQuery   json.RawMessage `json:"mongodb_query"`
	CollectionName string          `json:"collection_name"`
	DatabaseName   string          `json:"database_name"`
	QueryType      string          `json:"query_type"`
	Parameters     map[string]any  `json:"parameters"`
	Entities       json.RawMessage `json:"entities"`
}

// JSONBlock returns the last fenced ```json block in the input, or the input
// itself when no fence is present.
func JSONBlock(input string) string {
	matches := jsonFenceRegex.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(input)
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

// GeneratedQueryFromResponse parses an LLM response into a normalized query.
// The JSON contract is tried first; a bare db.collection.<op>(...) expression
// is accepted as a fallback.
func GeneratedQueryFromResponse(response string) (*GeneratedQuery, error) {
	block := JSONBlock(response)

	var raw rawResponse
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		// No JSON contract; look for a raw shell-style query
		if q := rawQueryRegex.FindString(response); q != "" {
			return fromQueryString(q, &rawResponse{})
		}
		return nil, ErrNoQuery
	}

	if len(raw.MongoDBQuery) == 0 {
		return nil, ErrNoQuery
	}

	// Pipeline array form: mongodb_query is the pipeline itself
	if trimmed := strings.TrimSpace(string(raw.MongoDBQuery)); strings.HasPrefix(trimmed, "[") {
		pipeline, err := PipelineFromJSON(trimmed)
		if err != nil {
			return nil, err
		}
		gq := &GeneratedQuery{
			Query:      CompactJSON(pipeline),
			Pipeline:   pipeline,
			Collection: raw.CollectionName,
			Database:   raw.DatabaseName,
			QueryType:  defaultQueryType(raw.QueryType),
			Parameters: raw.Parameters,
			Entities:   decodeEntities(raw.Entities),
		}
		if gq.Collection == "" {
			gq.Collection = collectionFromEntities(gq.Entities)
		}
		return gq, nil
	}

	// String form: "db.collection.aggregate([...])" and friends
	var queryStr string
	if err := json.Unmarshal(raw.MongoDBQuery, &queryStr); err != nil {
		return nil, fmt.Errorf("mongodb_query is neither a string nor a pipeline array: %w", err)
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, ErrNoQuery
	}
	return fromQueryString(queryStr, &raw)
}

// QueryString extracts the generated query text without converting it to a
// pipeline: the JSON contract's mongodb_query when present, otherwise a bare
// shell-style expression found in the response. Returns "" when neither
// exists.
func QueryString(response string) string {
	block := JSONBlock(response)
	var raw rawResponse
	if err := json.Unmarshal([]byte(block), &raw); err == nil && len(raw.MongoDBQuery) > 0 {
		trimmed := strings.TrimSpace(string(raw.MongoDBQuery))
		if strings.HasPrefix(trimmed, "[") {
			return trimmed
		}
		var s string
		if err := json.Unmarshal(raw.MongoDBQuery, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return strings.TrimSpace(rawQueryRegex.FindString(response))
}

func fromQueryString(query string, raw *rawResponse) (*GeneratedQuery, error) {
	pipeline, err := Pipeline(query)
	if err != nil {
		return nil, err
	}

	gq := &GeneratedQuery{
		Query:      strings.TrimSpace(query),
		Pipeline:   pipeline,
		Collection: raw.CollectionName,
		Database:   raw.DatabaseName,
		QueryType:  defaultQueryType(raw.QueryType),
		Parameters: raw.Parameters,
		Entities:   decodeEntities(raw.Entities),
	}
	if gq.Collection == "" {
		gq.Collection = Collection(query)
	}
	return gq, nil
}

// Pipeline converts a shell-style MongoDB query string into an aggregation
// pipeline. Raw pipeline arrays, aggregate(), countDocuments() and
// find().limit() forms are supported.
func Pipeline(query string) ([]map[string]any, error) {
	query = strings.TrimSpace(query)

	if strings.HasPrefix(query, "[") {
		return PipelineFromJSON(query)
	}

	if m := aggregateRegex.FindStringSubmatch(query); m != nil {
		return PipelineFromJSON(m[1])
	}

	if m := countRegex.FindStringSubmatch(query); m != nil {
		var pipeline []map[string]any
		if m[1] != "" {
			filter, err := decodeDocument(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid countDocuments filter: %w", err)
			}
			if len(filter) > 0 {
				pipeline = append(pipeline, map[string]any{"$match": filter})
			}
		}
		return append(pipeline, map[string]any{"$count": "total"}), nil
	}

	if m := findRegex.FindStringSubmatch(query); m != nil {
		filter := map[string]any{}
		if m[1] != "" {
			var err error
			filter, err = decodeDocument(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid find filter: %w", err)
			}
		}
		pipeline := []map[string]any{{"$match": filter}}
		if lm := limitRegex.FindStringSubmatch(query); lm != nil {
			n, _ := strconv.Atoi(lm[1])
			pipeline = append(pipeline, map[string]any{"$limit": n})
		}
		return pipeline, nil
	}

	return nil, fmt.Errorf("unsupported MongoDB query format: %s", truncate(query, 120))
}

// PipelineFromJSON decodes a JSON pipeline array, normalizing ISODate()
// expressions to extended JSON first.
func PipelineFromJSON(input string) ([]map[string]any, error) {
	normalized := NormalizeDates(input)

	var pipeline []map[string]any
	if err := json.Unmarshal([]byte(normalized), &pipeline); err != nil {
		return nil, fmt.Errorf("invalid aggregation pipeline JSON: %w", err)
	}
	return pipeline, nil
}

// ValidatePipeline checks the pipeline structure before execution: it must be
// non-empty and every stage must be a single $-operator document.
func ValidatePipeline(pipeline []map[string]any) error {
	if len(pipeline) == 0 {
		return fmt.Errorf("aggregation pipeline is empty")
	}
	for i, stage := range pipeline {
		if len(stage) != 1 {
			return fmt.Errorf("pipeline stage %d must contain exactly one operator, has %d", i, len(stage))
		}
		for key := range stage {
			if !strings.HasPrefix(key, "$") {
				return fmt.Errorf("pipeline stage %d operator %q must start with $", i, key)
			}
		}
	}
	return nil
}

// Collection extracts the collection name from a db.<collection>.<op>
// expression. Returns "" when the query does not match.
func Collection(query string) string {
	if m := collectionRegex.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

// NormalizeDates rewrites ISODate("...") expressions into the {"$date": "..."}
// extended JSON form so the pipeline decodes as plain JSON.
func NormalizeDates(input string) string {
	return isoDateRegex.ReplaceAllString(input, `{"$$date":"$1"}`)
}

// CompactJSON renders v as compact JSON, falling back to fmt formatting when
// it cannot be marshaled.
func CompactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// FormatPipeline renders a pipeline for display and logging.
func FormatPipeline(pipeline []map[string]any) string {
	b, err := json.MarshalIndent(pipeline, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", pipeline)
	}
	return string(b)
}

// decodeDocument decodes one JSON document literal, normalizing dates first.
func decodeDocument(input string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(NormalizeDates(input)), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeEntities(raw json.RawMessage) []Entity {
	if len(raw) == 0 {
		return nil
	}
	var entities []Entity
	if err := json.Unmarshal(raw, &entities); err == nil {
		return entities
	}
	// Some responses list bare names instead of typed objects
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		entities = make([]Entity, 0, len(names))
		for _, name := range names {
			entities = append(entities, Entity{Name: name})
		}
		return entities
	}
	return nil
}

func collectionFromEntities(entities []Entity) string {
	for _, e := range entities {
		if e.Type == "collection" && e.Name != "" {
			return e.Name
		}
	}
	return ""
}

func defaultQueryType(queryType string) string {
	if queryType == "" {
		return "aggregate"
	}
	return queryType
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
