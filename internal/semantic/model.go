package semantic

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model is the normalized form of a semantic model file. Every supported
// YAML layout is folded into this shape before filtering and rendering.
type Model struct {
	Database           string
	Schema             string
	Description        string
	BusinessFlow       string
	CustomInstructions string

	Collections     []Collection
	Relationships   []Relationship
	Metrics         []Metric
	VerifiedQueries []VerifiedQuery
	Rules           BusinessRules

	// Format records which YAML layout the file used.
	Format string
}

// Collection describes one MongoDB collection.
type Collection struct {
	Name               string
	Description        string
	Category           string
	BusinessImportance string // critical, high, normal, low
	QueryFrequency     string // very_high, high, medium, low
	EssentialForQuery  bool
	Fields             []Field
}

// Field describes a single document field (dot paths for nested fields).
type Field struct {
	Path         string
	Name         string
	Type         string
	Description  string
	SampleValues []string
	Array        bool
}

// Relationship links a field in one collection to a field in another.
type Relationship struct {
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Metric is a named business measure defined over the collections.
type Metric struct {
	Name        string `yaml:"name"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description"`
}

// VerifiedQuery is a known-good question/query pair the LLM may reuse.
type VerifiedQuery struct {
	Name     string `yaml:"name"`
	Question string `yaml:"question"`
	Query    string `yaml:"query"`
}

// BusinessRules is the rules layer of a semantic model. Zero values mean
// "use the service defaults".
type BusinessRules struct {
	CoreCollections    []string            `yaml:"core_collections"`
	DomainKeywords     map[string][]string `yaml:"domain_keywords"`
	FieldPriorities    map[string][]string `yaml:"field_priorities"`
	RelevanceThreshold float64             `yaml:"relevance_threshold"`
	MaxCollections     int                 `yaml:"max_collections"`
	MaxFields          int                 `yaml:"max_fields"`
}

// Supported YAML layouts, in detection order.
const (
	FormatCollectionInfo = "collection_info"
	FormatTables         = "tables"
	FormatCollections    = "collections"
	FormatRoot           = "root"
)

// rawDoc carries every key any supported layout may define; detection looks
// at which ones are populated.
type rawDoc struct {
	Database           string `yaml:"database"`
	Schema             string `yaml:"schema"`
	SchemaName         string `yaml:"schema_name"`
	Description        string `yaml:"description"`
	BusinessFlow       string `yaml:"business_flow"`
	CustomInstructions string `yaml:"custom_instructions"`

	CollectionInfo *rawCollectionInfo `yaml:"collection_info"`
	Tables         []rawTable         `yaml:"tables"`
	Collections    []rawCollection    `yaml:"collections"`
	Metadata       *rawMetadata       `yaml:"metadata"`

	Relationships   []Relationship  `yaml:"relationships"`
	Metrics         []Metric        `yaml:"metrics"`
	VerifiedQueries []VerifiedQuery `yaml:"verified_queries"`
	BusinessRules   *BusinessRules  `yaml:"business_rules"`
}

type rawCollectionInfo struct {
	Database   string `yaml:"database"`
	SchemaName string `yaml:"schema_name"`
}

type rawMetadata struct {
	Database     string `yaml:"database"`
	Description  string `yaml:"description"`
	BusinessFlow string `yaml:"business_flow"`
}

type rawTable struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	BaseTable   rawBase     `yaml:"base_table"`
	Dimensions  []rawColumn `yaml:"dimensions"`
	Measures    []rawColumn `yaml:"measures"`
}

type rawBase struct {
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
}

type rawColumn struct {
	Name         string `yaml:"name"`
	Expr         string `yaml:"expr"`
	DataType     string `yaml:"data_type"`
	Description  string `yaml:"description"`
	SampleValues []any  `yaml:"sample_values"`
}

type rawCollection struct {
	Name               string     `yaml:"name"`
	Description        string     `yaml:"description"`
	Category           string     `yaml:"category"`
	BusinessImportance string     `yaml:"business_importance"`
	QueryFrequency     string     `yaml:"query_frequency"`
	EssentialForQuery  bool       `yaml:"essential_for_query"`
	Fields             []rawField `yaml:"fields"`
}

type rawField struct {
	Path         string `yaml:"path"`
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Description  string `yaml:"description"`
	SampleValues []any  `yaml:"sample_values"`
	Array        bool   `yaml:"array"`
}

// Parse reads a semantic model file in any supported layout and returns the
// normalized model.
func Parse(data []byte) (*Model, error) {
	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid semantic model YAML: %w", err)
	}

	switch {
	case raw.CollectionInfo != nil:
		return parseCollectionInfo(&raw), nil
	case len(raw.Tables) > 0:
		return parseTables(&raw), nil
	case len(raw.Collections) > 0 && raw.Metadata != nil:
		return parseCollections(&raw), nil
	case raw.Database != "" || raw.Schema != "":
		return parseRoot(&raw), nil
	default:
		return nil, fmt.Errorf("unrecognized semantic model format: expected one of collection_info, tables, collections+metadata or a root database key")
	}
}

func parseRoot(raw *rawDoc) *Model {
	m := baseModel(raw, FormatRoot)
	m.Database = raw.Database
	m.Schema = raw.Schema
	return m
}

func parseCollectionInfo(raw *rawDoc) *Model {
	m := baseModel(raw, FormatCollectionInfo)
	m.Database = raw.CollectionInfo.Database
	m.Schema = raw.CollectionInfo.SchemaName
	return m
}

func parseCollections(raw *rawDoc) *Model {
	m := baseModel(raw, FormatCollections)
	m.Database = raw.Metadata.Database
	if m.Description == "" {
		m.Description = raw.Metadata.Description
	}
	if m.BusinessFlow == "" {
		m.BusinessFlow = raw.Metadata.BusinessFlow
	}
	return m
}

func parseTables(raw *rawDoc) *Model {
	m := &Model{
		Format:          FormatTables,
		Description:     raw.Description,
		BusinessFlow:    raw.BusinessFlow,
		Relationships:   raw.Relationships,
		Metrics:         raw.Metrics,
		VerifiedQueries: raw.VerifiedQueries,
	}
	if raw.BusinessRules != nil {
		m.Rules = *raw.BusinessRules
	}

	for i, t := range raw.Tables {
		if i == 0 {
			m.Database = t.BaseTable.Database
			m.Schema = t.BaseTable.Schema
		}
		coll := Collection{
			Name:        t.Name,
			Description: t.Description,
		}
		for _, col := range t.Dimensions {
			coll.Fields = append(coll.Fields, columnField(col))
		}
		for _, col := range t.Measures {
			coll.Fields = append(coll.Fields, columnField(col))
		}
		m.Collections = append(m.Collections, coll)
	}
	return m
}

func baseModel(raw *rawDoc, format string) *Model {
	m := &Model{
		Format:             format,
		Description:        raw.Description,
		BusinessFlow:       raw.BusinessFlow,
		CustomInstructions: raw.CustomInstructions,
		Relationships:      raw.Relationships,
		Metrics:            raw.Metrics,
		VerifiedQueries:    raw.VerifiedQueries,
	}
	if raw.BusinessRules != nil {
		m.Rules = *raw.BusinessRules
	}
	for _, rc := range raw.Collections {
		m.Collections = append(m.Collections, normalizeCollection(rc))
	}
	return m
}

func normalizeCollection(rc rawCollection) Collection {
	coll := Collection{
		Name:               rc.Name,
		Description:        rc.Description,
		Category:           rc.Category,
		BusinessImportance: rc.BusinessImportance,
		QueryFrequency:     rc.QueryFrequency,
		EssentialForQuery:  rc.EssentialForQuery,
	}
	for _, rf := range rc.Fields {
		coll.Fields = append(coll.Fields, normalizeField(rf))
	}
	return coll
}

func normalizeField(rf rawField) Field {
	f := Field{
		Path:         rf.Path,
		Name:         rf.Name,
		Type:         strings.ToLower(rf.Type),
		Description:  rf.Description,
		SampleValues: stringValues(rf.SampleValues),
		Array:        rf.Array,
	}
	if f.Path == "" {
		f.Path = rf.Name
	}
	if f.Name == "" {
		f.Name = lastPathSegment(f.Path)
	}
	if f.Type == "array" {
		f.Array = true
	}
	return f
}

func columnField(col rawColumn) Field {
	path := col.Expr
	if path == "" {
		path = col.Name
	}
	return Field{
		Path:         path,
		Name:         col.Name,
		Type:         strings.ToLower(col.DataType),
		Description:  col.Description,
		SampleValues: stringValues(col.SampleValues),
	}
}

func stringValues(values []any) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprint(v))
	}
	return out
}

func lastPathSegment(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
