package semantic

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *Model {
	t.Helper()
	model, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return model
}

func TestParse_RootFormat(t *testing.T) {
	model := mustParse(t, `
database: sales
description: Sales analytics database
business_flow: Orders flow from carts to fulfillment
collections:
  - name: orders
    description: Customer orders
    category: sales
    business_importance: critical
    query_frequency: very_high
    essential_for_query: true
    fields:
      - path: order_id
        type: String
        description: Unique order identifier
        sample_values: [ORD-1001, ORD-1002]
      - path: customer.email
        type: string
      - path: items
        type: array
relationships:
  - from: orders.customer_id
    to: customers.customer_id
    type: many-to-one
`)

	if model.Format != FormatRoot {
		t.Fatalf("format = %q, want %q", model.Format, FormatRoot)
	}
	if model.Database != "sales" {
		t.Fatalf("database = %q, want sales", model.Database)
	}
	if len(model.Collections) != 1 {
		t.Fatalf("want 1 collection, got %d", len(model.Collections))
	}

	fields := model.Collections[0].Fields
	if len(fields) != 3 {
		t.Fatalf("want 3 fields, got %d", len(fields))
	}
	if fields[0].Type != "string" {
		t.Fatalf("type not lowercased: %q", fields[0].Type)
	}
	if fields[0].SampleValues[0] != "ORD-1001" {
		t.Fatalf("unexpected sample value: %q", fields[0].SampleValues[0])
	}
	if fields[1].Name != "email" {
		t.Fatalf("name not derived from path: %q", fields[1].Name)
	}
	if !fields[2].Array {
		t.Fatalf("array type should set the array flag")
	}
	if len(model.Relationships) != 1 || model.Relationships[0].Type != "many-to-one" {
		t.Fatalf("relationships not parsed: %+v", model.Relationships)
	}
}

func TestParse_CollectionInfoFormat(t *testing.T) {
	model := mustParse(t, `
collection_info:
  database: logsdb
  schema_name: events
collections:
  - name: app_events
    fields:
      - path: event_type
        type: string
`)

	if model.Format != FormatCollectionInfo {
		t.Fatalf("format = %q, want %q", model.Format, FormatCollectionInfo)
	}
	if model.Database != "logsdb" || model.Schema != "events" {
		t.Fatalf("database/schema = %q/%q", model.Database, model.Schema)
	}
	if len(model.Collections) != 1 || model.Collections[0].Name != "app_events" {
		t.Fatalf("collections not parsed: %+v", model.Collections)
	}
}

func TestParse_TablesFormat(t *testing.T) {
	model := mustParse(t, `
tables:
  - name: orders
    description: Order facts
    base_table:
      database: warehouse
      schema: public
    dimensions:
      - name: status
        expr: status
        data_type: VARCHAR
        sample_values: [OPEN, CLOSED]
    measures:
      - name: total
        expr: total_amount
        data_type: NUMBER
`)

	if model.Format != FormatTables {
		t.Fatalf("format = %q, want %q", model.Format, FormatTables)
	}
	if model.Database != "warehouse" || model.Schema != "public" {
		t.Fatalf("database/schema = %q/%q", model.Database, model.Schema)
	}

	fields := model.Collections[0].Fields
	if len(fields) != 2 {
		t.Fatalf("dimensions and measures should merge, got %d fields", len(fields))
	}
	if fields[0].Type != "varchar" {
		t.Fatalf("data_type not lowercased: %q", fields[0].Type)
	}
	if fields[1].Path != "total_amount" || fields[1].Name != "total" {
		t.Fatalf("expr/name mapping wrong: %+v", fields[1])
	}
}

func TestParse_CollectionsWithMetadata(t *testing.T) {
	model := mustParse(t, `
metadata:
  database: crm
  description: CRM data
collections:
  - name: contacts
    fields:
      - name: email
        type: string
`)

	if model.Format != FormatCollections {
		t.Fatalf("format = %q, want %q", model.Format, FormatCollections)
	}
	if model.Database != "crm" || model.Description != "CRM data" {
		t.Fatalf("metadata not applied: %q %q", model.Database, model.Description)
	}
	// Path falls back to the name when only a name is given
	if model.Collections[0].Fields[0].Path != "email" {
		t.Fatalf("path fallback failed: %+v", model.Collections[0].Fields[0])
	}
}

func TestParse_BusinessRules(t *testing.T) {
	model := mustParse(t, `
database: sales
collections:
  - name: orders
    fields:
      - path: order_id
        type: string
business_rules:
  core_collections: [orders]
  domain_keywords:
    refund: [payments]
  relevance_threshold: 0.5
  max_collections: 3
  max_fields: 10
`)

	if len(model.Rules.CoreCollections) != 1 || model.Rules.CoreCollections[0] != "orders" {
		t.Fatalf("core collections not parsed: %+v", model.Rules.CoreCollections)
	}
	if model.Rules.RelevanceThreshold != 0.5 || model.Rules.MaxCollections != 3 || model.Rules.MaxFields != 10 {
		t.Fatalf("rule limits not parsed: %+v", model.Rules)
	}
}

func TestParse_UnrecognizedFormat(t *testing.T) {
	_, err := Parse([]byte("some_key: value\n"))
	if err == nil {
		t.Fatalf("expected error for unrecognized layout")
	}
	if !strings.Contains(err.Error(), "unrecognized semantic model format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("database: [unclosed")); err == nil {
		t.Fatalf("expected error for invalid YAML")
	}
}

func TestValidate_ReportsProblems(t *testing.T) {
	report, err := Validate([]byte(`
database: sales
collections:
  - name: orders
    fields:
      - path: order_id
        type: string
      - path: status
`))
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if report.Valid {
		t.Fatalf("model with an untyped field should not be valid")
	}
	if report.Collections != 1 || report.Fields != 2 {
		t.Fatalf("counts = %d collections, %d fields", report.Collections, report.Fields)
	}
	if len(report.Problems) != 1 || !strings.Contains(report.Problems[0], "orders.status") {
		t.Fatalf("unexpected problems: %v", report.Problems)
	}
}

func TestValidate_CleanModel(t *testing.T) {
	report, err := Validate([]byte(`
database: sales
collections:
  - name: orders
    fields:
      - path: order_id
        type: string
`))
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if !report.Valid || len(report.Problems) != 0 {
		t.Fatalf("expected clean report, got %+v", report)
	}
}
