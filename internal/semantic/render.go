package semantic

import (
	"fmt"
	"strings"
)

// Render produces the schema text handed to the LLM. The layout mirrors the
// collection headers, bracketed field tuples, relationship arrows and
// verified query blocks the query prompts are written against.
func (m *Model) Render() string {
	var b strings.Builder

	if len(m.Collections) > 0 {
		fmt.Fprintf(&b, "# MongoDB Collection: %s.%s\n", m.Database, m.Collections[0].Name)
	} else {
		fmt.Fprintf(&b, "# MongoDB Database: %s\n", m.Database)
	}
	fmt.Fprintf(&b, "Database: %s\n", m.Database)
	if m.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", m.Description)
	}
	if m.BusinessFlow != "" {
		fmt.Fprintf(&b, "Business Flow: %s\n", m.BusinessFlow)
	}

	for _, coll := range m.Collections {
		b.WriteString("\n")
		fmt.Fprintf(&b, "## Collection: %s\n", coll.Name)
		if coll.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", coll.Description)
		}
		b.WriteString("[\n")
		for _, f := range coll.Fields {
			b.WriteString("  " + renderField(f) + ",\n")
		}
		b.WriteString("]\n")

		if hints := arrayHints(coll); hints != "" {
			b.WriteString(hints)
		}
	}

	if len(m.Relationships) > 0 {
		b.WriteString("\n## Relationships\n")
		for _, r := range m.Relationships {
			fmt.Fprintf(&b, "- %s -> %s (%s)", r.From, r.To, r.Type)
			if r.Description != "" {
				fmt.Fprintf(&b, " - %s", r.Description)
			}
			b.WriteString("\n")
		}
	}

	if len(m.Metrics) > 0 {
		b.WriteString("\n### Metrics\n")
		for _, metric := range m.Metrics {
			fmt.Fprintf(&b, "- %s: %s", metric.Name, metric.Expression)
			if metric.Description != "" {
				fmt.Fprintf(&b, " - %s", metric.Description)
			}
			b.WriteString("\n")
		}
	}

	if len(m.VerifiedQueries) > 0 {
		b.WriteString("\n## Verified Queries\n")
		for _, vq := range m.VerifiedQueries {
			fmt.Fprintf(&b, "- Name: %s\n", vq.Name)
			fmt.Fprintf(&b, "  Question: %s\n", vq.Question)
			fmt.Fprintf(&b, "  MongoDB Query: %s\n", vq.Query)
		}
	}

	return b.String()
}

// renderField formats one field tuple.
func renderField(f Field) string {
	parts := []string{f.Path}
	if f.Name != "" && f.Name != f.Path {
		parts = append(parts, "name: "+f.Name)
	}
	if f.Type != "" {
		parts = append(parts, "type: "+f.Type)
	}
	if f.Description != "" {
		parts = append(parts, f.Description)
	}
	if len(f.SampleValues) > 0 {
		samples := f.SampleValues
		if len(samples) > 3 {
			samples = samples[:3]
		}
		parts = append(parts, "Value examples: "+strings.Join(samples, ", "))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// arrayHints emits the $unwind reminder for array fields; generated
// pipelines that aggregate over array elements need the hint.
func arrayHints(coll Collection) string {
	var b strings.Builder
	for _, f := range coll.Fields {
		if !f.Array {
			continue
		}
		fmt.Fprintf(&b, "[ARRAY FIELDS IN %s] - %s is an ARRAY - Use $unwind: \"$%s\"\n", coll.Name, f.Path, f.Path)
	}
	return b.String()
}

// RenderVerifiedQueries returns only the verified query block, used by the
// refiner prompt.
func (m *Model) RenderVerifiedQueries() string {
	if len(m.VerifiedQueries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, vq := range m.VerifiedQueries {
		fmt.Fprintf(&b, "- Name: %s\n", vq.Name)
		fmt.Fprintf(&b, "  Question: %s\n", vq.Question)
		fmt.Fprintf(&b, "  MongoDB Query: %s\n", vq.Query)
	}
	return b.String()
}

// RenderRelationships returns only the relationship arrows, used by the
// refiner prompt.
func (m *Model) RenderRelationships() string {
	if len(m.Relationships) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range m.Relationships {
		fmt.Fprintf(&b, "%s -> %s (%s)", r.From, r.To, r.Type)
		if r.Description != "" {
			fmt.Fprintf(&b, " - %s", r.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderMetrics returns only the metrics block.
func (m *Model) RenderMetrics() string {
	if len(m.Metrics) == 0 {
		return ""
	}
	var b strings.Builder
	for _, metric := range m.Metrics {
		fmt.Fprintf(&b, "- %s: %s", metric.Name, metric.Expression)
		if metric.Description != "" {
			fmt.Fprintf(&b, " - %s", metric.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
