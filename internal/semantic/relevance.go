package semantic

import (
	"sort"
	"strings"
)

// Limits bound how much of a model reaches the LLM prompt. Model business
// rules override the zero fields.
type Limits struct {
	MaxCollections     int
	MaxFields          int
	RelevanceThreshold float64
}

// effective merges the service defaults with the model's own rules layer.
func (l Limits) effective(rules BusinessRules) Limits {
	out := l
	if rules.MaxCollections > 0 {
		out.MaxCollections = rules.MaxCollections
	}
	if rules.MaxFields > 0 {
		out.MaxFields = rules.MaxFields
	}
	if rules.RelevanceThreshold > 0 {
		out.RelevanceThreshold = rules.RelevanceThreshold
	}
	if out.MaxCollections <= 0 {
		out.MaxCollections = 5
	}
	if out.MaxFields <= 0 {
		out.MaxFields = 30
	}
	return out
}

var importanceScores = map[string]float64{
	"critical": 0.3,
	"high":     0.2,
	"normal":   0.1,
	"low":      0.05,
}

var frequencyScores = map[string]float64{
	"very_high": 0.3,
	"high":      0.2,
	"medium":    0.1,
	"low":       0.05,
}

// Relevant returns a copy of the model reduced to the collections and fields
// that matter for the question, per the rules layer. The original model is
// not modified.
func (m *Model) Relevant(question string, limits Limits) *Model {
	lim := limits.effective(m.Rules)
	words := questionWords(question)
	forced := m.forcedCollections(question)

	type scored struct {
		coll  Collection
		score float64
	}

	ranked := make([]scored, 0, len(m.Collections))
	for _, coll := range m.Collections {
		s := m.scoreCollection(coll, words)
		if forced[strings.ToLower(coll.Name)] {
			s = 1.0
		}
		ranked = append(ranked, scored{coll: coll, score: s})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	kept := make([]Collection, 0, lim.MaxCollections)
	for _, r := range ranked {
		if len(kept) >= lim.MaxCollections {
			break
		}
		if r.score < lim.RelevanceThreshold {
			continue
		}
		kept = append(kept, r.coll)
	}

	// Never hand the LLM an empty schema: when nothing clears the
	// threshold, keep the best-ranked collections anyway.
	if len(kept) == 0 {
		for _, r := range ranked {
			if len(kept) >= lim.MaxCollections {
				break
			}
			kept = append(kept, r.coll)
		}
	}

	for i := range kept {
		kept[i].Fields = m.relevantFields(kept[i], words, lim.MaxFields)
	}

	out := *m
	out.Collections = kept
	out.Relationships = relationshipsFor(m.Relationships, kept)
	return &out
}

// scoreCollection follows the rules layer: core and essential collections
// get a base score, importance and frequency add weight, and question words
// matching the category, description or name add the rest.
func (m *Model) scoreCollection(coll Collection, words []string) float64 {
	var score float64

	if m.isCore(coll.Name) {
		score = 1.0
	} else if coll.EssentialForQuery {
		score = 0.9
	}

	score += importanceScores[strings.ToLower(coll.BusinessImportance)]
	score += frequencyScores[strings.ToLower(coll.QueryFrequency)]

	if matchesAny(coll.Category, words) {
		score += 0.4
	}
	if matchesAny(coll.Description, words) {
		score += 0.2
	}
	if matchesAny(coll.Name, words) {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// relevantFields keeps every field when the collection is small enough,
// otherwise ranks fields against the question and keeps the top maxFields.
// Fields named in the rules layer's field_priorities always survive.
func (m *Model) relevantFields(coll Collection, words []string, maxFields int) []Field {
	if len(coll.Fields) <= maxFields {
		return coll.Fields
	}

	priority := make(map[string]bool)
	for _, name := range m.Rules.FieldPriorities[coll.Name] {
		priority[strings.ToLower(name)] = true
	}

	type scored struct {
		field Field
		score float64
		order int
	}

	ranked := make([]scored, 0, len(coll.Fields))
	for i, f := range coll.Fields {
		var s float64
		if priority[strings.ToLower(f.Path)] || priority[strings.ToLower(f.Name)] {
			s = 1.0
		}
		if matchesAny(f.Name, words) || matchesAny(f.Path, words) {
			s += 0.4
		}
		if matchesAny(f.Description, words) {
			s += 0.3
		}
		switch f.Type {
		case "string", "date", "datetime", "timestamp":
			s += 0.1
		}
		ranked = append(ranked, scored{field: f, score: s, order: i})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	kept := make([]scored, 0, maxFields)
	kept = append(kept, ranked[:maxFields]...)

	// Restore document order so the rendered schema stays readable.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].order < kept[j].order
	})

	fields := make([]Field, 0, len(kept))
	for _, k := range kept {
		fields = append(fields, k.field)
	}
	return fields
}

func (m *Model) isCore(name string) bool {
	for _, core := range m.Rules.CoreCollections {
		if strings.EqualFold(core, name) {
			return true
		}
	}
	return false
}

// forcedCollections resolves the domain keyword map: when a keyword appears
// in the question, its collections are pinned into the schema.
func (m *Model) forcedCollections(question string) map[string]bool {
	forced := make(map[string]bool)
	q := strings.ToLower(question)
	for keyword, collections := range m.Rules.DomainKeywords {
		if !strings.Contains(q, strings.ToLower(keyword)) {
			continue
		}
		for _, name := range collections {
			forced[strings.ToLower(name)] = true
		}
	}
	return forced
}

// relationshipsFor keeps relationships whose endpoints both survive
// filtering.
func relationshipsFor(rels []Relationship, kept []Collection) []Relationship {
	names := make(map[string]bool, len(kept))
	for _, c := range kept {
		names[strings.ToLower(c.Name)] = true
	}

	var out []Relationship
	for _, r := range rels {
		if names[relationshipCollection(r.From)] && names[relationshipCollection(r.To)] {
			out = append(out, r)
		}
	}
	return out
}

// relationshipCollection extracts the collection part of "collection.field".
func relationshipCollection(endpoint string) string {
	endpoint = strings.ToLower(strings.TrimSpace(endpoint))
	if idx := strings.Index(endpoint, "."); idx > 0 {
		return endpoint[:idx]
	}
	return endpoint
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "what": true,
	"which": true, "who": true, "how": true, "many": true, "much": true,
	"show": true, "list": true, "all": true, "are": true, "was": true,
	"were": true, "that": true, "this": true, "from": true, "have": true,
}

// questionWords tokenizes the question for relevance matching, dropping
// short words and common fillers.
func questionWords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})

	var words []string
	for _, w := range fields {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

func matchesAny(text string, words []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
