// Package prompt builds the LLM prompts for query generation, query repair
// and answer formatting.
package prompt

import (
	"os"
	"strings"
	"text/template"
	"time"
)

// QueryPromptData feeds the query generation prompt.
type QueryPromptData struct {
	Question        string
	Schema          string
	Relationships   string
	Instructions    string
	Metrics         string
	VerifiedQueries string
	CurrentDate     string
}

// RefinePromptData feeds the query repair prompt.
type RefinePromptData struct {
	Question       string
	Schema         string
	Relationships  string
	FailedQuery    string
	Error          string
	ExceptionClass string
}

// AnswerPromptData feeds the answer formatting prompt.
type AnswerPromptData struct {
	Question string
	Result   string
}

// BuildQueryPrompt creates the prompt that asks the model for a MongoDB
// aggregation pipeline grounded in the rendered schema.
func BuildQueryPrompt(d QueryPromptData) string {
	if d.CurrentDate == "" {
		d.CurrentDate = time.Now().Format("2006-01-02")
	}
	if out, ok := renderTemplateFile("templates/prompt/query.tmpl", d); ok {
		return out
	}
	return renderTemplateString(defaultQueryTemplate, d)
}

// BuildRefinePrompt creates the prompt that asks the model to repair a failed
// query given the execution error.
func BuildRefinePrompt(d RefinePromptData) string {
	if out, ok := renderTemplateFile("templates/prompt/refine.tmpl", d); ok {
		return out
	}
	return renderTemplateString(defaultRefineTemplate, d)
}

// BuildAnswerPrompt creates the prompt that turns query results into a
// natural language answer.
func BuildAnswerPrompt(d AnswerPromptData) string {
	if out, ok := renderTemplateFile("templates/prompt/answer.tmpl", d); ok {
		return out
	}
	return renderTemplateString(defaultAnswerTemplate, d)
}

// --- template rendering helpers and defaults ---

func renderTemplateFile(path string, data any) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return renderTemplateString(string(b), data), true
}

func renderTemplateString(tmpl string, data any) string {
	t := template.Must(template.New("prompt").Parse(tmpl))
	var sb strings.Builder
	_ = t.Execute(&sb, data)
	return sb.String()
}

const defaultQueryTemplate = `You are a MongoDB expert that generates aggregation queries from natural language questions.

Analyze the question and generate a MongoDB query following the schema and constraints below.

Query structure rules:
1. Treat every collection attribute as a separate field. Write {"companyName": "Cisco"}, never {"companyName.value": "Cisco"}, unless the schema marks the field as nested.
2. Each pipeline stage is a separate object in the array: [{"$match": {...}}, {"$group": {...}}, {"$sort": {...}}]. Never combine two operators in one stage.
3. Use double quotes for all operators, field names and string values. Single quotes are invalid.
4. Keep the query JSON compact: no spaces after { or before }.
5. Every opening brace needs exactly one matching closing brace. Count them before answering.

Dates:
- Use ISODate("YYYY-MM-DD") with double quotes and no timestamp component.
- Calculate relative dates from the current date: {{.CurrentDate}}

Text search:
- Case-insensitive: {"field": {"$regex": "pattern", "$options": "i"}}
- Exact match: {"field": "exact_value"}

Limits:
- find() queries must carry .limit(100) or lower; append it when missing, lower it when higher.
- Aggregation pipelines returning documents should include a $limit stage of 100 or lower.

Joins:
- Check the [Relationships] section for the join path before writing $lookup stages.
- Follow relationship chains through their intermediate collections; never join two collections directly when the chain passes through a bridge collection.
- Use ObjectId references as join keys where the schema defines them.

Generate ONLY the MongoDB query; the semantic analysis is already done. The query must be syntactically complete and strictly relevant to the question, without extraneous fields or calculations. State any assumptions you make.

CURRENT DATE: {{.CurrentDate}}

==========
[Database schema]

{{.Schema}}

[Relationships]
{{.Relationships}}

[Question]
{{.Question}}

[Custom Instructions]
{{.Instructions}}

[Metrics]
{{.Metrics}}

[Verified Queries]
{{.VerifiedQueries}}

Return ONLY valid JSON in this exact format:

` + "```json" + `
{
  "mongodb_query": "db.collection.aggregate([...])",
  "collection_name": "collection_name_here",
  "database_name": "database_name_here",
  "parameters": {},
  "entities": [{"type": "collection", "name": "collection_name_here"}],
  "query_type": "find_or_aggregate"
}
` + "```" + `

IMPORTANT:
- Wrap the JSON in a ` + "```json" + ` fence.
- Always use double quotes in the JSON.
- Include every field: mongodb_query, collection_name, database_name, parameters, entities, query_type.`

const defaultRefineTemplate = `[Instruction]
The MongoDB query below failed with an error. Fix the query based on the question and the database info.
Prioritize the verified queries exactly as written, along with all their specified logic, when a verified query matches the question. Otherwise solve the task step by step.
Verify the answer carefully before returning it.
If there is no MongoDB query in [old MongoDB Query], do not generate a new query; return the [error] and [Exception class] as is.

[Constraints]
- Select only the fields the question needs, without unnecessary fields or values.
- Do not include unnecessary collections in $lookup stages.
- When using $max or $min in $group, run the needed $lookup stages first, then aggregate.
- Use $match null checks like {"field": {"$ne": null}} when values may be missing.
- Place $sort after all $match and $lookup stages.
- Reference _id fields through ObjectId() and dates through ISODate().

[Question]
{{.Question}}

[Database info]
{{.Schema}}

[Relationships]
{{.Relationships}}

[old MongoDB Query]
` + "```json" + `
{{.FailedQuery}}
` + "```" + `

[error]
{{.Error}}

[Exception class]
{{.ExceptionClass}}

Now fix the old MongoDB query and generate a new one.

Return ONLY valid JSON in this exact format:

` + "```json" + `
{
  "mongodb_query": "your_fixed_query_here",
  "collection_name": "collection_name_here",
  "database_name": "database_name_here",
  "parameters": {},
  "entities": [],
  "query_type": "aggregate"
}
` + "```" + `

IMPORTANT:
- Wrap the JSON in a ` + "```json" + ` fence.
- Keep the same collection_name and database_name as the old query.
- Fix only the mongodb_query field.
- Always use double quotes in the JSON.`

const defaultAnswerTemplate = `You are an assistant that formats structured data results into clear, informative responses.

The user asked: {{.Question}}

Data to format:
{{.Result}}

Format the response as follows:

For single values or simple responses:
- Present the information in complete, descriptive sentences.
- Include identifiers from the original question (order numbers, IDs).

For multiple values or list data:
- Use bullet points, one complete data item per bullet.
- Remove technical formatting but preserve the actual content.

General rules:
- Remove database function syntax, column names and technical formatting.
- Present data values exactly as they appear, without summarizing.
- If the data is empty, respond with "Apologies, I am unable to assist you with this right now."
- Do not open with phrases like "The results are" or "Here is the information".
- Keep the response informative and factual.

Response:`
