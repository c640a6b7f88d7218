package semantic

import "fmt"

// Report summarizes a semantic model for the validation endpoint.
type Report struct {
	Valid       bool     `json:"valid"`
	Format      string   `json:"format"`
	Database    string   `json:"database"`
	Collections int      `json:"collections"`
	Fields      int      `json:"fields"`
	Problems    []string `json:"problems,omitempty"`
}

// Validate parses the YAML and reports structural problems without failing
// on them; only undecodable input returns an error.
func Validate(data []byte) (*Report, error) {
	model, err := Parse(data)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Format:   model.Format,
		Database: model.Database,
	}

	if model.Database == "" {
		report.Problems = append(report.Problems, "model does not name a database")
	}
	if len(model.Collections) == 0 {
		report.Problems = append(report.Problems, "model defines no collections")
	}

	for _, coll := range model.Collections {
		report.Collections++
		if coll.Name == "" {
			report.Problems = append(report.Problems, "collection without a name")
		}
		if len(coll.Fields) == 0 {
			report.Problems = append(report.Problems, fmt.Sprintf("collection %s has no fields", coll.Name))
		}
		for _, f := range coll.Fields {
			report.Fields++
			if f.Path == "" {
				report.Problems = append(report.Problems, fmt.Sprintf("collection %s has a field without a path", coll.Name))
			}
			if f.Type == "" {
				report.Problems = append(report.Problems, fmt.Sprintf("field %s.%s has no type", coll.Name, f.Path))
			}
		}
	}

	report.Valid = len(report.Problems) == 0
	return report, nil
}
