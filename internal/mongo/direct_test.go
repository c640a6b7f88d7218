package mongo

import (
	"reflect"
	"testing"
	"time"
)

func TestReviveDatesConvertsMarkers(t *testing.T) {
	stage := map[string]any{
		"$match": map[string]any{
			"created_at": map[string]any{
				"$gte": map[string]any{"$date": "2024-01-15"},
				"$lt":  map[string]any{"$date": "2024-02-01T10:30:00Z"},
			},
		},
	}

	revived, ok := reviveDates(stage).(map[string]any)
	if !ok {
		t.Fatalf("reviveDates() returned %T, want map", reviveDates(stage))
	}

	match := revived["$match"].(map[string]any)
	created := match["created_at"].(map[string]any)

	gte, ok := created["$gte"].(time.Time)
	if !ok {
		t.Fatalf("$gte = %T, want time.Time", created["$gte"])
	}
	if gte.Year() != 2024 || gte.Month() != time.January || gte.Day() != 15 {
		t.Errorf("$gte = %v, want 2024-01-15", gte)
	}

	lt, ok := created["$lt"].(time.Time)
	if !ok {
		t.Fatalf("$lt = %T, want time.Time", created["$lt"])
	}
	if lt.Hour() != 10 || lt.Minute() != 30 {
		t.Errorf("$lt = %v, want 10:30 UTC", lt)
	}
}

func TestReviveDatesWalksArrays(t *testing.T) {
	stage := map[string]any{
		"$match": map[string]any{
			"$or": []any{
				map[string]any{"day": map[string]any{"$date": "2024-03-01"}},
				map[string]any{"status": "open"},
			},
		},
	}

	revived := reviveDates(stage).(map[string]any)
	or := revived["$match"].(map[string]any)["$or"].([]any)

	if _, ok := or[0].(map[string]any)["day"].(time.Time); !ok {
		t.Errorf("array element date not revived: %T", or[0].(map[string]any)["day"])
	}
	if or[1].(map[string]any)["status"] != "open" {
		t.Errorf("sibling value changed: %v", or[1])
	}
}

func TestReviveDatesLeavesOtherValuesAlone(t *testing.T) {
	stage := map[string]any{
		"$project": map[string]any{"name": 1, "$date": 5},
		"$limit":   10,
	}

	revived := reviveDates(stage)
	if !reflect.DeepEqual(revived, stage) {
		t.Errorf("reviveDates() = %v, want unchanged %v", revived, stage)
	}
}

func TestReviveDatesKeepsUnparseableDateMarker(t *testing.T) {
	in := map[string]any{"$date": "not-a-date"}
	out := reviveDates(in)
	if !reflect.DeepEqual(out, in) {
		t.Errorf("reviveDates() = %v, want marker preserved", out)
	}
}

func TestParseISODate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-15", "2024-01-15T00:00:00Z"},
		{"2024-01-15T08:30:00", "2024-01-15T08:30:00Z"},
		{"2024-01-15T08:30:00Z", "2024-01-15T08:30:00Z"},
		{"2024-01-15T08:30:00+05:30", "2024-01-15T08:30:00+05:30"},
	}

	for _, tt := range tests {
		got, err := parseISODate(tt.in)
		if err != nil {
			t.Errorf("parseISODate(%q) error = %v", tt.in, err)
			continue
		}
		if got.Format(time.RFC3339) != tt.want {
			t.Errorf("parseISODate(%q) = %s, want %s", tt.in, got.Format(time.RFC3339), tt.want)
		}
	}

	if _, err := parseISODate("January 15th"); err == nil {
		t.Error("parseISODate() accepted non-ISO input")
	}
}
