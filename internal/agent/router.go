package agent

import "strings"

// Route is the decision taken after each execution attempt.
type Route string

const (
	RouteSuccess    Route = "success"
	RouteError      Route = "error"
	RouteFatalError Route = "fatal_error"
)

// fatalMarkers are connectivity and auth failures that query refinement
// cannot fix. Matched as case-sensitive substrings of the error text.
var fatalMarkers = []string{
	"No valid content in MCP result",
	"Failed to connect to",
	"Connection error",
	"HTTP 401",
	"HTTP 403",
	"HTTP 500",
	"Timeout",
	"Authentication failed",
}

// RouteAfterExecute classifies the state after an execution attempt:
// success formats the answer, error refines the query once, fatal_error
// ends the run.
func (a *Agent) RouteAfterExecute(s *State) Route {
	if strings.Contains(s.ErrorText, "No SQL found") || strings.Contains(s.ErrorText, "No MongoDB query found") {
		return RouteFatalError
	}

	if s.ErrorText == "" {
		return RouteSuccess
	}

	for _, marker := range fatalMarkers {
		if strings.Contains(s.ErrorText, marker) {
			return RouteFatalError
		}
	}

	if s.Iterations >= a.cfg.MaxRetryAttempts || strings.Contains(strings.ToLower(s.ErrorText), "fatal_error") {
		return RouteFatalError
	}

	return RouteError
}
