package agent

import "testing"

func TestRouteAfterExecute(t *testing.T) {
	a := testAgent(t, &fakeLLM{}, &fakeExecutor{})

	cases := []struct {
		name       string
		errText    string
		iterations int
		want       Route
	}{
		{"no error", "", 0, RouteSuccess},
		{"missing query", "No MongoDB query found in response", 0, RouteFatalError},
		{"missing query legacy wording", "No SQL found", 0, RouteFatalError},
		{"empty gateway content", "No valid content in MCP result", 0, RouteFatalError},
		{"connect failure", "Failed to connect to MongoDB gateway: dial tcp: connection refused", 0, RouteFatalError},
		{"connection dropped", "Connection error: EOF", 0, RouteFatalError},
		{"unauthorized", "MCP request failed: HTTP 401", 0, RouteFatalError},
		{"forbidden", "MCP request failed: HTTP 403", 0, RouteFatalError},
		{"server error", "MCP request failed: HTTP 500", 0, RouteFatalError},
		{"timeout", "Timeout calling MongoDB gateway: context deadline exceeded", 0, RouteFatalError},
		{"auth failure", "Authentication failed: invalid client", 0, RouteFatalError},
		{"explicit fatal tag", "FATAL_ERROR: semantic model misconfigured", 0, RouteFatalError},
		{"refinable query error", "unknown top level operator: $matchh", 0, RouteError},
		{"retries exhausted", "unknown top level operator: $matchh", 1, RouteFatalError},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &State{ErrorText: c.errText, Iterations: c.iterations}
			if got := a.RouteAfterExecute(s); got != c.want {
				t.Errorf("RouteAfterExecute(%q, iterations=%d) = %s, want %s", c.errText, c.iterations, got, c.want)
			}
		})
	}
}
