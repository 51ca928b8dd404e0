// Package monmon watches a Go agent in-process. Every tool call the agent
// makes is logged to a monitored transcript before it runs; termination
// rules end the session and permission rules hold the next call until
// someone grants or denies it.
//
// Usage:
//
//	mm, err := monmon.New(monmon.WithRules(
//	    []string{"rm -rf", "facebook.com"},
//	    []string{"send_email"},
//	))
//	if err != nil { ... }
//	defer mm.Close()
//
//	search := mm.Wrap(mySearchTool)
//	result, err := search(ctx, monmon.Action{Tool: "web_search", Input: "golang generics"})
//	if errors.Is(err, monmon.ErrTerminated) { ... stop the agent ... }
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/monmon/sdk/go/monmon.
package monmon
