package monmon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ppiankov/monmon/internal/eventlog"
)

// Middleware returns an http.Handler that logs each request to the
// transcript before passing it on. A request that arrives while the session
// is paused waits for the decision or for the client to go away. Once the
// session has terminated, requests receive a 403 with a JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := c.mon.Log(r.Context(), eventlog.RoleAssistant, actionFromRequest(r).String())

		var term *TerminationError
		switch {
		case errors.As(err, &term):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"terminated": true,
				"condition":  term.Condition,
				"details":    term.Details,
			})
			return
		case err != nil:
			// The client went away while the session was paused.
			return
		}

		next.ServeHTTP(w, r)
	})
}

// actionFromRequest maps an HTTP request to an Action.
func actionFromRequest(r *http.Request) Action {
	resource := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		resource = r.Host + r.URL.RequestURI()
	}
	return Action{Tool: "http", Input: r.Method + " " + resource}
}
