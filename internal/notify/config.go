package notify

// WebhookConfig defines a webhook destination.
type WebhookConfig struct {
	URL     string            `yaml:"url" toml:"url" json:"url"`
	Format  string            `yaml:"format" toml:"format" json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events" toml:"events" json:"events"` // empty means permission_required and terminated
	Headers map[string]string `yaml:"headers" toml:"headers" json:"headers"`
}

// Event types delivered to webhooks.
const (
	EventPermissionRequired = "permission_required"
	EventResumed            = "resumed"
	EventTerminated         = "terminated"
	EventStarted            = "started"
	EventStopped            = "stopped"
)

var defaultEvents = []string{EventPermissionRequired, EventTerminated}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Condition string `json:"condition,omitempty"`
	Details   string `json:"details,omitempty"`
	RulesHash string `json:"rules_hash,omitempty"`
}
