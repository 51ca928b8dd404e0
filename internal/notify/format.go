package notify

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Session:* %s", event.SessionID)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Condition:* %s", event.Condition)},
	}
	if event.Details != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Details:* %s", event.Details)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("monmon: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.SessionID + ":" + event.Type,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("monmon %s: %s", event.Type, event.Condition),
			"severity": severityFor(event.Type),
			"source":   "monmon",
			"custom_details": map[string]any{
				"session_id": event.SessionID,
				"condition":  event.Condition,
				"details":    event.Details,
				"rules_hash": event.RulesHash,
			},
		},
	}
	return json.Marshal(payload)
}

func severityFor(eventType string) string {
	switch eventType {
	case EventTerminated:
		return "critical"
	case EventPermissionRequired:
		return "warning"
	default:
		return "info"
	}
}
