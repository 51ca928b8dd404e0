package audit

// Entry is one line in the hash-chained JSONL audit log: a lifecycle
// transition of a monitoring session. Only plain fields, so json.Marshal
// field order is deterministic for reproducible hashing.
type Entry struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Condition string `json:"condition,omitempty"`
	Details   string `json:"details,omitempty"`
	RulesHash string `json:"rules_hash"`
	PrevHash  string `json:"prev_hash"`
}
