// Package dialer is the client for the outbound-call campaign platform. The
// bridge only reads from it: batch listings, per-recipient call status, and
// optional post-call summaries.
package dialer

import "time"

// Batch statuses reported by the platform.
const (
	BatchPending    = "pending"
	BatchInProgress = "in_progress"
	BatchCompleted  = "completed"
)

// Recipient statuses reported by the platform.
const (
	CallInitiated  = "initiated"
	CallInProgress = "in_progress"
	CallCompleted  = "completed"
	CallFinished   = "finished"
	CallEnded      = "ended"
	CallFailed     = "failed"
)

// Batch is one outbound-call campaign.
type Batch struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	AgentID     string    `json:"agent_id"`
	LastUpdated time.Time `json:"last_updated"`
}

// BatchDetail is a batch with its per-recipient call state.
type BatchDetail struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	AgentID    string      `json:"agent_id"`
	Recipients []Recipient `json:"recipients"`
}

// Recipient is one called counterpart within a batch.
type Recipient struct {
	Phone          string `json:"phone"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	DurationSecs   int    `json:"duration_secs,omitempty"`
}

// CallSummary is the platform's post-call synopsis.
type CallSummary struct {
	SummaryText string `json:"summary_text,omitempty"`
}

// IsTerminal reports whether the call will not change state again.
func IsTerminal(status string) bool {
	switch status {
	case CallCompleted, CallFinished, CallEnded, CallFailed:
		return true
	}
	return false
}

// IsFinished reports whether the call ended in a bridgeable state. Failed
// calls are terminal but never bridged.
func IsFinished(status string) bool {
	switch status {
	case CallCompleted, CallFinished, CallEnded:
		return true
	}
	return false
}

// DedupKey derives the at-most-once bridging identity for a recipient:
// the platform conversation identity when present, otherwise batch + phone.
func DedupKey(batchID string, r Recipient) string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return batchID + ":" + r.Phone
}
