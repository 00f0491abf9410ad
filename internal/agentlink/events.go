// Package agentlink drives duplex text sessions against the conversational
// agent platform. The platform streams partial output events that are
// coalesced into one logical reply per user turn, and only answers the first
// user message of a session, so callers close and reopen per turn.
package agentlink

import "encoding/json"

// Frame type identifiers on the session wire.
const (
	// client → server
	frameSessionInit = "session.init"
	frameUserText    = "user.text"

	// server → client
	frameSessionReady = "session.ready"
	frameAgentOutput  = "agent.output"
	framePing         = "ping"
	frameError        = "error"
)

// frame is the envelope for every message on the session socket.
type frame struct {
	Type string `json:"type"`

	// session.init
	AgentID     string `json:"agent_id,omitempty"`
	CallerID    string `json:"caller_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// user.text / agent.output
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// agent.output provenance: "text" or "audio_transcript". Audio-derived
	// fragments are part of the same logical reply.
	Source string `json:"source,omitempty"`

	// session.ready
	ConversationID string `json:"conversation_id,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeFrame(f frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	err := json.Unmarshal(data, &f)
	return f, err
}
