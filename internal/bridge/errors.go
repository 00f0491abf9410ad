package bridge

import (
	"errors"

	"github.com/relaymesh/callbridge/internal/agentlink"
)

var (
	// ErrConnect means opening an agent session failed. Retryable on the
	// next user turn or poll cycle.
	ErrConnect = errors.New("bridge: session open failed")
	// ErrEmptyReply means the platform produced only blank or placeholder
	// output. Treated the same as a timeout.
	ErrEmptyReply = errors.New("bridge: empty agent reply")
	// ErrGatewaySend means the messaging gateway rejected a delivery.
	ErrGatewaySend = errors.New("bridge: gateway send failed")
)

// Retryable reports whether a failed bridge attempt should be retried by a
// later poll cycle (the dedup claim was rolled back).
func Retryable(err error) bool {
	return errors.Is(err, ErrGatewaySend)
}

// userFacing reports whether the counterpart should receive an apology for
// this failure rather than silence.
func userFacing(err error) bool {
	return errors.Is(err, agentlink.ErrReplyTimeout) ||
		errors.Is(err, agentlink.ErrClosed) ||
		errors.Is(err, agentlink.ErrNoSession) ||
		errors.Is(err, ErrConnect) ||
		errors.Is(err, ErrEmptyReply)
}
