package feed

// State is the push-channel lifecycle.
//
// The triad of push delivery, degraded polling, and reconnect backoff is a
// small state machine; keeping it explicit (instead of inferring state from
// which timers happen to exist) makes the transitions reviewable:
//
//	Idle         -> Connecting                  Start()
//	Connecting   -> Open                        dial succeeded
//	Connecting   -> Degraded                    dial failed (poll + backoff)
//	Open         -> Degraded                    channel closed or errored
//	Degraded     -> Reconnecting                backoff timer fired
//	Reconnecting -> Open                        dial succeeded
//	Reconnecting -> Degraded                    dial failed
//	any          -> Stopped                     stop()
//
// Degraded-mode polling runs in every non-Open running state; the 10s
// reconciliation timer runs regardless.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateDegraded
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StateChange is the bus payload for feed.state events.
type StateChange struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Attempt int    `json:"attempt,omitempty"`
}
