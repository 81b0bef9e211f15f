package service

// State is a consumer loop state.
type State int32

// Consumer loop states.
const (
	StateStarting State = iota
	StatePolling
	StateDelivered
	StateIdle
	StateConsumeError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateDelivered:
		return "delivered"
	case StateIdle:
		return "idle"
	case StateConsumeError:
		return "consume_error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
