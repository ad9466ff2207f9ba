package engine

// State is the lifecycle state of the engine.
type State int32

const (
	Starting State = iota
	Converging
	Steady
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Converging:
		return "converging"
	case Steady:
		return "steady"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// States lists every state in lifecycle order.
var States = []State{Starting, Converging, Steady, ShuttingDown, Stopped}
