package supervisor

import (
	"encoding/json"
	"time"
)

type State int

const (
	Unloaded State = iota
	Loaded
	Reloading
	Terminated
)

var stateNames = map[State]string{
	Unloaded:   "unloaded",
	Loaded:     "loaded",
	Reloading:  "reloading",
	Terminated: "terminated",
}

var stateFromName = map[string]State{
	"unloaded":   Unloaded,
	"loaded":     Loaded,
	"reloading":  Reloading,
	"terminated": Terminated,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

type EventKind string

const (
	EventBuilt         EventKind = "built"
	EventBuildFailed   EventKind = "build_failed"
	EventLoaded        EventKind = "loaded"
	EventReloadStarted EventKind = "reload_started"
	EventReloaded      EventKind = "reloaded"
	EventLoadFailed    EventKind = "load_failed"
	EventTerminated    EventKind = "terminated"
)

// Event is emitted to observers at every lifecycle transition.
type Event struct {
	Kind     EventKind `json:"kind"`
	State    State     `json:"state"`
	Artifact string    `json:"artifact"`
	Err      string    `json:"error,omitempty"`
	Loads    int       `json:"loads"`
	Unloads  int       `json:"unloads"`
	Time     time.Time `json:"time"`
}

// Observer receives events synchronously from the supervisor loop and must
// not block.
type Observer interface {
	Notify(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
