package demo

import "fmt"

// State is a step of a demo run. Every run ends in Stopped, which only means
// cleanup has completed; the verdict is whether Succeeded was reached first.
type State int

const (
	Idle State = iota
	PreflightChecked
	ServerStarting
	ServerReady
	ClientRunning
	Succeeded
	Failed
	Stopped
)

var stateNames = map[State]string{
	Idle:             "idle",
	PreflightChecked: "preflight-checked",
	ServerStarting:   "server-starting",
	ServerReady:      "server-ready",
	ClientRunning:    "client-running",
	Succeeded:        "succeeded",
	Failed:           "failed",
	Stopped:          "stopped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}
