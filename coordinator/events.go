package coordinator

import (
	"fmt"

	"github.com/hupe1980/hsne/hierarchy"
)

// EventType identifies an event.
type EventType int

const (
	EventStarted EventType = iota
	EventSnapshot
	EventScaleBuilt
	EventFinished
	EventAborted
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventSnapshot:
		return "snapshot"
	case EventScaleBuilt:
		return "scale_built"
	case EventFinished:
		return "finished"
	case EventAborted:
		return "aborted"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Terminal reports whether no further events follow for the run.
func (t EventType) Terminal() bool {
	return t == EventFinished || t == EventAborted || t == EventFailed
}

// Event is a progress notification. Fields not relevant to Type are zero.
type Event struct {
	Type EventType
	// Run is the sequence number of the run that emitted the event.
	Run uint64

	// Iteration is the 0-based index of the last completed iteration for
	// snapshots and embedding terminal events, -1 when none completed.
	Iteration int
	NumPoints int
	Dims      int
	// Embedding is a copy owned by the receiver.
	Embedding []float32

	// Scale and Landmarks describe a built scale.
	Scale     int
	Landmarks int
	// Hierarchy is set on the Finished event of a hierarchy build.
	Hierarchy *hierarchy.Hierarchy

	Err error
}

// Listener receives events on the worker goroutine.
type Listener func(Event)
