package ingestion

import (
	"fmt"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// State is a step of one ingestion cycle.
type State int

const (
	StateSelectTag State = iota
	StateFetchInitial
	StateFetchMore
	StateFlush
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSelectTag:
		return "select_tag"
	case StateFetchInitial:
		return "fetch_initial"
	case StateFetchMore:
		return "fetch_more"
	case StateFlush:
		return "flush"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Signal tells the outer loop what to do after a cycle.
type Signal int

const (
	// SignalContinue: the tag was exhausted, start the next cycle.
	SignalContinue Signal = iota
	// SignalStop: quota floor reached, nothing pending, or shutdown requested.
	SignalStop
	// SignalRerun: a recoverable failure, retry after the cooldown.
	SignalRerun
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalStop:
		return "stop"
	case SignalRerun:
		return "rerun"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Outcome is the result of one cycle.
type Outcome struct {
	Signal Signal
	Report models.CycleReport
	Reason string
	Err    error // the recoverable failure behind a rerun, if any
}

// cycle carries the state of one run through the state machine.
type cycle struct {
	id         string
	tagKey     string
	from       int64
	cursor     int64
	checkpoint models.Checkpoint
	schedule   *models.Schedule
	acc        *models.Batch
	hasMore    bool

	exhausted bool
	quotaStop bool
	cancelled bool
	partial   bool

	outcome Outcome
}

func (c *cycle) finish(sig Signal, reason string, err error) State {
	c.outcome.Signal = sig
	c.outcome.Reason = reason
	c.outcome.Err = err
	return StateDone
}
