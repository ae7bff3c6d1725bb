package piece

import (
	"golang.org/x/xerrors"
)

// Status is the lifecycle state of a tracked piece. The integer values match
// the storage encoding used by the piece table; nothing in the pipeline
// depends on their numeric order, only on the transition table below.
type Status int

const (
	// StatusSubmitted is the initial state, set by the submission handler on
	// first insert.
	StatusSubmitted Status = 0
	// StatusOffered means the piece was offered to the aggregator. The
	// transition is an out-of-band signal; the pipeline never requires it to
	// happen before a piece can resolve.
	StatusOffered Status = 1
	// StatusAccepted is terminal: the aggregator resolved the piece into a
	// deal.
	StatusAccepted Status = 100
	// StatusInvalid is terminal: the aggregator rejected the piece.
	StatusInvalid Status = 200
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusOffered:
		return "offered"
	case StatusAccepted:
		return "accepted"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusInvalid
}

// transitions is the closed set of allowed forward transitions. Terminal
// states deliberately have no entries.
var transitions = map[Status][]Status{
	StatusSubmitted: {StatusOffered, StatusAccepted, StatusInvalid},
	StatusOffered:   {StatusAccepted, StatusInvalid},
}

// CanTransition reports whether moving from s to next is a valid forward
// transition.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// NonTerminalStatuses returns the states the deal tracker has to poll for.
func NonTerminalStatuses() []Status {
	return []Status{StatusSubmitted, StatusOffered}
}

func ParseStatus(s string) (Status, error) {
	switch s {
	case "submitted":
		return StatusSubmitted, nil
	case "offered":
		return StatusOffered, nil
	case "accepted":
		return StatusAccepted, nil
	case "invalid":
		return StatusInvalid, nil
	default:
		return 0, xerrors.Errorf("unknown piece status %q", s)
	}
}
