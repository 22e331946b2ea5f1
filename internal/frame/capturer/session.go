package capturer

import (
	"fmt"

	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/rs/zerolog"
)

// State of one output's capture loop
type State int

const (
	StateDiscovering State = iota
	StateRequesting
	StateAccumulating
	StateReady
	StateCancelled
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateRequesting:
		return "requesting"
	case StateAccumulating:
		return "accumulating"
	case StateReady:
		return "ready"
	case StateCancelled:
		return "cancelled"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the capture loop of one configured output. It owns its
// controller and, between request and completion, its frame.
type Session struct {
	name        string
	controller  Controller
	output      OutputID
	description string
	state       State
	log         *zerolog.Logger

	frameID FrameID
	frame   *frame.Object

	captures      int
	failures      int
	cancellations int
}

// Name is the configured output name
func (s *Session) Name() string { return s.name }

// State returns the current state
func (s *Session) State() State { return s.state }

// Output returns the bound output and whether discovery finished
func (s *Session) Output() (OutputID, bool) {
	return s.output, s.state != StateDiscovering
}

// Description is the description the session matched
func (s *Session) Description() string { return s.description }

// Stats returns successful captures, per-frame processing failures and
// temporary cancellations
func (s *Session) Stats() (captures, failures, cancellations int) {
	return s.captures, s.failures, s.cancellations
}

func (s *Session) violation(event string, err error) error {
	s.state = StateFatal
	return fmt.Errorf("%w: output %q: %s event: %v", ErrProtocolViolation, s.name, event, err)
}
