// Package capturer drives compositor frame exports for every configured
// output and turns completed frames into luminance readings.
package capturer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"github.com/rs/zerolog"
)

var (
	// ErrPermanentCancel means the compositor will never export the output
	// again, typically because it was unplugged or reconfigured.
	ErrPermanentCancel = errors.New("unsupported display reconfiguration")

	// ErrProtocolViolation means an event arrived that the current state
	// cannot accept.
	ErrProtocolViolation = errors.New("protocol desynchronization")
)

// Controller consumes luminance readings
type Controller interface {
	Adjust(output string, luma uint8)
}

// Processor reduces a complete frame to a 0-100 percentage
type Processor interface {
	LumaPercent(f *frame.Object) (uint8, error)
}

// Clock abstracts the re-arm delays
type Clock interface {
	Sleep(d time.Duration)
}

// SystemClock sleeps for real
type SystemClock struct{}

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Timing holds the re-arm delays
type Timing struct {
	SuccessDelay time.Duration
	FailureDelay time.Duration
}

// TimingFromConfig extracts capture timings from the daemon config
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		SuccessDelay: cfg.Timing.SuccessDelay,
		FailureDelay: cfg.Timing.FailureDelay,
	}
}

// Option configures a Capturer
type Option func(*Capturer)

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(c *Capturer) { c.clock = clock }
}

// WithTiming sets the re-arm delays
func WithTiming(t Timing) Option {
	return func(c *Capturer) { c.timing = t }
}

// rearm is a capture request scheduled after a delay
type rearm struct {
	session *Session
	delay   time.Duration
}

// Capturer owns one protocol connection and every session using it. All
// state transitions happen on the goroutine running Run.
type Capturer struct {
	proto  Protocol
	proc   Processor
	clock  Clock
	timing Timing
	log    *zerolog.Logger

	sessions []*Session
	frames   map[FrameID]*Session
	pending  []rearm
}

// New creates a capturer over proto, computing luminance with proc
func New(proto Protocol, proc Processor, opts ...Option) *Capturer {
	c := &Capturer{
		proto:  proto,
		proc:   proc,
		clock:  SystemClock{},
		timing: Timing{SuccessDelay: 100 * time.Millisecond, FailureDelay: time.Second},
		log:    logger.WithComponent("capturer"),
		frames: make(map[FrameID]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddSession registers a configured output. name is matched against output
// descriptions; readings go to controller.
func (c *Capturer) AddSession(name string, controller Controller) *Session {
	s := &Session{
		name:       name,
		controller: controller,
		state:      StateDiscovering,
		log:        logger.WithOutput("capturer", name),
	}
	c.sessions = append(c.sessions, s)
	return s
}

// Sessions returns the registered sessions
func (c *Capturer) Sessions() []*Session {
	return c.sessions
}

// Run discovers outputs and captures frames until ctx is cancelled or a
// fatal error occurs. It never returns nil while sessions exist.
func (c *Capturer) Run(ctx context.Context) error {
	if len(c.sessions) == 0 {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		c.proto.Close()
	})
	defer stop()

	for _, output := range c.proto.Outputs() {
		if err := c.proto.Describe(output); err != nil {
			return fmt.Errorf("describe output %d: %w", output, err)
		}
	}
	c.log.Debug().Int("sessions", len(c.sessions)).Msg("Waiting for output descriptions")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.proto.Dispatch(c.handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return c.fail(err)
		}
		if err := c.drain(ctx); err != nil {
			return err
		}
	}
}

// drain issues the scheduled capture requests in order. Delays block the
// whole dispatch loop, which rate-limits every output on the connection.
func (c *Capturer) drain(ctx context.Context) error {
	for len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]

		if next.delay > 0 {
			c.clock.Sleep(next.delay)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.request(next.session); err != nil {
			return c.fail(err)
		}
	}
	return nil
}

func (c *Capturer) fail(err error) error {
	for _, s := range c.sessions {
		if s.frame != nil {
			s.frame.Close()
			s.frame = nil
		}
	}
	return err
}

func (c *Capturer) schedule(s *Session, delay time.Duration) {
	c.pending = append(c.pending, rearm{session: s, delay: delay})
}

func (c *Capturer) request(s *Session) error {
	id, err := c.proto.CaptureOutput(s.output)
	if err != nil {
		s.state = StateFatal
		return fmt.Errorf("request frame for output %q: %w", s.name, err)
	}
	s.frameID = id
	s.frame = &frame.Object{}
	s.state = StateRequesting
	c.frames[id] = s
	return nil
}

// release closes the frame's descriptors and destroys the export object
func (c *Capturer) release(s *Session) {
	if s.frame != nil {
		if err := s.frame.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to release frame planes")
		}
		s.frame = nil
	}
	delete(c.frames, s.frameID)
	if err := c.proto.DestroyFrame(s.frameID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to destroy frame")
	}
	s.frameID = 0
}

func (c *Capturer) handle(ev Event) error {
	switch e := ev.(type) {
	case DescriptionEvent:
		c.handleDescription(e)
		return nil
	case FrameEvent:
		s, err := c.sessionFor(e.Frame, "frame", StateRequesting)
		if err != nil {
			return err
		}
		if err := s.frame.SetMetadata(e.Metadata); err != nil {
			return s.violation("frame", err)
		}
		s.state = StateAccumulating
		s.log.Trace().
			Uint32("width", e.Width).
			Uint32("height", e.Height).
			Uint32("planes", e.NumObjects).
			Msg("Frame metadata")
		return nil
	case ObjectEvent:
		s, err := c.sessionFor(e.Frame, "object", StateAccumulating)
		if err != nil {
			e.Plane.Close()
			return err
		}
		if err := s.frame.SetObject(e.Plane); err != nil {
			e.Plane.Close()
			return s.violation("object", err)
		}
		return nil
	case ReadyEvent:
		s, err := c.sessionFor(e.Frame, "ready", StateAccumulating)
		if err != nil {
			return err
		}
		if !s.frame.Complete() {
			return s.violation("ready", fmt.Errorf("%d of %d planes received", s.frame.Received(), s.frame.NumObjects))
		}
		c.handleReady(s)
		return nil
	case CancelEvent:
		s, err := c.sessionFor(e.Frame, "cancel", StateRequesting, StateAccumulating)
		if err != nil {
			return err
		}
		return c.handleCancel(s, e.Reason)
	default:
		return fmt.Errorf("%w: unknown event %T", ErrProtocolViolation, ev)
	}
}

func (c *Capturer) handleDescription(e DescriptionEvent) {
	for _, s := range c.sessions {
		if s.state != StateDiscovering || !strings.Contains(e.Description, s.name) {
			continue
		}
		s.output = e.Output
		s.description = e.Description
		s.state = StateRequesting
		s.log.Debug().
			Str("description", e.Description).
			Msg("Using output")
		c.schedule(s, 0)
	}
}

func (c *Capturer) handleReady(s *Session) {
	s.state = StateReady
	luma, err := c.proc.LumaPercent(s.frame)
	c.release(s)

	if err != nil {
		s.failures++
		s.log.Error().Err(err).Msg("Unable to compute luma percent, will try again")
		c.schedule(s, c.timing.FailureDelay)
		return
	}

	s.captures++
	s.log.Trace().Uint8("luma", luma).Msg("Frame processed")
	s.controller.Adjust(s.name, luma)
	c.schedule(s, c.timing.SuccessDelay)
}

func (c *Capturer) handleCancel(s *Session, reason CancelReason) error {
	c.release(s)

	if reason.Permanent() {
		s.state = StateFatal
		return fmt.Errorf("%w: frame for output %q was cancelled permanently; "+
			"disconnecting or reconfiguring a screen is not supported", ErrPermanentCancel, s.name)
	}

	s.state = StateCancelled
	s.cancellations++
	s.log.Warn().
		Stringer("reason", reason).
		Dur("delay", c.timing.FailureDelay).
		Msg("Frame was cancelled due to a temporary error, will try again")
	c.schedule(s, c.timing.FailureDelay)
	return nil
}

// sessionFor resolves the session owning frame and checks its state
func (c *Capturer) sessionFor(id FrameID, event string, allowed ...State) (*Session, error) {
	s, ok := c.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s event for unknown frame %d", ErrProtocolViolation, event, id)
	}
	for _, state := range allowed {
		if s.state == state {
			return s, nil
		}
	}
	return nil, s.violation(event, fmt.Errorf("unexpected in state %s", s.state))
}
