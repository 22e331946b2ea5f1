package wayland

import (
	"errors"
	"strings"
	"testing"

	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/frame/capturer"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"github.com/bryanchriswhite/lumad/internal/wayland/wlr"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"
)

func newQueuedClient(events ...capturer.Event) *Client {
	return &Client{
		log:    logger.WithComponent("wayland"),
		frames: make(map[capturer.FrameID]*wlr.ExportDmabufFrame),
		queue:  events,
	}
}

func TestDispatchDeliversQueuedEventsInOrder(t *testing.T) {
	c := newQueuedClient(
		capturer.FrameEvent{Frame: 3},
		capturer.ReadyEvent{Frame: 3},
	)

	var got []capturer.Event
	err := c.Dispatch(func(ev capturer.Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("delivered %d events, want 2", len(got))
	}
	if _, ok := got[1].(capturer.ReadyEvent); !ok {
		t.Errorf("second event = %T, want ReadyEvent", got[1])
	}
	if len(c.queue) != 0 {
		t.Errorf("queue not drained: %v", c.queue)
	}
}

func TestDispatchClosesUnhandledDescriptors(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])

	c := newQueuedClient(
		capturer.ReadyEvent{Frame: 1},
		capturer.ObjectEvent{Frame: 1, Plane: frame.Plane{FD: fds[0]}},
	)

	stop := errors.New("stop")
	err := c.Dispatch(func(capturer.Event) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("Dispatch err = %v, want handler error", err)
	}
	if _, err := unix.FcntlInt(uintptr(fds[0]), unix.F_GETFD, 0); err == nil {
		t.Error("descriptor of undelivered object event left open")
	}
}

func TestDisplayErrorIsProtocolViolation(t *testing.T) {
	c := newQueuedClient()
	c.handleDisplayError(client.DisplayErrorEvent{Code: 1, Message: "invalid method 7"})
	c.handleDisplayError(client.DisplayErrorEvent{Code: 2, Message: "second"})

	if !errors.Is(c.displayErr, capturer.ErrProtocolViolation) {
		t.Fatalf("displayErr = %v, want ErrProtocolViolation", c.displayErr)
	}
	if !strings.Contains(c.displayErr.Error(), "invalid method 7") {
		t.Errorf("first error should be kept, got %v", c.displayErr)
	}

	c.queue = []capturer.Event{capturer.ReadyEvent{Frame: 1}}
	called := false
	err := c.Dispatch(func(capturer.Event) error { called = true; return nil })
	if !errors.Is(err, capturer.ErrProtocolViolation) || called {
		t.Errorf("Dispatch after display error: err=%v called=%v", err, called)
	}
}
