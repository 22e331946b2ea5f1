// Package wayland connects to the compositor and exposes output discovery and
// dma-buf frame export as a capturer.Protocol.
package wayland

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bryanchriswhite/lumad/internal/frame"
	"github.com/bryanchriswhite/lumad/internal/frame/capturer"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"github.com/bryanchriswhite/lumad/internal/wayland/wlr"
	"github.com/bryanchriswhite/lumad/internal/wayland/xdgoutput"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"github.com/rs/zerolog"
)

const (
	outputInterfaceName = "wl_output"

	// xdg_output descriptions exist since version 2
	minXdgOutputVersion = 2
	maxXdgOutputVersion = 3
	maxOutputVersion    = 3
)

var (
	// ErrUnsupported means the compositor lacks a required global
	ErrUnsupported = errors.New("compositor does not support required protocol")
)

// OutputInfo describes one compositor output
type OutputInfo struct {
	ID          capturer.OutputID `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
}

type output struct {
	global      uint32
	proxy       *client.Output
	xdg         *xdgoutput.Output
	name        string
	description string
}

// Client is a Wayland connection bound to the globals used for capturing
type Client struct {
	display  *client.Display
	registry *client.Registry
	log      *zerolog.Logger

	outputs       []*output
	xdgManager    *xdgoutput.OutputManager
	xdgVersion    uint32
	exportManager *wlr.ExportDmabufManager

	frames map[capturer.FrameID]*wlr.ExportDmabufFrame

	// events produced by handlers during one context dispatch
	queue []capturer.Event
	// protocol error reported by the display
	displayErr error

	closeOnce sync.Once
	closeErr  error
}

// Connect opens the compositor connection named by addr (empty for
// $WAYLAND_DISPLAY) and binds outputs, xdg-output and the dma-buf exporter.
func Connect(addr string) (*Client, error) {
	log := logger.WithComponent("wayland")

	display, err := client.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wayland display: %w", err)
	}

	c := &Client{
		display: display,
		log:     log,
		frames:  make(map[capturer.FrameID]*wlr.ExportDmabufFrame),
	}
	display.SetErrorHandler(c.handleDisplayError)

	c.registry, err = display.GetRegistry()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	c.registry.SetGlobalHandler(c.handleGlobal)

	// First roundtrip announces the globals, the second one delivers the
	// events of the objects bound in between.
	if err := c.roundtrip(); err != nil {
		c.Close()
		return nil, err
	}

	if c.exportManager == nil {
		c.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, wlr.ExportDmabufManagerInterfaceName)
	}
	if c.xdgManager == nil {
		c.Close()
		return nil, fmt.Errorf("%w: %s version %d", ErrUnsupported, xdgoutput.OutputManagerInterfaceName, minXdgOutputVersion)
	}

	if err := c.roundtrip(); err != nil {
		c.Close()
		return nil, err
	}

	log.Debug().
		Int("outputs", len(c.outputs)).
		Uint32("xdg_output_version", c.xdgVersion).
		Msg("Connected to compositor")

	return c, nil
}

func (c *Client) handleGlobal(e client.RegistryGlobalEvent) {
	ctx := c.display.Context()

	switch e.Interface {
	case outputInterfaceName:
		o := &output{global: e.Name, proxy: client.NewOutput(ctx)}
		if err := c.registry.Bind(e.Name, e.Interface, min(e.Version, maxOutputVersion), o.proxy); err != nil {
			c.log.Warn().Err(err).Uint32("global", e.Name).Msg("Failed to bind output")
			return
		}
		c.outputs = append(c.outputs, o)
	case xdgoutput.OutputManagerInterfaceName:
		if e.Version < minXdgOutputVersion {
			c.log.Warn().Uint32("version", e.Version).Msg("xdg-output manager too old for output descriptions")
			return
		}
		c.xdgVersion = min(e.Version, maxXdgOutputVersion)
		c.xdgManager = xdgoutput.NewOutputManager(ctx)
		if err := c.registry.Bind(e.Name, e.Interface, c.xdgVersion, c.xdgManager); err != nil {
			c.log.Warn().Err(err).Msg("Failed to bind xdg-output manager")
			c.xdgManager = nil
		}
	case wlr.ExportDmabufManagerInterfaceName:
		c.exportManager = wlr.NewExportDmabufManager(ctx)
		if err := c.registry.Bind(e.Name, e.Interface, 1, c.exportManager); err != nil {
			c.log.Warn().Err(err).Msg("Failed to bind export-dmabuf manager")
			c.exportManager = nil
		}
	}
}

func (c *Client) handleDisplayError(e client.DisplayErrorEvent) {
	if c.displayErr != nil {
		return
	}
	var object uint32
	if e.ObjectId != nil {
		object = e.ObjectId.ID()
	}
	c.displayErr = fmt.Errorf("%w: compositor reported error %d on object %d: %s",
		capturer.ErrProtocolViolation, e.Code, object, e.Message)
}

// roundtrip blocks until the compositor processed every request sent so far
func (c *Client) roundtrip() error {
	ctx := c.display.Context()

	callback, err := c.display.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync with compositor: %w", err)
	}
	defer ctx.Unregister(callback)

	done := false
	callback.SetDoneHandler(func(client.CallbackDoneEvent) {
		done = true
	})
	for !done {
		if err := ctx.Dispatch(); err != nil {
			return fmt.Errorf("failed to dispatch wayland events: %w", err)
		}
		if c.displayErr != nil {
			return c.displayErr
		}
	}
	return nil
}

func (c *Client) outputByID(id capturer.OutputID) (*output, error) {
	for _, o := range c.outputs {
		if capturer.OutputID(o.proxy.ID()) == id {
			return o, nil
		}
	}
	return nil, fmt.Errorf("unknown output %d", id)
}

// Outputs lists the bound outputs in announcement order
func (c *Client) Outputs() []capturer.OutputID {
	ids := make([]capturer.OutputID, 0, len(c.outputs))
	for _, o := range c.outputs {
		ids = append(ids, capturer.OutputID(o.proxy.ID()))
	}
	return ids
}

// Describe creates the xdg-output of output; its description arrives as a
// capturer.DescriptionEvent.
func (c *Client) Describe(id capturer.OutputID) error {
	o, err := c.outputByID(id)
	if err != nil {
		return err
	}
	if o.xdg != nil {
		return nil
	}

	xdg, err := c.xdgManager.GetXdgOutput(o.proxy)
	if err != nil {
		return fmt.Errorf("failed to get xdg-output: %w", err)
	}
	xdg.SetNameHandler(func(e xdgoutput.OutputNameEvent) {
		o.name = strings.Clone(e.Name)
	})
	xdg.SetDescriptionHandler(func(e xdgoutput.OutputDescriptionEvent) {
		// the decoded string aliases the connection's read buffer
		o.description = strings.Clone(e.Description)
		c.queue = append(c.queue, capturer.DescriptionEvent{Output: id, Description: o.description})
	})
	o.xdg = xdg
	return nil
}

// ListOutputs describes every output and waits for the answers
func (c *Client) ListOutputs() ([]OutputInfo, error) {
	for _, id := range c.Outputs() {
		if err := c.Describe(id); err != nil {
			return nil, err
		}
	}
	if err := c.roundtrip(); err != nil {
		return nil, err
	}
	c.queue = nil

	infos := make([]OutputInfo, 0, len(c.outputs))
	for _, o := range c.outputs {
		infos = append(infos, OutputInfo{
			ID:          capturer.OutputID(o.proxy.ID()),
			Name:        o.name,
			Description: o.description,
		})
	}
	return infos, nil
}

// CaptureOutput requests the next frame of output without the cursor
func (c *Client) CaptureOutput(id capturer.OutputID) (capturer.FrameID, error) {
	o, err := c.outputByID(id)
	if err != nil {
		return 0, err
	}

	f, err := c.exportManager.CaptureOutput(0, o.proxy)
	if err != nil {
		return 0, fmt.Errorf("failed to request frame: %w", err)
	}
	frameID := capturer.FrameID(f.ID())

	f.SetFrameHandler(func(e wlr.ExportDmabufFrameFrameEvent) {
		c.queue = append(c.queue, capturer.FrameEvent{
			Frame: frameID,
			Metadata: frame.Metadata{
				Width:      e.Width,
				Height:     e.Height,
				NumObjects: e.NumObjects,
				Format:     e.Format,
				Modifier:   e.Modifier(),
			},
		})
	})
	f.SetObjectHandler(func(e wlr.ExportDmabufFrameObjectEvent) {
		c.queue = append(c.queue, capturer.ObjectEvent{
			Frame: frameID,
			Plane: frame.Plane{
				Index:      e.Index,
				FD:         e.Fd,
				Size:       e.Size,
				Offset:     e.Offset,
				Stride:     e.Stride,
				PlaneIndex: e.PlaneIndex,
			},
		})
	})
	f.SetReadyHandler(func(wlr.ExportDmabufFrameReadyEvent) {
		c.queue = append(c.queue, capturer.ReadyEvent{Frame: frameID})
	})
	f.SetCancelHandler(func(e wlr.ExportDmabufFrameCancelEvent) {
		c.queue = append(c.queue, capturer.CancelEvent{Frame: frameID, Reason: capturer.CancelReason(e.Reason)})
	})

	c.frames[frameID] = f
	return frameID, nil
}

// DestroyFrame destroys a frame-export object
func (c *Client) DestroyFrame(id capturer.FrameID) error {
	f, ok := c.frames[id]
	if !ok {
		return nil
	}
	delete(c.frames, id)
	return f.Destroy()
}

// Dispatch reads and dispatches one batch of compositor messages and hands
// the resulting events to handle.
func (c *Client) Dispatch(handle func(capturer.Event) error) error {
	if len(c.queue) == 0 {
		if err := c.display.Context().Dispatch(); err != nil {
			return fmt.Errorf("failed to dispatch wayland events: %w", err)
		}
	}
	if c.displayErr != nil {
		c.discard(c.queue)
		c.queue = nil
		return c.displayErr
	}

	events := c.queue
	c.queue = nil
	for i, ev := range events {
		if err := handle(ev); err != nil {
			c.discard(events[i+1:])
			return err
		}
	}
	return nil
}

// discard closes descriptors of events that will never be handled
func (c *Client) discard(events []capturer.Event) {
	for _, ev := range events {
		if obj, ok := ev.(capturer.ObjectEvent); ok {
			obj.Plane.Close()
		}
	}
}

// Close closes the connection. It may be called from any goroutine to
// unblock Dispatch.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.display.Context().Close()
	})
	return c.closeErr
}
