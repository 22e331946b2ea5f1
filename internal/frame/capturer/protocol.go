package capturer

import (
	"fmt"

	"github.com/bryanchriswhite/lumad/internal/frame"
)

// OutputID identifies a display output object on the protocol connection
type OutputID uint32

// FrameID identifies one frame-export object
type FrameID uint32

// CancelReason is the compositor's reason for aborting a frame export
type CancelReason uint32

const (
	CancelTemporary CancelReason = 0
	CancelPermanent CancelReason = 1
	CancelResizing  CancelReason = 2
)

// Permanent reports whether the export can never succeed for this output
func (r CancelReason) Permanent() bool {
	return r == CancelPermanent
}

func (r CancelReason) String() string {
	switch r {
	case CancelTemporary:
		return "temporary"
	case CancelPermanent:
		return "permanent"
	case CancelResizing:
		return "resizing"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(r))
	}
}

// Event is delivered by Protocol.Dispatch
type Event interface {
	isEvent()
}

// DescriptionEvent carries the human-readable description of an output
type DescriptionEvent struct {
	Output      OutputID
	Description string
}

// FrameEvent carries the metadata of an exported frame
type FrameEvent struct {
	Frame FrameID
	frame.Metadata
}

// ObjectEvent delivers one dma-buf plane
type ObjectEvent struct {
	Frame FrameID
	frame.Plane
}

// ReadyEvent signals that every plane was delivered
type ReadyEvent struct {
	Frame FrameID
}

// CancelEvent aborts a frame export
type CancelEvent struct {
	Frame  FrameID
	Reason CancelReason
}

func (DescriptionEvent) isEvent() {}
func (FrameEvent) isEvent()       {}
func (ObjectEvent) isEvent()      {}
func (ReadyEvent) isEvent()       {}
func (CancelEvent) isEvent()      {}

// Protocol is the compositor connection as seen by the capture loop.
// All methods are called from the dispatch goroutine only, except Close.
type Protocol interface {
	// Outputs lists every known display output
	Outputs() []OutputID
	// Describe asks for the description of output; the answer arrives as a
	// DescriptionEvent
	Describe(output OutputID) error
	// CaptureOutput requests the export of the next frame of output
	CaptureOutput(output OutputID) (FrameID, error)
	// DestroyFrame releases a frame-export object
	DestroyFrame(frame FrameID) error
	// Dispatch blocks until events arrive and passes each to handle. It
	// stops at, and returns, the first error from handle.
	Dispatch(handle func(Event) error) error
	// Close shuts the connection down, unblocking Dispatch
	Close() error
}
