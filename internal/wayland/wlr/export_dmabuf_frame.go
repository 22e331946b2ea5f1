package wlr

import (
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"golang.org/x/sys/unix"
)

// ExportDmabufFrame : a DMA-BUF frame
//
// This object represents a single DMA-BUF frame. Events are sent in the
// order frame, object (once per object), then ready or cancel.
type ExportDmabufFrame struct {
	client.BaseProxy
	frameHandler  ExportDmabufFrameFrameHandlerFunc
	objectHandler ExportDmabufFrameObjectHandlerFunc
	readyHandler  ExportDmabufFrameReadyHandlerFunc
	cancelHandler ExportDmabufFrameCancelHandlerFunc
}

// NewExportDmabufFrame : a DMA-BUF frame
func NewExportDmabufFrame(ctx *client.Context) *ExportDmabufFrame {
	f := &ExportDmabufFrame{}
	ctx.Register(f)
	return f
}

// Destroy : delete this object, used or not
//
// Unreferences the frame. Descriptors already received stay valid and are
// owned by the client.
func (i *ExportDmabufFrame) Destroy() error {
	defer i.Context().Unregister(i)
	const opcode = 0
	const reqBufLen = 8
	var reqBuf [reqBufLen]byte
	client.PutUint32(reqBuf[0:4], i.ID())
	client.PutUint32(reqBuf[4:8], uint32(reqBufLen<<16|opcode&0x0000ffff))
	return i.Context().WriteMsg(reqBuf[:], nil)
}

// ExportDmabufFrameFlags : frame flags
type ExportDmabufFrameFlags uint32

// ExportDmabufFrameFlagsTransient : clients should copy frame before processing
const ExportDmabufFrameFlagsTransient ExportDmabufFrameFlags = 1

// ExportDmabufFrameCancelReason : cancel reason
type ExportDmabufFrameCancelReason uint32

const (
	// ExportDmabufFrameCancelReasonTemporary : temporary error, source will produce more frames
	ExportDmabufFrameCancelReasonTemporary ExportDmabufFrameCancelReason = 0
	// ExportDmabufFrameCancelReasonPermanent : fatal error, source will not produce frames
	ExportDmabufFrameCancelReasonPermanent ExportDmabufFrameCancelReason = 1
	// ExportDmabufFrameCancelReasonResizing : temporary error, source will produce more frames
	ExportDmabufFrameCancelReasonResizing ExportDmabufFrameCancelReason = 2
)

// ExportDmabufFrameFrameEvent : a frame description
//
// Main event supplying the client with information about the frame.
type ExportDmabufFrameFrameEvent struct {
	Width       uint32
	Height      uint32
	OffsetX     uint32
	OffsetY     uint32
	BufferFlags uint32
	Flags       uint32
	Format      uint32
	ModHigh     uint32
	ModLow      uint32
	NumObjects  uint32
}

// Modifier joins the two halves of the format modifier
func (e ExportDmabufFrameFrameEvent) Modifier() uint64 {
	return uint64(e.ModHigh)<<32 | uint64(e.ModLow)
}

type ExportDmabufFrameFrameHandlerFunc func(ExportDmabufFrameFrameEvent)

// SetFrameHandler : sets handler for ExportDmabufFrameFrameEvent
func (i *ExportDmabufFrame) SetFrameHandler(f ExportDmabufFrameFrameHandlerFunc) {
	i.frameHandler = f
}

// ExportDmabufFrameObjectEvent : an object description
//
// Event which serves to supply the client with the file descriptors
// containing the data for each object.
type ExportDmabufFrameObjectEvent struct {
	Index      uint32
	Fd         int
	Size       uint32
	Offset     uint32
	Stride     uint32
	PlaneIndex uint32
}

type ExportDmabufFrameObjectHandlerFunc func(ExportDmabufFrameObjectEvent)

// SetObjectHandler : sets handler for ExportDmabufFrameObjectEvent
func (i *ExportDmabufFrame) SetObjectHandler(f ExportDmabufFrameObjectHandlerFunc) {
	i.objectHandler = f
}

// ExportDmabufFrameReadyEvent : indicates frame is available for reading
type ExportDmabufFrameReadyEvent struct {
	TvSecHi uint32
	TvSecLo uint32
	TvNsec  uint32
}

type ExportDmabufFrameReadyHandlerFunc func(ExportDmabufFrameReadyEvent)

// SetReadyHandler : sets handler for ExportDmabufFrameReadyEvent
func (i *ExportDmabufFrame) SetReadyHandler(f ExportDmabufFrameReadyHandlerFunc) {
	i.readyHandler = f
}

// ExportDmabufFrameCancelEvent : indicates the frame is no longer valid
type ExportDmabufFrameCancelEvent struct {
	Reason uint32
}

type ExportDmabufFrameCancelHandlerFunc func(ExportDmabufFrameCancelEvent)

// SetCancelHandler : sets handler for ExportDmabufFrameCancelEvent
func (i *ExportDmabufFrame) SetCancelHandler(f ExportDmabufFrameCancelHandlerFunc) {
	i.cancelHandler = f
}

func (i *ExportDmabufFrame) Dispatch(opcode uint16, fd int, data []byte) {
	switch opcode {
	case 0:
		if i.frameHandler == nil {
			return
		}
		var e ExportDmabufFrameFrameEvent
		l := 0
		e.Width = client.Uint32(data[l : l+4])
		l += 4
		e.Height = client.Uint32(data[l : l+4])
		l += 4
		e.OffsetX = client.Uint32(data[l : l+4])
		l += 4
		e.OffsetY = client.Uint32(data[l : l+4])
		l += 4
		e.BufferFlags = client.Uint32(data[l : l+4])
		l += 4
		e.Flags = client.Uint32(data[l : l+4])
		l += 4
		e.Format = client.Uint32(data[l : l+4])
		l += 4
		e.ModHigh = client.Uint32(data[l : l+4])
		l += 4
		e.ModLow = client.Uint32(data[l : l+4])
		l += 4
		e.NumObjects = client.Uint32(data[l : l+4])

		i.frameHandler(e)
	case 1:
		if i.objectHandler == nil {
			if fd >= 0 {
				unix.Close(fd)
			}
			return
		}
		var e ExportDmabufFrameObjectEvent
		l := 0
		e.Index = client.Uint32(data[l : l+4])
		l += 4
		e.Fd = fd
		e.Size = client.Uint32(data[l : l+4])
		l += 4
		e.Offset = client.Uint32(data[l : l+4])
		l += 4
		e.Stride = client.Uint32(data[l : l+4])
		l += 4
		e.PlaneIndex = client.Uint32(data[l : l+4])

		i.objectHandler(e)
	case 2:
		if i.readyHandler == nil {
			return
		}
		var e ExportDmabufFrameReadyEvent
		l := 0
		e.TvSecHi = client.Uint32(data[l : l+4])
		l += 4
		e.TvSecLo = client.Uint32(data[l : l+4])
		l += 4
		e.TvNsec = client.Uint32(data[l : l+4])

		i.readyHandler(e)
	case 3:
		if i.cancelHandler == nil {
			return
		}
		var e ExportDmabufFrameCancelEvent
		e.Reason = client.Uint32(data[0:4])

		i.cancelHandler(e)
	}
}
