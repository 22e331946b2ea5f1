// Package wlr contains client bindings for the wlroots
// wlr-export-dmabuf-unstable-v1 protocol.
package wlr

import "github.com/rajveermalviya/go-wayland/wayland/client"

// ExportDmabufManagerInterfaceName is the global interface name
const ExportDmabufManagerInterfaceName = "zwlr_export_dmabuf_manager_v1"

// ExportDmabufManager : manager to inform clients and begin capturing
//
// This object is a manager with which to start capturing from sources.
type ExportDmabufManager struct {
	client.BaseProxy
}

// NewExportDmabufManager : manager to inform clients and begin capturing
func NewExportDmabufManager(ctx *client.Context) *ExportDmabufManager {
	m := &ExportDmabufManager{}
	ctx.Register(m)
	return m
}

// CaptureOutput : capture a frame from an output
//
// Capture the next frame of an entire output.
func (i *ExportDmabufManager) CaptureOutput(overlayCursor int32, output *client.Output) (*ExportDmabufFrame, error) {
	frame := NewExportDmabufFrame(i.Context())
	const opcode = 0
	const reqBufLen = 8 + 4 + 4 + 4
	var reqBuf [reqBufLen]byte
	l := 0
	client.PutUint32(reqBuf[l:4], i.ID())
	l += 4
	client.PutUint32(reqBuf[l:l+4], uint32(reqBufLen<<16|opcode&0x0000ffff))
	l += 4
	client.PutUint32(reqBuf[l:l+4], frame.ID())
	l += 4
	client.PutUint32(reqBuf[l:l+4], uint32(overlayCursor))
	l += 4
	client.PutUint32(reqBuf[l:l+4], output.ID())
	err := i.Context().WriteMsg(reqBuf[:], nil)
	return frame, err
}

// Destroy : destroy the manager
//
// All objects created by the manager will still remain valid, until their
// appropriate destroy request has been called.
func (i *ExportDmabufManager) Destroy() error {
	defer i.Context().Unregister(i)
	const opcode = 1
	const reqBufLen = 8
	var reqBuf [reqBufLen]byte
	client.PutUint32(reqBuf[0:4], i.ID())
	client.PutUint32(reqBuf[4:8], uint32(reqBufLen<<16|opcode&0x0000ffff))
	return i.Context().WriteMsg(reqBuf[:], nil)
}

// Dispatch is a no-op, the manager has no events
func (i *ExportDmabufManager) Dispatch(opcode uint16, fd int, data []byte) {}
