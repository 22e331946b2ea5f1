// Package xdgoutput contains client bindings for the
// xdg-output-unstable-v1 protocol.
package xdgoutput

import "github.com/rajveermalviya/go-wayland/wayland/client"

// OutputManagerInterfaceName is the global interface name
const OutputManagerInterfaceName = "zxdg_output_manager_v1"

// OutputManager : manage xdg_output objects
//
// A global factory interface for xdg_output objects.
type OutputManager struct {
	client.BaseProxy
}

// NewOutputManager : manage xdg_output objects
func NewOutputManager(ctx *client.Context) *OutputManager {
	m := &OutputManager{}
	ctx.Register(m)
	return m
}

// Destroy : destroy the xdg_output_manager object
func (i *OutputManager) Destroy() error {
	defer i.Context().Unregister(i)
	const opcode = 0
	const reqBufLen = 8
	var reqBuf [reqBufLen]byte
	client.PutUint32(reqBuf[0:4], i.ID())
	client.PutUint32(reqBuf[4:8], uint32(reqBufLen<<16|opcode&0x0000ffff))
	return i.Context().WriteMsg(reqBuf[:], nil)
}

// GetXdgOutput : create an xdg output from a wl_output
func (i *OutputManager) GetXdgOutput(output *client.Output) (*Output, error) {
	id := NewOutput(i.Context())
	const opcode = 1
	const reqBufLen = 8 + 4 + 4
	var reqBuf [reqBufLen]byte
	l := 0
	client.PutUint32(reqBuf[l:4], i.ID())
	l += 4
	client.PutUint32(reqBuf[l:l+4], uint32(reqBufLen<<16|opcode&0x0000ffff))
	l += 4
	client.PutUint32(reqBuf[l:l+4], id.ID())
	l += 4
	client.PutUint32(reqBuf[l:l+4], output.ID())
	err := i.Context().WriteMsg(reqBuf[:], nil)
	return id, err
}

// Dispatch is a no-op, the manager has no events
func (i *OutputManager) Dispatch(opcode uint16, fd int, data []byte) {}

// Output : compositor logical output region
type Output struct {
	client.BaseProxy
	logicalPositionHandler OutputLogicalPositionHandlerFunc
	logicalSizeHandler     OutputLogicalSizeHandlerFunc
	doneHandler            OutputDoneHandlerFunc
	nameHandler            OutputNameHandlerFunc
	descriptionHandler     OutputDescriptionHandlerFunc
}

// NewOutput : compositor logical output region
func NewOutput(ctx *client.Context) *Output {
	o := &Output{}
	ctx.Register(o)
	return o
}

// Destroy : destroy the xdg_output object
func (i *Output) Destroy() error {
	defer i.Context().Unregister(i)
	const opcode = 0
	const reqBufLen = 8
	var reqBuf [reqBufLen]byte
	client.PutUint32(reqBuf[0:4], i.ID())
	client.PutUint32(reqBuf[4:8], uint32(reqBufLen<<16|opcode&0x0000ffff))
	return i.Context().WriteMsg(reqBuf[:], nil)
}

// OutputLogicalPositionEvent : position of the output within the global compositor space
type OutputLogicalPositionEvent struct {
	X int32
	Y int32
}
type OutputLogicalPositionHandlerFunc func(OutputLogicalPositionEvent)

// SetLogicalPositionHandler : sets handler for OutputLogicalPositionEvent
func (i *Output) SetLogicalPositionHandler(f OutputLogicalPositionHandlerFunc) {
	i.logicalPositionHandler = f
}

// OutputLogicalSizeEvent : size of the output in the global compositor space
type OutputLogicalSizeEvent struct {
	Width  int32
	Height int32
}
type OutputLogicalSizeHandlerFunc func(OutputLogicalSizeEvent)

// SetLogicalSizeHandler : sets handler for OutputLogicalSizeEvent
func (i *Output) SetLogicalSizeHandler(f OutputLogicalSizeHandlerFunc) {
	i.logicalSizeHandler = f
}

// OutputDoneEvent : all information about the output have been sent
type OutputDoneEvent struct{}
type OutputDoneHandlerFunc func(OutputDoneEvent)

// SetDoneHandler : sets handler for OutputDoneEvent
func (i *Output) SetDoneHandler(f OutputDoneHandlerFunc) {
	i.doneHandler = f
}

// OutputNameEvent : name of this output
type OutputNameEvent struct {
	Name string
}
type OutputNameHandlerFunc func(OutputNameEvent)

// SetNameHandler : sets handler for OutputNameEvent
func (i *Output) SetNameHandler(f OutputNameHandlerFunc) {
	i.nameHandler = f
}

// OutputDescriptionEvent : human-readable description of this output
type OutputDescriptionEvent struct {
	Description string
}
type OutputDescriptionHandlerFunc func(OutputDescriptionEvent)

// SetDescriptionHandler : sets handler for OutputDescriptionEvent
func (i *Output) SetDescriptionHandler(f OutputDescriptionHandlerFunc) {
	i.descriptionHandler = f
}

func (i *Output) Dispatch(opcode uint16, fd int, data []byte) {
	switch opcode {
	case 0:
		if i.logicalPositionHandler == nil {
			return
		}
		var e OutputLogicalPositionEvent
		e.X = int32(client.Uint32(data[0:4]))
		e.Y = int32(client.Uint32(data[4:8]))

		i.logicalPositionHandler(e)
	case 1:
		if i.logicalSizeHandler == nil {
			return
		}
		var e OutputLogicalSizeEvent
		e.Width = int32(client.Uint32(data[0:4]))
		e.Height = int32(client.Uint32(data[4:8]))

		i.logicalSizeHandler(e)
	case 2:
		if i.doneHandler == nil {
			return
		}
		var e OutputDoneEvent

		i.doneHandler(e)
	case 3:
		if i.nameHandler == nil {
			return
		}
		var e OutputNameEvent
		l := 0
		nameLen := client.PaddedLen(int(client.Uint32(data[l : l+4])))
		l += 4
		e.Name = client.String(data[l : l+nameLen])

		i.nameHandler(e)
	case 4:
		if i.descriptionHandler == nil {
			return
		}
		var e OutputDescriptionEvent
		l := 0
		descriptionLen := client.PaddedLen(int(client.Uint32(data[l : l+4])))
		l += 4
		e.Description = client.String(data[l : l+descriptionLen])

		i.descriptionHandler(e)
	}
}
