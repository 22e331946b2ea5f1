package wlr

import (
	"testing"

	"github.com/rajveermalviya/go-wayland/wayland/client"
)

func words(vals ...uint32) []byte {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		client.PutUint32(data[4*i:4*i+4], v)
	}
	return data
}

func TestFrameEventDecoding(t *testing.T) {
	f := &ExportDmabufFrame{}
	var got ExportDmabufFrameFrameEvent
	f.SetFrameHandler(func(e ExportDmabufFrameFrameEvent) { got = e })

	f.Dispatch(0, -1, words(1920, 1080, 0, 0, 0, 1, 0x34325258, 0x00ffffff, 0xffffffff, 1))

	if got.Width != 1920 || got.Height != 1080 || got.NumObjects != 1 {
		t.Errorf("event = %+v", got)
	}
	if got.Format != 0x34325258 {
		t.Errorf("Format = %#x, want XR24", got.Format)
	}
	if got.Modifier() != 0x00ffffffffffffff {
		t.Errorf("Modifier = %#x", got.Modifier())
	}
}

func TestObjectEventCarriesDescriptor(t *testing.T) {
	f := &ExportDmabufFrame{}
	var got ExportDmabufFrameObjectEvent
	f.SetObjectHandler(func(e ExportDmabufFrameObjectEvent) { got = e })

	f.Dispatch(1, 17, words(0, 8294400, 0, 7680, 0))

	want := ExportDmabufFrameObjectEvent{Index: 0, Fd: 17, Size: 8294400, Offset: 0, Stride: 7680, PlaneIndex: 0}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestCancelAndReadyDecoding(t *testing.T) {
	f := &ExportDmabufFrame{}
	var reason uint32 = 99
	var ready bool
	f.SetCancelHandler(func(e ExportDmabufFrameCancelEvent) { reason = e.Reason })
	f.SetReadyHandler(func(ExportDmabufFrameReadyEvent) { ready = true })

	f.Dispatch(3, -1, words(uint32(ExportDmabufFrameCancelReasonResizing)))
	f.Dispatch(2, -1, words(0, 1700000000, 500))

	if reason != uint32(ExportDmabufFrameCancelReasonResizing) {
		t.Errorf("reason = %d, want resizing", reason)
	}
	if !ready {
		t.Error("ready handler not called")
	}
}
