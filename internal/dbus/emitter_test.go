package dbus

import (
	"testing"
	"time"

	"github.com/bryanchriswhite/lumad/internal/controller"
	godbus "github.com/godbus/dbus/v5"
)

func TestGetReturnsLatestReading(t *testing.T) {
	rec := controller.NewRecorder()
	rec.Adjust("eDP-1", 58)
	l := &luminance{recorder: rec}

	luma, derr := l.Get("eDP-1")
	if derr != nil || luma != 58 {
		t.Errorf("Get(eDP-1) = %d, %v; want 58", luma, derr)
	}
	if _, derr := l.Get("DP-3"); derr == nil {
		t.Error("Get of unknown output should fail")
	}
}

func TestChangedSignalOnSessionBus(t *testing.T) {
	emitterConn, err := godbus.ConnectSessionBus()
	if err != nil {
		t.Skipf("no session bus: %v", err)
	}
	e, err := newEmitter(emitterConn, controller.NewRecorder())
	if err != nil {
		emitterConn.Close()
		t.Skipf("cannot claim %s: %v", BusName, err)
	}
	defer e.Close()

	listener, err := godbus.ConnectSessionBus()
	if err != nil {
		t.Fatalf("listener connection: %v", err)
	}
	defer listener.Close()

	if err := listener.AddMatchSignal(
		godbus.WithMatchObjectPath(ObjectPath),
		godbus.WithMatchInterface(Interface),
	); err != nil {
		t.Fatalf("AddMatchSignal: %v", err)
	}
	signals := make(chan *godbus.Signal, 4)
	listener.Signal(signals)

	e.Adjust("eDP-1", 33)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case sig := <-signals:
			// the bus itself may send NameAcquired first
			if sig.Name != changedSignal {
				continue
			}
			if len(sig.Body) != 2 || sig.Body[0].(string) != "eDP-1" || sig.Body[1].(byte) != 33 {
				t.Errorf("signal body = %v", sig.Body)
			}
			return
		case <-timeout:
			t.Fatal("Changed signal not received")
		}
	}
}
