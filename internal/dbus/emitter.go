// Package dbus publishes luminance readings on the session bus.
package dbus

import (
	"fmt"

	"github.com/bryanchriswhite/lumad/internal/controller"
	"github.com/bryanchriswhite/lumad/internal/logger"
	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"
)

// Session bus names
const (
	BusName    = "io.github.lumad"
	ObjectPath = godbus.ObjectPath("/io/github/lumad")
	Interface  = "io.github.lumad.Luminance"

	changedSignal = Interface + ".Changed"
)

const introspectXML = `
<node>
	<interface name="` + Interface + `">
		<method name="Get">
			<arg direction="in" type="s" name="output"/>
			<arg direction="out" type="y" name="luma"/>
		</method>
		<signal name="Changed">
			<arg type="s" name="output"/>
			<arg type="y" name="luma"/>
		</signal>
	</interface>` + introspect.IntrospectDeclarationString + `
</node>`

// Emitter owns the bus name, answers Get from the recorder and emits
// Changed for every reading passed to Adjust
type Emitter struct {
	conn *godbus.Conn
	log  *zerolog.Logger
}

// luminance is the exported object
type luminance struct {
	recorder *controller.Recorder
}

// Get returns the last reading of output
func (l *luminance) Get(output string) (byte, *godbus.Error) {
	reading, ok := l.recorder.Latest(output)
	if !ok {
		return 0, godbus.MakeFailedError(fmt.Errorf("no reading for output %q", output))
	}
	return reading.Luma, nil
}

// NewEmitter connects to the session bus and claims BusName
func NewEmitter(recorder *controller.Recorder) (*Emitter, error) {
	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	e, err := newEmitter(conn, recorder)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return e, nil
}

func newEmitter(conn *godbus.Conn, recorder *controller.Recorder) (*Emitter, error) {
	log := logger.WithComponent("dbus")

	if err := conn.Export(&luminance{recorder: recorder}, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", Interface, err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("failed to export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to request name %s: %w", BusName, err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", BusName)
	}

	log.Info().Str("name", BusName).Str("path", string(ObjectPath)).Msg("Publishing readings on session bus")
	return &Emitter{conn: conn, log: log}, nil
}

// Adjust emits the Changed signal
func (e *Emitter) Adjust(output string, luma uint8) {
	if err := e.conn.Emit(ObjectPath, changedSignal, output, luma); err != nil {
		e.log.Warn().Err(err).Str("output", output).Msg("Failed to emit signal")
	}
}

// Close releases the bus name and the connection
func (e *Emitter) Close() error {
	if _, err := e.conn.ReleaseName(BusName); err != nil {
		e.log.Debug().Err(err).Msg("Failed to release bus name")
	}
	return e.conn.Close()
}
