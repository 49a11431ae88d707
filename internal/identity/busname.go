package identity

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// BusCaller is the subset of a *dbus.Conn used to resolve a unique bus
// connection name to its owning pid/uid, via org.freedesktop.DBus. Abstracted
// so tests can substitute a fake bus.
type BusCaller interface {
	BusObject() dbus.BusObject
}

// connCaller adapts a *dbus.Conn to BusCaller.
type connCaller struct{ conn *dbus.Conn }

// NewBusCaller wraps a live connection for use with ResolveBusName.
func NewBusCaller(conn *dbus.Conn) BusCaller { return connCaller{conn} }

func (c connCaller) BusObject() dbus.BusObject { return c.conn.BusObject() }

// ResolveBusName asks the bus broker which pid, uid, and process start time
// own the unique connection name. Failure to reach the broker or resolve the
// name maps to spec §4.1's BrokerUnavailable/NoSuchSubject kinds.
func ResolveBusName(caller BusCaller, root string, name string) (Subject, error) {
	bus := caller.BusObject()

	var pid uint32
	if err := bus.Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, name).Store(&pid); err != nil {
		return Subject{}, resolveErr(name, err)
	}
	var uid uint32
	if err := bus.Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, name).Store(&uid); err != nil {
		return Subject{}, resolveErr(name, err)
	}

	startTime, err := ProcessStartTime(root, int32(pid))
	if err != nil {
		return Subject{}, err
	}

	return NewBusName(name, int32(pid), uid, startTime), nil
}

func resolveErr(name string, err error) error {
	if dbusErr, ok := err.(dbus.Error); ok {
		if dbusErr.Name == "org.freedesktop.DBus.Error.NameHasNoOwner" {
			return polkiterr.Wrap(polkiterr.KindNoSuchSubject,
				fmt.Sprintf(i18n.G("unknown bus name %q"), name), err)
		}
	}
	return polkiterr.Wrap(polkiterr.KindBrokerUnavailable,
		fmt.Sprintf(i18n.G("bus broker unreachable resolving %q"), name), err)
}
