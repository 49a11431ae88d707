package sessiontracker_test

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/sessiontracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionPath = dbus.ObjectPath("/org/freedesktop/login1/session/_31")

// fakeObject answers Call/GetProperty from fixed tables, standing in for a
// real logind D-Bus object.
type fakeObject struct {
	callResults map[string][]interface{}
	props       map[string]dbus.Variant
}

func (f fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	if method == "org.freedesktop.login1.Manager.GetSession" {
		if id, _ := args[0].(string); id != "31" {
			return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.login1.NoSuchSession"}}
		}
	}
	body, ok := f.callResults[method]
	if !ok {
		return &dbus.Call{Err: dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownMethod"}}
	}
	return &dbus.Call{Body: body}
}

func (f fakeObject) GetProperty(property string) (dbus.Variant, error) {
	v, ok := f.props[property]
	if !ok {
		return dbus.Variant{}, dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownProperty"}
	}
	return v, nil
}

type fakeCaller struct {
	manager  fakeObject
	sessions map[dbus.ObjectPath]fakeObject
}

func (f fakeCaller) Object(dest string, path dbus.ObjectPath) sessiontracker.Object {
	if path == "/org/freedesktop/login1" {
		return f.manager
	}
	return f.sessions[path]
}

func newFixture() fakeCaller {
	return fakeCaller{
		manager: fakeObject{
			callResults: map[string][]interface{}{
				"org.freedesktop.login1.Manager.GetSession":      {sessionPath},
				"org.freedesktop.login1.Manager.GetSessionByPID": {sessionPath},
			},
		},
		sessions: map[dbus.ObjectPath]fakeObject{
			sessionPath: {
				props: map[string]dbus.Variant{
					"org.freedesktop.login1.Session.Active": dbus.MakeVariant(true),
					"org.freedesktop.login1.Session.Remote": dbus.MakeVariant(false),
					"org.freedesktop.login1.Session.User":   dbus.MakeVariant([]interface{}{uint32(1000), dbus.ObjectPath("/org/freedesktop/login1/user/_1000")}),
					"org.freedesktop.login1.Session.Id":     dbus.MakeVariant("31"),
				},
			},
		},
	}
}

func TestStateForLiveActiveLocalSession(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	state, err := tr.StateFor(identity.NewUnixSession("31"))
	require.NoError(t, err)
	assert.True(t, state.Exists)
	assert.True(t, state.IsActive)
	assert.True(t, state.IsLocal)
}

func TestStateForRejectsNonSessionSubject(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	_, err := tr.StateFor(identity.NewBusName(":1.1", 1, 1000, 1))
	assert.Error(t, err)
}

func TestOwnerUIDDecodesUserProperty(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	uid, err := tr.OwnerUID(identity.NewUnixSession("31"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), uid)
}

func TestExistsReportsFalseForUnknownSession(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	assert.False(t, tr.Exists("no-such-session"))
}

func TestSessionIDForUnixSessionIsPassthrough(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	id, err := tr.SessionIDFor(identity.NewUnixSession("31"))
	require.NoError(t, err)
	assert.Equal(t, "31", id)
}

func TestSessionIDForResolvesByPID(t *testing.T) {
	tr := sessiontracker.New(newFixture())
	id, err := tr.SessionIDFor(identity.NewBusName(":1.1", 42, 1000, 1))
	require.NoError(t, err)
	assert.Equal(t, "31", id)
}
