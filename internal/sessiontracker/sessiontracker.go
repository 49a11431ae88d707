// Package sessiontracker implements the session tracker collaborator spec
// §1 names as out of scope: the adapter resolving a subject's session
// liveness, locality, activity and owning uid against the host session
// manager. The default implementation talks to logind over D-Bus, the same
// broker the rest of this module already assumes for bus-name resolution.
package sessiontracker

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

const (
	logindDest         = "org.freedesktop.login1"
	logindManagerPath  = dbus.ObjectPath("/org/freedesktop/login1")
	logindManagerIface = "org.freedesktop.login1.Manager"
	logindSessionIface = "org.freedesktop.login1.Session"
)

// Object is the subset of a logind D-Bus object this package needs,
// abstracted the same way identity.BusCaller abstracts the system bus
// broker, so tests never need a real bus connection.
type Object interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
	GetProperty(property string) (dbus.Variant, error)
}

// Caller resolves a D-Bus destination+path to an Object. *dbus.Conn
// satisfies this through its own Object method.
type Caller interface {
	Object(dest string, path dbus.ObjectPath) Object
}

// connCaller adapts a *dbus.Conn to Caller.
type connCaller struct{ conn *dbus.Conn }

// NewCaller wraps a live system bus connection for use with New.
func NewCaller(conn *dbus.Conn) Caller { return connCaller{conn} }

func (c connCaller) Object(dest string, path dbus.ObjectPath) Object {
	return c.conn.Object(dest, path)
}

// Tracker implements decision.SessionTracker, authsession.SessionStater and
// authsession.SessionResolver against logind.
type Tracker struct {
	Caller Caller
}

// New returns a logind-backed Tracker.
func New(caller Caller) *Tracker { return &Tracker{Caller: caller} }

func (t *Tracker) manager() Object {
	return t.Caller.Object(logindDest, logindManagerPath)
}

func (t *Tracker) sessionObjectByID(sessionID string) (Object, error) {
	var path dbus.ObjectPath
	if err := t.manager().Call(logindManagerIface+".GetSession", 0, sessionID).Store(&path); err != nil {
		return nil, polkiterr.Wrap(polkiterr.KindNoSuchSubject, fmt.Sprintf(i18n.G("no such session %q"), sessionID), err)
	}
	return t.Caller.Object(logindDest, path), nil
}

func sessionProperty(obj Object, name string) (dbus.Variant, error) {
	return obj.GetProperty(logindSessionIface + "." + name)
}

// StateFor resolves subject's session liveness/locality/activity (spec
// §4.1, §4.5). subject must be a unix-session subject; the daemon facade
// resolves unix-process/bus-name subjects to a session via SessionIDFor
// before consulting this method where a constraint needs one.
func (t *Tracker) StateFor(subject identity.Subject) (authstore.SessionState, error) {
	sessionID, err := requireSessionID(subject)
	if err != nil {
		return authstore.SessionState{}, err
	}

	obj, err := t.sessionObjectByID(sessionID)
	if err != nil {
		// The session no longer exists: that is itself a meaningful answer,
		// not a broker fault.
		return authstore.SessionState{Exists: false}, nil
	}

	active, err := sessionProperty(obj, "Active")
	if err != nil {
		return authstore.SessionState{}, polkiterr.Wrap(polkiterr.KindBrokerUnavailable, i18n.G("reading session Active property"), err)
	}
	remote, err := sessionProperty(obj, "Remote")
	if err != nil {
		return authstore.SessionState{}, polkiterr.Wrap(polkiterr.KindBrokerUnavailable, i18n.G("reading session Remote property"), err)
	}

	isActive, _ := active.Value().(bool)
	isRemote, _ := remote.Value().(bool)
	return authstore.SessionState{Exists: true, IsLocal: !isRemote, IsActive: isActive}, nil
}

// OwnerUID resolves the uid owning a unix-session subject (decision.SessionTracker).
func (t *Tracker) OwnerUID(subject identity.Subject) (uint32, error) {
	sessionID, err := requireSessionID(subject)
	if err != nil {
		return 0, err
	}
	obj, err := t.sessionObjectByID(sessionID)
	if err != nil {
		return 0, err
	}
	user, err := sessionProperty(obj, "User")
	if err != nil {
		return 0, polkiterr.Wrap(polkiterr.KindBrokerUnavailable, i18n.G("reading session User property"), err)
	}
	uid, ok := decodeSessionUser(user)
	if !ok {
		return 0, polkiterr.New(polkiterr.KindInternal, i18n.G("unexpected shape for session User property"))
	}
	return uid, nil
}

// decodeSessionUser unpacks logind's "(uo)" User property: a uid plus the
// /org/freedesktop/login1/user/_<uid> object path, decoded by godbus as a
// two-element slice.
func decodeSessionUser(v dbus.Variant) (uint32, bool) {
	parts, ok := v.Value().([]interface{})
	if !ok || len(parts) != 2 {
		return 0, false
	}
	uid, ok := parts[0].(uint32)
	return uid, ok
}

// Exists satisfies authstore.SessionExistsFunc.
func (t *Tracker) Exists(sessionID string) bool {
	_, err := t.sessionObjectByID(sessionID)
	return err == nil
}

// SessionIDFor resolves the session id owning subject (authsession.SessionResolver).
// A unix-session subject already carries one; a unix-process/bus-name
// subject is resolved against logind by pid.
func (t *Tracker) SessionIDFor(subject identity.Subject) (string, error) {
	if subject.Kind() == identity.SubjectUnixSession {
		return subject.SessionID(), nil
	}

	var path dbus.ObjectPath
	if err := t.manager().Call(logindManagerIface+".GetSessionByPID", 0, uint32(subject.PID())).Store(&path); err != nil {
		return "", polkiterr.Wrap(polkiterr.KindNoSuchSubject, fmt.Sprintf(i18n.G("no logind session for pid %d"), subject.PID()), err)
	}
	obj := t.Caller.Object(logindDest, path)
	id, err := sessionProperty(obj, "Id")
	if err != nil {
		return "", polkiterr.Wrap(polkiterr.KindBrokerUnavailable, i18n.G("reading session Id property"), err)
	}
	sessionID, ok := id.Value().(string)
	if !ok {
		return "", polkiterr.New(polkiterr.KindInternal, i18n.G("unexpected shape for session Id property"))
	}
	return sessionID, nil
}

func requireSessionID(subject identity.Subject) (string, error) {
	if subject.Kind() != identity.SubjectUnixSession {
		return "", polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("subject is not a unix-session"))
	}
	return subject.SessionID(), nil
}
