// Package authclient is the D-Bus client side of the Authority interface
// (spec §6): the thin wrapper cmd/pkcheck, cmd/pkexec, the privileged
// helper binaries and the reference text agent all call into instead of
// hand-rolling bus calls.
// It mirrors, wire-shape for wire-shape, the server-side structs
// internal/daemon/authority.go exports over the same interface.
package authclient

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
)

// Subject is the wire shape of a PolicyKit Subject, matching
// internal/daemon's dbusSubject.
type Subject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// Identity is the wire shape of a PolicyKit Identity.
type Identity struct {
	Kind    string
	Details map[string]dbus.Variant
}

// Result is CheckAuthorization's output.
type Result struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// ActionDescription is one row of EnumerateActions' output.
type ActionDescription struct {
	ActionID         string
	Description      string
	Message          string
	VendorName       string
	VendorURL        string
	IconName         string
	ImplicitAny      string
	ImplicitInactive string
	ImplicitActive   string
	Annotations      map[string]string
}

// TemporaryAuthorization is one row of EnumerateTemporaryAuthorizations'
// output: a non-permanent explicit authorization currently held by a subject.
type TemporaryAuthorization struct {
	ID          string
	ActionID    string
	Subject     Subject
	WhenGranted int64
	WhenExpires int64
}

// AllowInteraction is CheckAuthorization's one defined flag bit.
const AllowInteraction = 0x01

// Client calls the Authority interface over an already-connected system bus.
type Client struct {
	obj dbus.BusObject
}

// New wraps conn for calls against the well-known Authority object.
func New(conn *dbus.Conn) *Client {
	return &Client{obj: conn.Object(config.BusName, config.BusObjectPath)}
}

// Checker adapts a Client to helper.AuthorizationChecker, the seam the
// grant and read helpers gate their privileged operations behind: both
// helpers only ever resolve their own process as the caller subject, since
// each is invoked as a direct child of the real unprivileged caller.
type Checker struct{ Client *Client }

// IsAuthorized implements helper.AuthorizationChecker by translating an
// identity.Subject into the wire Subject CheckAuthorization expects.
func (c Checker) IsAuthorized(subject identity.Subject, actionID string, details map[string]string) (bool, error) {
	if subject.Kind() != identity.SubjectUnixProcess {
		return false, fmt.Errorf(i18n.G("helper only resolves its own process as caller subject"))
	}
	wireSubject, err := SubjectForPID(subject.PID(), subject.UID())
	if err != nil {
		return false, err
	}
	result, err := c.Client.CheckAuthorization(wireSubject, actionID, details, 0)
	if err != nil {
		return false, err
	}
	return result.IsAuthorized, nil
}

// SubjectForPID builds the wire Subject for the process named by pid,
// resolving its start-time fingerprint the same way the daemon would
// independently re-derive it from /proc.
func SubjectForPID(pid int32, uid uint32) (Subject, error) {
	startTime, err := identity.ProcessStartTime("/", pid)
	if err != nil {
		return Subject{}, err
	}
	return Subject{Kind: "unix-process", Details: map[string]dbus.Variant{
		"pid":        dbus.MakeVariant(uint32(pid)),
		"start-time": dbus.MakeVariant(startTime),
		"uid":        dbus.MakeVariant(uid),
	}}, nil
}

// SubjectForSelf is SubjectForPID for the calling process.
func SubjectForSelf() (Subject, error) {
	return SubjectForPID(int32(os.Getpid()), uint32(os.Getuid()))
}

func (c *Client) call(method string, out interface{}, args ...interface{}) error {
	call := c.obj.Call(config.AuthorityInterface+"."+method, 0, args...)
	if call.Err != nil {
		return call.Err
	}
	if out == nil {
		return nil
	}
	return call.Store(out)
}

// CheckAuthorization asks whether subject may carry out actionID.
func (c *Client) CheckAuthorization(subject Subject, actionID string, details map[string]string, flags uint32) (Result, error) {
	var result Result
	err := c.call("CheckAuthorization", &result, subject, actionID, details, flags, "")
	return result, err
}

// EnumerateActions lists every action descriptor known to the daemon.
func (c *Client) EnumerateActions(locale string) ([]ActionDescription, error) {
	var out []ActionDescription
	err := c.call("EnumerateActions", &out, locale)
	return out, err
}

// RegisterAuthenticationAgent registers the caller as the agent responsible
// for subject's session.
func (c *Client) RegisterAuthenticationAgent(subject Subject, locale string, objectPath dbus.ObjectPath) error {
	return c.call("RegisterAuthenticationAgent", nil, subject, locale, objectPath)
}

// UnregisterAuthenticationAgent removes a prior registration.
func (c *Client) UnregisterAuthenticationAgent(subject Subject, objectPath dbus.ObjectPath) error {
	return c.call("UnregisterAuthenticationAgent", nil, subject, objectPath)
}

// AuthenticationAgentResponse reports an authentication outcome for cookie.
func (c *Client) AuthenticationAgentResponse(cookie string, authenticated Identity) error {
	return c.call("AuthenticationAgentResponse", nil, cookie, authenticated)
}

// EnumerateTemporaryAuthorizations lists subject's non-permanent explicit
// authorizations still in force, as the daemon reads them from the on-disk
// store, filtered to the records that are currently relevant.
func (c *Client) EnumerateTemporaryAuthorizations(subject Subject) ([]TemporaryAuthorization, error) {
	var out []TemporaryAuthorization
	err := c.call("EnumerateTemporaryAuthorizations", &out, subject)
	return out, err
}

// RevokeTemporaryAuthorizations drops every non-permanent explicit
// authorization held by subject.
func (c *Client) RevokeTemporaryAuthorizations(subject Subject) error {
	return c.call("RevokeTemporaryAuthorizations", nil, subject)
}

// IdentityForUID builds the wire Identity for a unix-user.
func IdentityForUID(uid uint32) Identity {
	return Identity{Kind: "unix-user", Details: map[string]dbus.Variant{"uid": dbus.MakeVariant(uid)}}
}

// ErrorKind extracts the org.freedesktop.PolicyKit1.Error.<Kind> suffix
// from a bus error returned by any call above, for callers that want to
// branch on it the way internal/polkiterr.Kind values do daemon-side.
func ErrorKind(err error) string {
	dbusErr, ok := err.(dbus.Error)
	if !ok {
		return ""
	}
	const prefix = "org.freedesktop.PolicyKit1.Error."
	if len(dbusErr.Name) <= len(prefix) || dbusErr.Name[:len(prefix)] != prefix {
		return ""
	}
	return dbusErr.Name[len(prefix):]
}

// ErrorMessage is a small convenience over the bus error's body, which is
// always a single translated string (spec §7).
func ErrorMessage(err error) string {
	dbusErr, ok := err.(dbus.Error)
	if !ok || len(dbusErr.Body) == 0 {
		return err.Error()
	}
	msg, ok := dbusErr.Body[0].(string)
	if !ok {
		return err.Error()
	}
	return fmt.Sprintf(i18n.G("%s"), msg)
}
