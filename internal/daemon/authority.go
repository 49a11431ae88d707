package daemon

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"google.golang.org/grpc/status"

	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// checkAllowInteraction mirrors the real polkit CheckAuthorizationFlags
// bitmask's only defined bit (spec §6): when set, the engine may start an
// authentication session instead of failing closed on a would-be challenge.
const checkAllowInteraction = 0x01

// dbusSubject is the wire shape of a PolicyKit Subject: a discriminant plus
// a kind-specific detail dictionary (spec §6 "(sa{sv})"), the same shape
// every polkit client and polkit-aware service on the bus already expects.
type dbusSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

// dbusIdentity is the wire shape of a PolicyKit Identity: only unix-user
// identities cross the wire here, since only a unix-user can authenticate.
type dbusIdentity struct {
	Kind    string
	Details map[string]dbus.Variant
}

// dbusAuthorizationResult is CheckAuthorization's output struct.
type dbusAuthorizationResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// dbusActionDescription is one row of EnumerateActions' output. The three
// Implicit* fields carry the action.ImplicitAuthorization string value
// rather than the reference implementation's numeric enum: nothing else on
// this bus needs bit-for-bit wire compatibility with upstream polkit, and a
// self-describing string is friendlier to inspect with busctl.
type dbusActionDescription struct {
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

// dbusTemporaryAuthorization is one row of EnumerateTemporaryAuthorizations'
// output.
type dbusTemporaryAuthorization struct {
	ID          string
	ActionID    string
	Subject     dbusSubject
	WhenGranted int64
	WhenExpires int64
}

func subjectToDBus(s identity.Subject) dbusSubject {
	switch s.Kind() {
	case identity.SubjectUnixProcess:
		return dbusSubject{Kind: "unix-process", Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(s.PID())),
			"start-time": dbus.MakeVariant(s.StartTime()),
			"uid":        dbus.MakeVariant(s.UID()),
		}}
	case identity.SubjectBusName:
		return dbusSubject{Kind: "system-bus-name", Details: map[string]dbus.Variant{
			"name": dbus.MakeVariant(s.BusName()),
		}}
	case identity.SubjectUnixSession:
		return dbusSubject{Kind: "unix-session", Details: map[string]dbus.Variant{
			"session-id": dbus.MakeVariant(s.SessionID()),
		}}
	default:
		return dbusSubject{}
	}
}

func subjectFromDBus(s dbusSubject, root string, conn *dbus.Conn) (identity.Subject, error) {
	switch s.Kind {
	case "unix-process":
		pid, _ := s.Details["pid"].Value().(uint32)
		uid := int64(-1)
		if v, ok := s.Details["uid"]; ok {
			if n, ok := v.Value().(uint32); ok {
				uid = int64(n)
			}
		}
		return identity.NewUnixProcess(root, int32(pid), uid)
	case "system-bus-name":
		name, _ := s.Details["name"].Value().(string)
		return identity.ResolveBusName(identity.NewBusCaller(conn), root, name)
	case "unix-session":
		id, _ := s.Details["session-id"].Value().(string)
		return identity.NewUnixSession(id), nil
	default:
		return identity.Subject{}, polkiterr.New(polkiterr.KindInvalidRequest,
			fmt.Sprintf(i18n.G("unknown subject kind %q"), s.Kind))
	}
}

func identityFromDBus(id dbusIdentity) (identity.Identity, error) {
	if id.Kind != "unix-user" {
		return identity.Identity{}, polkiterr.New(polkiterr.KindInvalidRequest,
			fmt.Sprintf(i18n.G("unknown identity kind %q"), id.Kind))
	}
	uid, ok := id.Details["uid"].Value().(uint32)
	if !ok {
		return identity.Identity{}, polkiterr.New(polkiterr.KindInvalidRequest, i18n.G("unix-user identity missing uid"))
	}
	return identity.NewUnixUser(fmt.Sprintf("%d", uid)), nil
}

// dbusErr maps an authorization-core error to a D-Bus error, keyed by Kind
// so a well-behaved client can distinguish "not authorized" from "broker
// unavailable" without parsing the message text (spec §7). It goes through
// polkiterr.Error's GRPCStatus so the same structured status+errdetails
// representation backs both this bus-facing mapping and any future
// transport, rather than duplicating Kind-to-message logic per transport.
func dbusErr(err error) *dbus.Error {
	st, _ := status.FromError(err)
	return &dbus.Error{
		Name: "org.freedesktop.PolicyKit1.Error." + polkiterr.KindOf(err).String(),
		Body: []interface{}{st.Message()},
	}
}

// requireMetaAuthForOtherUID enforces the spec §4.3/§6 rule that reading or
// revoking another uid's authorizations needs actionID, while a caller
// acting on their own uid never does.
func (s *Server) requireMetaAuthForOtherUID(caller identity.Subject, targetUID uint32, actionID string) *dbus.Error {
	callerUID, err := s.Engine.OwnerUID(caller)
	if err != nil {
		return dbusErr(err)
	}
	if callerUID == targetUID {
		return nil
	}
	authorized, err := s.Engine.IsAuthorized(caller, actionID, nil)
	if err != nil {
		return dbusErr(err)
	}
	if !authorized {
		return dbusErr(polkiterr.New(polkiterr.KindNotAuthorized,
			fmt.Sprintf(i18n.G("%s is required to act on another identity's authorizations"), actionID)))
	}
	return nil
}

// CheckAuthorization implements the Authority interface's central decision
// call (spec §4.5).
func (s *Server) CheckAuthorization(subject dbusSubject, actionID string, details map[string]string, flags uint32, cancellationID string) (dbusAuthorizationResult, *dbus.Error) {
	done := s.TrackRequest()
	defer done()

	subj, err := subjectFromDBus(subject, s.root, s.conn)
	if err != nil {
		return dbusAuthorizationResult{}, dbusErr(err)
	}

	result, err := s.Engine.Check(subj, actionID, details, flags&checkAllowInteraction != 0)
	if err != nil {
		return dbusAuthorizationResult{}, dbusErr(err)
	}
	return dbusAuthorizationResult{IsAuthorized: result.IsAuthorized, IsChallenge: result.IsChallenge, Details: result.Details}, nil
}

// RegisterAuthenticationAgent binds the calling bus name and object path as
// the agent responsible for subject's session (spec §4.6). sender is
// supplied by godbus from the message header, never the wire arguments.
func (s *Server) RegisterAuthenticationAgent(subject dbusSubject, locale string, objectPath dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	subj, err := subjectFromDBus(subject, s.root, s.conn)
	if err != nil {
		return dbusErr(err)
	}
	sessionID, err := s.Tracker.SessionIDFor(subj)
	if err != nil {
		return dbusErr(err)
	}
	s.agents.register(sessionID, string(sender), objectPath, locale)
	return nil
}

// UnregisterAuthenticationAgent removes a prior registration.
func (s *Server) UnregisterAuthenticationAgent(subject dbusSubject, objectPath dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	subj, err := subjectFromDBus(subject, s.root, s.conn)
	if err != nil {
		return dbusErr(err)
	}
	sessionID, err := s.Tracker.SessionIDFor(subj)
	if err != nil {
		return dbusErr(err)
	}
	s.agents.unregister(sessionID, string(sender))
	return nil
}

// AuthenticationAgentResponse reports a registered agent's authentication
// outcome back to the session manager (spec §4.6, §4.7). The bus method has
// no empty-conversation argument, so this always passes false: the one-step
// scope downgrade authsession applies after a PAM conversation with no
// visible prompts is not applied to responses arriving here, including the
// ones polkitd-agent-helper sends.
func (s *Server) AuthenticationAgentResponse(cookie string, authIdentity dbusIdentity, sender dbus.Sender) *dbus.Error {
	id, err := identityFromDBus(authIdentity)
	if err != nil {
		return dbusErr(err)
	}
	if err := s.Sessions.AuthenticationAgentResponse(cookie, id, false); err != nil {
		return dbusErr(err)
	}
	return nil
}

// EnumerateActions lists every loaded action descriptor (spec §4.2).
func (s *Server) EnumerateActions(locale string) ([]dbusActionDescription, *dbus.Error) {
	done := s.TrackRequest()
	defer done()

	descs := s.Engine.Actions()
	out := make([]dbusActionDescription, 0, len(descs))
	for _, d := range descs {
		out = append(out, dbusActionDescription{
			ActionID:         d.ID,
			Description:      d.Description,
			Message:          d.Message,
			VendorName:       d.Vendor,
			VendorURL:        d.VendorURL,
			IconName:         d.Icon,
			ImplicitAny:      string(d.Any),
			ImplicitInactive: string(d.Inactive),
			ImplicitActive:   string(d.Active),
			Annotations:      d.Annotations,
		})
	}
	return out, nil
}

// EnumerateTemporaryAuthorizations lists subject's non-permanent explicit
// authorizations (spec §4.3), gated by freedesktop.policykit.read when the
// caller asks about a uid other than its own.
func (s *Server) EnumerateTemporaryAuthorizations(subject dbusSubject, sender dbus.Sender) ([]dbusTemporaryAuthorization, *dbus.Error) {
	done := s.TrackRequest()
	defer done()

	caller, err := s.resolveSender(sender)
	if err != nil {
		return nil, dbusErr(err)
	}
	subj, err := subjectFromDBus(subject, s.root, s.conn)
	if err != nil {
		return nil, dbusErr(err)
	}
	targetUID, err := s.Engine.OwnerUID(subj)
	if err != nil {
		return nil, dbusErr(err)
	}
	if gateErr := s.requireMetaAuthForOtherUID(caller, targetUID, config.ActionRead); gateErr != nil {
		return nil, gateErr
	}

	var out []dbusTemporaryAuthorization
	err = s.Store.ForeachForUID(targetUID, func(r authstore.Record) bool {
		if r.Scope == authstore.ScopeAlways {
			return true
		}
		out = append(out, dbusTemporaryAuthorization{
			ID:          fmt.Sprintf("%s-%d", r.ActionID, r.WhenGranted),
			ActionID:    r.ActionID,
			Subject:     subject,
			WhenGranted: r.WhenGranted,
		})
		return true
	})
	if err != nil {
		return nil, dbusErr(err)
	}
	return out, nil
}

// RevokeTemporaryAuthorizations drops every non-permanent explicit
// authorization belonging to subject (spec §4.3), gated the same way as
// EnumerateTemporaryAuthorizations but against freedesktop.policykit.revoke.
func (s *Server) RevokeTemporaryAuthorizations(subject dbusSubject, sender dbus.Sender) *dbus.Error {
	done := s.TrackRequest()
	defer done()

	caller, err := s.resolveSender(sender)
	if err != nil {
		return dbusErr(err)
	}
	subj, err := subjectFromDBus(subject, s.root, s.conn)
	if err != nil {
		return dbusErr(err)
	}
	targetUID, err := s.Engine.OwnerUID(subj)
	if err != nil {
		return dbusErr(err)
	}
	if gateErr := s.requireMetaAuthForOtherUID(caller, targetUID, config.ActionRevoke); gateErr != nil {
		return gateErr
	}

	var toRevoke []authstore.Record
	err = s.Store.ForeachForUID(targetUID, func(r authstore.Record) bool {
		if r.Scope != authstore.ScopeAlways {
			toRevoke = append(toRevoke, r)
		}
		return true
	})
	if err != nil {
		return dbusErr(err)
	}
	for _, r := range toRevoke {
		if err := s.Store.Revoke(targetUID, r); err != nil {
			return dbusErr(err)
		}
	}
	return nil
}
