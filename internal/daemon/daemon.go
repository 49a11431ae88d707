// Package daemon wires the authorization decision engine, the
// authentication session manager and the explicit authorization store
// together behind the org.freedesktop.PolicyKit1.Authority D-Bus interface
// (spec §6), and owns the idle-exit lifecycle of the on-demand daemon
// process.
package daemon

import (
	"context"
	"fmt"
	"time"

	sysddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/polkit-go/polkitd/internal/authsession"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/decision"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/sessiontracker"
)

// Server exports the Authority interface on the system bus and ties the
// decision engine to the session tracker and the registered authentication
// agents.
type Server struct {
	Engine   *decision.Engine
	Sessions *authsession.Manager
	Store    *authstore.Store
	Tracker  *sessiontracker.Tracker

	conn   *dbus.Conn
	root   string // filesystem root for process-subject resolution; "/" in production
	agents *agentRegistry

	idlerTimeout idler
}

// IdleTimeout overrides the default idle-exit timeout.
func IdleTimeout(timeout time.Duration) func(s *Server) error {
	return func(s *Server) error {
		s.idlerTimeout = newIdler(timeout)
		return nil
	}
}

// authorityIntrospectionXML describes the exported Authority methods so
// generic D-Bus introspection tools (busctl, d-feet) can discover them; the
// method dispatch itself goes through reflection over Server's exported
// methods regardless of this XML.
const authorityIntrospectionXML = `
<interface name="` + config.AuthorityInterface + `">
	<method name="CheckAuthorization">
		<arg name="subject" type="(sa{sv})" direction="in"/>
		<arg name="action_id" type="s" direction="in"/>
		<arg name="details" type="a{ss}" direction="in"/>
		<arg name="flags" type="u" direction="in"/>
		<arg name="cancellation_id" type="s" direction="in"/>
		<arg name="result" type="(bba{ss})" direction="out"/>
	</method>
	<method name="RegisterAuthenticationAgent">
		<arg name="subject" type="(sa{sv})" direction="in"/>
		<arg name="locale" type="s" direction="in"/>
		<arg name="object_path" type="o" direction="in"/>
	</method>
	<method name="UnregisterAuthenticationAgent">
		<arg name="subject" type="(sa{sv})" direction="in"/>
		<arg name="object_path" type="o" direction="in"/>
	</method>
	<method name="AuthenticationAgentResponse">
		<arg name="cookie" type="s" direction="in"/>
		<arg name="identity" type="(sa{sv})" direction="in"/>
	</method>
	<method name="EnumerateActions">
		<arg name="locale" type="s" direction="in"/>
		<arg name="actions" type="a(sssssssssa{ss})" direction="out"/>
	</method>
	<method name="EnumerateTemporaryAuthorizations">
		<arg name="subject" type="(sa{sv})" direction="in"/>
		<arg name="authorizations" type="a(ssx(sa{sv})x)" direction="out"/>
	</method>
	<method name="RevokeTemporaryAuthorizations">
		<arg name="subject" type="(sa{sv})" direction="in"/>
	</method>
</interface>`

// New builds the Authority facade around an already-connected system bus,
// requests the well-known Authority bus name and exports the object.
//
// sessions may be nil at construction time: authsession.NewManager itself
// needs a *Server as its AgentNotifier, so the caller wiring them together
// (cmd/polkitd) necessarily builds the Server first and must call
// SetSessions once the manager exists, before traffic starts arriving.
func New(conn *dbus.Conn, engine *decision.Engine, sessions *authsession.Manager, store *authstore.Store, tracker *sessiontracker.Tracker, options ...func(s *Server) error) (*Server, error) {
	s := &Server{
		Engine:   engine,
		Sessions: sessions,
		Store:    store,
		Tracker:  tracker,

		conn:   conn,
		root:   "/",
		agents: newAgentRegistry(),

		idlerTimeout: newIdler(config.DefaultServerIdleTimeout),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			log.Warningf(context.Background(), i18n.G("couldn't apply option to server: %v"), err)
		}
	}

	if err := conn.Export(s, config.BusObjectPath, config.AuthorityInterface); err != nil {
		return nil, fmt.Errorf(i18n.G("couldn't export Authority interface: %w"), err)
	}
	intro := "<node>" + authorityIntrospectionXML + introspect.IntrospectDataString + "</node>"
	if err := conn.Export(introspect.Introspectable(intro), config.BusObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf(i18n.G("couldn't export introspection data: %w"), err)
	}

	reply, err := conn.RequestName(config.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf(i18n.G("couldn't request bus name %q: %w"), config.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf(i18n.G("bus name %q is already owned"), config.BusName)
	}

	go s.idlerTimeout.start(s)

	return s, nil
}

// Listen blocks until ctx is cancelled, signalling systemd readiness first.
func (s *Server) Listen(ctx context.Context) error {
	log.Infof(context.Background(), i18n.G("serving %s on the system bus"), config.BusName)

	if sent, err := sysddaemon.SdNotify(false, "READY=1"); err != nil {
		return fmt.Errorf(i18n.G("couldn't send ready notification to systemd: %w"), err)
	} else if sent {
		log.Debug(context.Background(), i18n.G("ready state sent to systemd"))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Stop closes the bus connection, which implicitly releases the Authority
// bus name.
func (s *Server) Stop() {
	log.Debug(context.Background(), i18n.G("stopping daemon requested"))
	if err := s.conn.Close(); err != nil {
		log.Warningf(context.Background(), i18n.G("couldn't close bus connection: %v"), err)
	}
}

// SetSessions wires the authentication session manager into a Server built
// without one, resolving the construction-order cycle between Server (which
// needs a *authsession.Manager) and authsession.Manager (which needs a
// *Server as its AgentNotifier).
func (s *Server) SetSessions(sessions *authsession.Manager) {
	s.Sessions = sessions
}

// TrackRequest prevents the idle timeout from firing while a request is in
// flight and returns a function that releases that hold.
func (s *Server) TrackRequest() func() {
	s.idlerTimeout.addRequest()
	return func() {
		s.idlerTimeout.endRequest()
	}
}

// resolveSender resolves a D-Bus unique connection name to the subject it
// identifies, for the implicit caller identity of a mutating Authority call.
func (s *Server) resolveSender(sender dbus.Sender) (identity.Subject, error) {
	return identity.ResolveBusName(identity.NewBusCaller(s.conn), s.root, string(sender))
}
