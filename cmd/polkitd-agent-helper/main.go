// Command polkitd-agent-helper is the setuid-root privileged helper
// (component G, spec §4.7 "authentication helper"): it drives a PAM
// conversation for the identity an authentication session named as an
// admin candidate (or the requesting user), relaying every prompt over
// pamproto to whatever invoked it (normally the textual reference agent,
// internal/textagent), and reports the outcome straight to the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/helper"
	"github.com/polkit-go/polkitd/internal/helperenv"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
)

// busResponder adapts authclient.Client to helper.AgentResponder, the real
// bus connection this helper reports an authentication outcome over.
// emptyConversation is not forwarded: the bus method has no argument for it.
type busResponder struct {
	client *authclient.Client
	db     identity.Database
}

func (r busResponder) AuthenticationAgentResponse(cookie string, authenticated identity.Identity, emptyConversation bool) error {
	rec, err := r.db.LookupUser(authenticated.Name())
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't resolve authenticated identity %q to a uid: %w"), authenticated.Name(), err)
	}
	return r.client.AuthenticationAgentResponse(cookie, authclient.IdentityForUID(rec.UID))
}

func main() {
	i18n.InitI18nDomain("polkitd")

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, i18n.G("usage: polkitd-agent-helper <cookie> <user-to-authenticate>"))
		os.Exit(2)
	}
	cookie, userToAuth := os.Args[1], os.Args[2]

	if err := helperenv.Apply(helperenv.SanitizeLocale()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err))
		os.Exit(1)
	}
	defer conn.Close()

	h := &helper.AuthenticationHelper{
		Conversation: helper.PAMConversation{},
		Responder:    busResponder{client: authclient.New(conn), db: identity.NewOSDatabase()},
	}
	if err := h.Run(cookie, userToAuth, os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
}
