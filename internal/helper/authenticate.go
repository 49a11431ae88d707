// Package helper implements the core logic of the three privileged
// setuid/setgid helpers (component G, spec §4.7): the authentication
// helper that drives a PAM conversation and reports its outcome to the
// daemon, the grant helper that performs a meta-authorized explicit-store
// write, and the read helper that dumps another uid's explicit
// authorizations. Each type here is the part of a helper binary that can
// be unit tested without actually being setuid root; the cmd/ binaries
// wire these to a real PAM stack, a real os.Environ, and a real bus
// connection.
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/pamproto"
	"github.com/polkit-go/polkitd/internal/polkiterr"
)

// PAMService names the PAM service the authentication helper authenticates
// against, matching the reference helper's "polkit-1" service name.
const PAMService = "polkit-1"

// PromptFunc sends a PAM conversation message to the agent and, for a
// prompt kind, returns the line it answered with.
type PromptFunc func(msg pamproto.Message) (response string, err error)

// Conversation is the seam over the platform PAM bindings. PAMConversation
// (pamconv.go) is the production implementation, over msteinert/pam;
// Authenticate here is exercised in tests against a fake instead.
type Conversation interface {
	// Authenticate runs pam_start/pam_authenticate/pam_acct_mgmt for
	// userToAuth against service, routing every conversation message
	// through prompt, and returns the name PAM actually authenticated.
	Authenticate(service, userToAuth string, prompt PromptFunc) (authenticatedUser string, err error)
}

// AgentResponder is the bus-facing call the authentication helper makes on
// a successful PAM conversation (spec §4.7's
// "authentication_agent_response"); implemented over a real bus connection
// by the cmd/ binary, and in terms of internal/authsession.Manager directly
// by anything running in-process with the daemon.
type AgentResponder interface {
	AuthenticationAgentResponse(cookie string, authenticated identity.Identity, emptyConversation bool) error
}

// AuthenticationHelper drives one authentication session end to end: read
// the cookie and target user, run the PAM conversation over pamproto on
// in/out, and report the outcome.
type AuthenticationHelper struct {
	Conversation Conversation
	Responder    AgentResponder
}

// Run executes one authentication attempt. cookie identifies the session
// (spec §4.6) the eventual success/failure is reported against; userToAuth
// is the identity PAM is asked to authenticate (normally one of the
// session's admin candidates, or the requesting user itself). in/out are
// the helper's stdin/stdout, framed with pamproto.
func (h *AuthenticationHelper) Run(cookie, userToAuth string, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	sawPrompt := false

	prompt := func(msg pamproto.Message) (string, error) {
		if msg.Kind.IsPrompt() {
			sawPrompt = true
		}
		if err := pamproto.WriteMessage(out, msg); err != nil {
			return "", err
		}
		if !msg.Kind.IsPrompt() {
			return "", nil
		}
		return pamproto.ReadResponse(reader)
	}

	authedUser, authErr := h.Conversation.Authenticate(PAMService, userToAuth, prompt)
	if authErr != nil {
		log.Warningf(context.Background(), i18n.G("authentication helper: PAM conversation failed: %v"), authErr)
		_ = pamproto.WriteMessage(out, pamproto.Message{Kind: pamproto.Failure})
		return authErr
	}
	if authedUser != userToAuth {
		err := polkiterr.New(polkiterr.KindInvalidRequest,
			fmt.Sprintf(i18n.G("tried to authenticate %q but PAM authenticated %q instead"), userToAuth, authedUser))
		_ = pamproto.WriteMessage(out, pamproto.Message{Kind: pamproto.Failure})
		return err
	}

	emptyConversation := !sawPrompt
	if err := h.Responder.AuthenticationAgentResponse(cookie, identity.NewUnixUser(authedUser), emptyConversation); err != nil {
		_ = pamproto.WriteMessage(out, pamproto.Message{Kind: pamproto.Failure})
		return err
	}

	return pamproto.WriteMessage(out, pamproto.Message{Kind: pamproto.Success})
}
