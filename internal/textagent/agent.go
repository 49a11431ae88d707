// Package textagent implements the textual reference authentication agent
// (spec §4.6's carve-out: "this repository provides the textual reference
// agent"). It registers for a session, and on BeginAuthentication drives
// the privileged authentication helper over pamproto, translating each PAM
// conversation line into a terminal prompt.
package textagent

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/godbus/dbus/v5"
	"golang.org/x/term"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/pamproto"
)

// ObjectPath is the path this agent exports BeginAuthentication on.
const ObjectPath = dbus.ObjectPath("/org/polkit_go/AuthenticationAgent")

const agentInterface = "org.freedesktop.PolicyKit1.AuthenticationAgent"

// Agent is the textual reference agent. HelperPath is the
// polkitd-agent-helper binary it execs per authentication attempt.
type Agent struct {
	Conn       *dbus.Conn
	HelperPath string
}

// Register exports this agent and registers it as responsible for
// subject's session.
func (a *Agent) Register(subject authclient.Subject, locale string) error {
	if err := a.Conn.Export(a, ObjectPath, agentInterface); err != nil {
		return fmt.Errorf(i18n.G("couldn't export authentication agent: %w"), err)
	}
	return authclient.New(a.Conn).RegisterAuthenticationAgent(subject, locale, ObjectPath)
}

// Unregister stops exporting the object and removes the registration.
func (a *Agent) Unregister(subject authclient.Subject) error {
	_ = a.Conn.Export(nil, ObjectPath, agentInterface)
	return authclient.New(a.Conn).UnregisterAuthenticationAgent(subject, ObjectPath)
}

// BeginAuthentication is the method the daemon calls (via
// internal/daemon/agent.go's NotifyNewSession) to start an interactive
// authentication attempt.
func (a *Agent) BeginAuthentication(actionID, locale string, details map[string]string, subject authclient.Subject, cookie string, candidates []string) *dbus.Error {
	if len(candidates) == 0 {
		return busErr(i18n.G("no eligible identity to authenticate as"))
	}
	user := strings.TrimPrefix(candidates[0], "unix-user:")

	fmt.Fprintf(os.Stderr, i18n.G("==== AUTHENTICATING FOR %s ====\n"), actionID)
	fmt.Fprintf(os.Stderr, i18n.G("Authentication is needed to perform the requested action.\n"))
	fmt.Fprintf(os.Stderr, i18n.G("Authenticating as: %s\n"), user)

	cmd := exec.Command(a.HelperPath, cookie, user)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return busErr(err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return busErr(err.Error())
	}
	if err := cmd.Start(); err != nil {
		return busErr(err.Error())
	}

	convErr := converse(stdout, stdin)
	waitErr := cmd.Wait()
	if convErr != nil {
		return busErr(convErr.Error())
	}
	if waitErr != nil {
		return busErr(waitErr.Error())
	}
	fmt.Fprintln(os.Stderr, i18n.G("==== AUTHENTICATION COMPLETE ===="))
	return nil
}

// converse drives one pamproto conversation to completion, printing every
// non-terminal message on the controlling terminal and writing the
// operator's answer back for prompts.
func converse(r io.Reader, w io.WriteCloser) error {
	defer w.Close()
	reader := bufio.NewReader(r)
	stdin := bufio.NewReader(os.Stdin)
	for {
		msg, err := pamproto.ReadMessage(reader)
		if err != nil {
			return err
		}
		switch {
		case msg.Kind == pamproto.Success:
			return nil
		case msg.Kind == pamproto.Failure:
			return fmt.Errorf(i18n.G("authentication failed"))
		case msg.Kind.IsPrompt():
			answer, err := readAnswer(stdin, msg)
			if err != nil {
				return err
			}
			if err := pamproto.WriteResponse(w, answer); err != nil {
				return err
			}
		default:
			fmt.Fprintln(os.Stderr, msg.Text)
		}
	}
}

// readAnswer prints msg's text as a prompt and reads one line back from
// the conversation's single shared stdin reader, suppressing terminal echo
// for a password prompt when stdin is a tty.
func readAnswer(stdin *bufio.Reader, msg pamproto.Message) (string, error) {
	fmt.Fprint(os.Stderr, msg.Text)
	if msg.Kind == pamproto.PromptEchoOff && term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := stdin.ReadString('\n')
	return strings.TrimRight(line, "\n"), err
}

func busErr(msg string) *dbus.Error {
	return &dbus.Error{Name: "org.freedesktop.PolicyKit1.Error.Failed", Body: []interface{}{msg}}
}
