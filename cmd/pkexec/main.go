// Command pkexec executes a program once the calling identity is authorized
// to run it as another user (by default root) (spec §4.5, §6). The target
// user is passed to the authorization check as the "user" detail only: the
// program is executed with the caller's own uid and gid, and no user switch
// is made. It drives the
// interactive challenge flow itself by registering as a temporary text
// authentication agent (internal/textagent) for the duration of the call,
// the same fallback-agent role a desktop session's pkttyagent normally
// plays when nothing else has claimed it.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/helperenv"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/textagent"
)

const execPathAnnotation = "org.freedesktop.policykit.exec.path"

func main() {
	i18n.InitI18nDomain(config.TEXTDOMAIN)

	var flagUser string
	pflag.StringVarP(&flagUser, "user", "u", "root", i18n.G("user to ask authorization to run PROGRAM as (PROGRAM still runs as the caller)"))
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, i18n.G("usage: pkexec [--user USER] PROGRAM [ARGS...]"))
		os.Exit(2)
	}

	program, err := exec.LookPath(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(127)
	}
	program, err = filepath.Abs(program)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(127)
	}

	if err := run(program, flagUser, args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(program, runAsUser string, programArgs []string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err)
	}
	defer conn.Close()

	client := authclient.New(conn)
	subject, err := authclient.SubjectForSelf()
	if err != nil {
		return err
	}

	actionID, err := resolveActionID(client, program)
	if err != nil {
		return err
	}
	details := map[string]string{"program": program, "user": runAsUser}

	result, err := client.CheckAuthorization(subject, actionID, details, authclient.AllowInteraction)
	if err != nil {
		return fmt.Errorf(i18n.G("authorization check failed: %w"), authclient.ErrorMessage(err))
	}

	if result.IsChallenge {
		agent := &textagent.Agent{Conn: conn, HelperPath: config.DefaultAgentHelperPath}
		if err := agent.Register(subject, locale()); err != nil {
			return fmt.Errorf(i18n.G("couldn't register interactive authentication: %w"), err)
		}
		result, err = client.CheckAuthorization(subject, actionID, details, authclient.AllowInteraction)
		_ = agent.Unregister(subject)
		if err != nil {
			return fmt.Errorf(i18n.G("authorization check failed: %w"), authclient.ErrorMessage(err))
		}
	}

	if !result.IsAuthorized {
		return fmt.Errorf(i18n.G("not authorized to execute %s as %s"), program, runAsUser)
	}

	env := helperenv.SanitizeLocale()
	if err := helperenv.Apply(env); err != nil {
		return err
	}
	argv := append([]string{program}, programArgs...)
	return syscall.Exec(program, argv, os.Environ())
}

// resolveActionID finds the action the administrator registered for program
// (via the org.freedesktop.policykit.exec.path annotation, the real pkexec's
// own convention for tying a specific binary to its own action), falling
// back to the generic exec action when no action claims it.
func resolveActionID(client *authclient.Client, program string) (string, error) {
	actions, err := client.EnumerateActions(locale())
	if err != nil {
		return "", fmt.Errorf(i18n.G("couldn't enumerate actions: %w"), authclient.ErrorMessage(err))
	}
	for _, a := range actions {
		if a.Annotations[execPathAnnotation] == program {
			return a.ActionID, nil
		}
	}
	return config.ActionExec, nil
}

func locale() string {
	if l := os.Getenv("LANG"); l != "" {
		return l
	}
	return "C"
}
