// Command polkit-agent-text is the textual reference authentication agent
// (spec §4.6 Non-goals: "this repository provides the textual reference
// agent"). Unlike pkexec's ephemeral self-registration, this binary is meant
// to be started once per login session and stay resident, registering for
// the session's own subject and answering every BeginAuthentication call
// that arrives for the rest of the session's lifetime.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/textagent"
)

func main() {
	i18n.InitI18nDomain(config.TEXTDOMAIN)

	var flagHelperPath string
	pflag.StringVar(&flagHelperPath, "helper", config.DefaultAgentHelperPath, i18n.G("path to the setuid authentication helper"))
	pflag.Parse()

	if err := run(flagHelperPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(helperPath string) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err)
	}
	defer conn.Close()

	subject, err := authclient.SubjectForSelf()
	if err != nil {
		return err
	}

	agent := &textagent.Agent{Conn: conn, HelperPath: helperPath}
	locale := os.Getenv("LANG")
	if locale == "" {
		locale = "C"
	}
	if err := agent.Register(subject, locale); err != nil {
		return fmt.Errorf(i18n.G("couldn't register authentication agent: %w"), err)
	}
	defer agent.Unregister(subject)

	fmt.Fprintln(os.Stderr, i18n.G("polkit-agent-text registered, waiting for authentication requests"))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	return nil
}
