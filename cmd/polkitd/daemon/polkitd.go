// Package daemon implements the polkitd cobra command: it wires components
// A-H together and serves the Authority interface on the system bus.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polkit-go/polkitd/internal/action"
	"github.com/polkit-go/polkitd/internal/authsession"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/daemon"
	"github.com/polkit-go/polkitd/internal/decision"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
	"github.com/polkit-go/polkitd/internal/log"
	"github.com/polkit-go/polkitd/internal/rules"
	"github.com/polkit-go/polkitd/internal/sessiontracker"
)

var (
	cmdErr error

	flagVerbosity   int
	flagActionDir   string
	flagRuleDir     string
	flagRunDir      string
	flagLibDir      string
	flagDebugSocket string
	flagAdminUsers  []string
	flagAdminGroups []string

	rootCmd = &cobra.Command{
		Use:   "polkitd",
		Short: i18n.G("Authorization policy daemon"),
		Long: i18n.G(`polkitd implements org.freedesktop.PolicyKit1.Authority on the system
bus: it decides whether a subject is authorized to carry out an action, by
combining the action registry, local authorization rules, the explicit
authorization store and the subject's session state, and by driving
authentication sessions through whichever agent is registered for the
caller's session.`),
		Args: cobra.ExactArgs(0),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.SetVerboseMode(flagVerbosity > 0)
			switch {
			case flagVerbosity > 1:
				log.SetLevel(logrus.DebugLevel)
			case flagVerbosity == 1:
				log.SetLevel(logrus.InfoLevel)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmdErr = run(cmd.Context())
		},
		// We display usage errors ourselves.
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", i18n.G("issue INFO (-v) and DEBUG (-vv) output"))
	rootCmd.Flags().StringVar(&flagActionDir, "action-dir", config.DefaultActionDir, i18n.G("directory action descriptor files are loaded from"))
	rootCmd.Flags().StringVar(&flagRuleDir, "rule-dir", config.DefaultRuleDir, i18n.G("directory local authorization rule files are loaded from"))
	rootCmd.Flags().StringVar(&flagRunDir, "run-dir", config.DefaultRunStateDir, i18n.G("directory transient explicit authorizations are stored in"))
	rootCmd.Flags().StringVar(&flagLibDir, "lib-dir", config.DefaultLibStateDir, i18n.G("directory permanent explicit authorizations are stored in"))
	rootCmd.Flags().StringVar(&flagDebugSocket, "debug-socket", config.DefaultDebugSocket, i18n.G("local socket a state dump is served on"))
	rootCmd.Flags().StringSliceVar(&flagAdminUsers, "admin-user", nil, i18n.G("identity eligible to satisfy an administrator-authentication challenge, by name or uid"))
	rootCmd.Flags().StringSliceVar(&flagAdminGroups, "admin-group", []string{"sudo"}, i18n.G("group whose members are eligible to satisfy an administrator-authentication challenge"))
}

// Cmd returns the polkitd command and its flags.
func Cmd() *cobra.Command {
	return rootCmd
}

// Error returns the polkitd run error.
func Error() error {
	return cmdErr
}

func run(ctx context.Context) error {
	registry, actionErrs := action.Load(flagActionDir)
	action.LogLoadErrors(actionErrs)
	rulesStore, ruleErrs := rules.Load(flagRuleDir)
	rules.LogLoadErrors(ruleErrs)

	db := identity.NewOSDatabase()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err)
	}

	tracker := sessiontracker.New(sessiontracker.NewCaller(conn))
	store := authstore.New(flagRunDir, flagLibDir, db, nil, tracker.Exists)

	engine := &decision.Engine{
		Store:   store,
		DB:      db,
		Tracker: tracker,
	}

	// Server is built before the session manager since NewManager needs it
	// as the AgentNotifier; SetSessions closes the loop once both exist.
	srv, err := daemon.New(conn, engine, nil, store, tracker)
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't start Authority server: %w"), err)
	}

	admin := authsession.AdminConfig{Users: flagAdminUsers, Groups: flagAdminGroups}
	sessions := authsession.NewManager(store, srv, tracker, tracker, admin, db)
	srv.SetSessions(sessions)
	engine.Sessions = sessions
	engine.Registry = registry
	engine.Rules = rulesStore

	debugSock, err := daemon.ListenDebugSocket(flagDebugSocket)
	if err != nil {
		log.Warningf(ctx, i18n.G("debug socket unavailable: %v"), err)
	} else {
		go debugSock.Serve(srv)
		defer debugSock.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := srv.WatchAndReload(runCtx, flagActionDir, flagRuleDir); err != nil {
			log.Warningf(ctx, i18n.G("reload watcher stopped: %v"), err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		srv.Stop()
		cancel()
	}()

	return srv.Listen(runCtx)
}
