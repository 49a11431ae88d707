// Command polkitd-grant-helper is the setgid-polkitd-state privileged
// helper (component G, spec §4.7 "grant helper"): it appends or removes an
// explicit authorization record on the caller's behalf, gated by the
// org.freedesktop.policykit.grant/revoke meta-authorizations when the
// caller targets a uid other than its own.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/authstore"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/helper"
	"github.com/polkit-go/polkitd/internal/helperenv"
	"github.com/polkit-go/polkitd/internal/i18n"
	"github.com/polkit-go/polkitd/internal/identity"
)

func main() {
	i18n.InitI18nDomain("polkitd")

	var (
		targetUIDStr string
		actionID     string
		scopeStr     string
		negative     bool
		revoke       bool
	)
	pflag.StringVar(&targetUIDStr, "uid", "", i18n.G("uid to grant or revoke the authorization for (default: caller)"))
	pflag.StringVar(&actionID, "action-id", "", i18n.G("action identifier"))
	pflag.StringVar(&scopeStr, "scope", "process-one-shot", i18n.G("one of process-one-shot, process, session, always"))
	pflag.BoolVar(&negative, "negative", false, i18n.G("grant a negative (deny) authorization"))
	pflag.BoolVar(&revoke, "revoke", false, i18n.G("revoke every currently relevant record for --action-id instead of granting"))
	pflag.Parse()

	if actionID == "" {
		fmt.Fprintln(os.Stderr, i18n.G("usage: polkitd-grant-helper --action-id <id> [--uid <uid>] [--scope <scope>] [--negative]"))
		os.Exit(2)
	}

	if err := helperenv.Apply(helperenv.SanitizeLocale()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	callerUID := uint32(os.Getuid())
	targetUID := callerUID
	if targetUIDStr != "" {
		u, err := strconv.ParseUint(targetUIDStr, 10, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf(i18n.G("invalid --uid %q: %w"), targetUIDStr, err))
			os.Exit(2)
		}
		targetUID = uint32(u)
	}

	scope, err := authstore.ParseScope(scopeStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err))
		os.Exit(1)
	}
	defer conn.Close()

	callerSubject, err := identity.NewUnixProcess("/", int32(os.Getppid()), int64(callerUID))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	store := authstore.New(config.DefaultRunStateDir, config.DefaultLibStateDir, identity.NewOSDatabase(), nil, nil)
	g := &helper.GrantHelper{Store: store, Checker: authclient.Checker{Client: authclient.New(conn)}}

	if revoke {
		err = revokeMatching(g, store, callerSubject, callerUID, targetUID, actionID)
	} else {
		err = g.Grant(callerSubject, callerUID, targetUID, actionID, scope, authstore.ConstraintNone, negative)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	touchReloadSentinel()
}

// revokeMatching drops every record for actionID belonging to targetUID
// that store.ForeachForUID reports as relevant, gated the same way
// GrantHelper.Revoke gates a single record. Stale records are skipped, and
// so are session records, since this helper's store has no session
// tracker and reports every session as absent.
func revokeMatching(g *helper.GrantHelper, store *authstore.Store, callerSubject identity.Subject, callerUID, targetUID uint32, actionID string) error {
	var matches []authstore.Record
	err := store.ForeachForUID(targetUID, func(r authstore.Record) bool {
		if r.ActionID == actionID {
			matches = append(matches, r)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, r := range matches {
		if err := g.Revoke(callerSubject, callerUID, targetUID, r); err != nil {
			return err
		}
	}
	return nil
}

// touchReloadSentinel wakes the daemon's reload watcher (spec §4.4) by
// updating the sentinel file's mtime; a failure here is non-fatal since the
// daemon's fsnotify watch also covers the action/rule directories directly.
func touchReloadSentinel() {
	f, err := os.OpenFile(config.ReloadSentinel, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	f.Close()
	now := time.Now()
	_ = os.Chtimes(config.ReloadSentinel, now, now)
}
