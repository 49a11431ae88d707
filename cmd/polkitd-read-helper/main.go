// Command polkitd-read-helper is the setgid-polkitd-state privileged
// helper (component G, spec §4.7 "read helper"): it dumps a uid's explicit
// authorizations, gated by org.freedesktop.policykit.read when the caller
// targets a uid other than its own.
package main

import (
	"fmt"
	"os"
	"strconv"

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

	var targetUIDStr string
	pflag.StringVar(&targetUIDStr, "uid", "", i18n.G("uid to dump explicit authorizations for (default: caller)"))
	pflag.Parse()

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
	r := &helper.ReadHelper{Store: store, Checker: authclient.Checker{Client: authclient.New(conn)}}

	dump, err := r.Dump(callerSubject, callerUID, targetUID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Print(dump)
}
