// Command pkcheck asks the running polkitd whether a process may carry out
// an action, mirroring the reference pkcheck(1) CLI surface (spec §6).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/polkit-go/polkitd/internal/authclient"
	"github.com/polkit-go/polkitd/internal/i18n"
)

var (
	flagActionID           string
	flagProcess            string
	flagAllowUserInteraction bool
	flagDetails            []string
)

func main() {
	i18n.InitI18nDomain("polkitd")

	pflag.StringVar(&flagActionID, "action-id", "", i18n.G("action identifier to check"))
	pflag.StringVar(&flagProcess, "process", "", i18n.G("pid[,uid] of the process to check on behalf of"))
	pflag.BoolVar(&flagAllowUserInteraction, "allow-user-interaction", false, i18n.G("allow starting an authentication session if needed"))
	pflag.StringArrayVar(&flagDetails, "detail", nil, i18n.G("key=value detail to attach to the check, repeatable"))
	pflag.Parse()

	if flagActionID == "" || flagProcess == "" {
		fmt.Fprintln(os.Stderr, i18n.G("usage: pkcheck --action-id <action> --process <pid>[,<uid>] [--allow-user-interaction]"))
		os.Exit(2)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	pid, uid, err := parseProcess(flagProcess)
	if err != nil {
		return err
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't connect to the system bus: %w"), err)
	}
	defer conn.Close()

	subject, err := authclient.SubjectForPID(pid, uid)
	if err != nil {
		return fmt.Errorf(i18n.G("couldn't resolve subject for pid %d: %w"), pid, err)
	}

	details := make(map[string]string, len(flagDetails))
	for _, kv := range flagDetails {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				details[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	client := authclient.New(conn)
	var flags uint32
	if flagAllowUserInteraction {
		flags = authclient.AllowInteraction
	}
	result, err := client.CheckAuthorization(subject, flagActionID, details, flags)
	if err != nil {
		return fmt.Errorf(i18n.G("%s"), authclient.ErrorMessage(err))
	}

	switch {
	case result.IsAuthorized:
		fmt.Println(i18n.G("authorized"))
		return nil
	case result.IsChallenge:
		fmt.Println(i18n.G("not authorized: an authentication session is required"))
		os.Exit(1)
	default:
		fmt.Println(i18n.G("not authorized"))
		os.Exit(1)
	}
	return nil
}

// parseProcess parses pid[,uid] the way the reference pkcheck accepts a
// comma-separated --process argument (its full form also carries the
// process start time, which authclient.SubjectForPID re-derives from /proc
// itself rather than trusting a caller-supplied value).
func parseProcess(s string) (pid int32, uid uint32, err error) {
	var pidStr, uidStr string
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			pidStr, uidStr = s[:i], s[i+1:]
			break
		}
	}
	if pidStr == "" {
		pidStr = s
	}

	p, err := strconv.ParseInt(pidStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf(i18n.G("invalid pid %q: %w"), pidStr, err)
	}
	if uidStr != "" {
		u, err := strconv.ParseUint(uidStr, 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf(i18n.G("invalid uid %q: %w"), uidStr, err)
		}
		uid = uint32(u)
	} else {
		uid = uint32(os.Getuid())
	}
	return int32(p), uid, nil
}
