// Command polkit-auth is the unprivileged front-end for managing explicit
// authorizations (spec §4.3, §6): it shells out to the setgid grant/read
// helpers (component G) rather than touching the authorization store
// directly, so the privilege boundary stays confined to the smallest
// possible binaries.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
)

var (
	cmdErr error

	flagUID      string
	flagActionID string
	flagScope    string
	flagNegative bool

	rootCmd = &cobra.Command{
		Use:   "polkit-auth",
		Short: i18n.G("Manage explicit authorizations"),
		Args:  cobra.NoArgs,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: i18n.G("List explicit authorizations for a uid"),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmdErr = runHelper(config.DefaultReadHelperPath, uidArgs()...)
		},
	}

	grantCmd = &cobra.Command{
		Use:   "grant",
		Short: i18n.G("Grant an explicit authorization"),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			helperArgs := append(uidArgs(), "--action-id", flagActionID, "--scope", flagScope)
			if flagNegative {
				helperArgs = append(helperArgs, "--negative")
			}
			cmdErr = runHelper(config.DefaultGrantHelperPath, helperArgs...)
		},
	}

	revokeCmd = &cobra.Command{
		Use:   "revoke",
		Short: i18n.G("Revoke every explicit authorization for an action"),
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			helperArgs := append(uidArgs(), "--action-id", flagActionID, "--revoke")
			cmdErr = runHelper(config.DefaultGrantHelperPath, helperArgs...)
		},
	}
)

func uidArgs() []string {
	if flagUID == "" {
		return nil
	}
	return []string{"--uid", flagUID}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUID, "uid", "", i18n.G("uid to act on (default: caller)"))
	for _, c := range []*cobra.Command{grantCmd, revokeCmd} {
		c.Flags().StringVar(&flagActionID, "action-id", "", i18n.G("action identifier"))
		_ = c.MarkFlagRequired("action-id")
	}
	grantCmd.Flags().StringVar(&flagScope, "scope", "process-one-shot", i18n.G("one of process-one-shot, process, session, always"))
	grantCmd.Flags().BoolVar(&flagNegative, "negative", false, i18n.G("grant a negative (deny) authorization"))

	rootCmd.AddCommand(listCmd, grantCmd, revokeCmd)
}

func runHelper(path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf(i18n.G("%s: %w"), path, err)
	}
	return nil
}

func main() {
	i18n.InitI18nDomain(config.TEXTDOMAIN)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, cmdErr)
		os.Exit(1)
	}
}
