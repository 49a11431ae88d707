// Package helperenv implements the environment-sanitization rules shared by
// every privileged helper (spec §4.7, §6): a setuid/setgid process must
// never inherit an unprivileged caller's environment wholesale, since
// variables like LD_PRELOAD or DBUS_SYSTEM_BUS_ADDRESS let the caller
// influence code a more privileged process is about to run.
package helperenv

import (
	"os"
	"strings"
)

// AllowedLocale is the set of variables it is safe to forward from the
// caller's environment into a freshly cleared one: the locale subset of
// pkexec's own "environment_variables_to_save" list in the reference
// implementation (SHELL, TERM and COLORTERM are not included).
var AllowedLocale = []string{
	"LANG",
	"LANGUAGE",
	"LINGUAS",
	"LC_ALL",
	"LC_COLLATE",
	"LC_CTYPE",
	"LC_MESSAGES",
	"LC_MONETARY",
	"LC_NUMERIC",
	"LC_TIME",
}

// MinimalPath is the PATH every helper sets after clearing the environment,
// deliberately excluding any directory the caller's PATH might have added.
const MinimalPath = "/usr/sbin:/usr/bin:/sbin:/bin"

// Sanitize captures the subset of the current process environment named by
// keep, then returns the environment a helper should run with: just that
// subset plus PATH pinned to MinimalPath. It does not itself call
// os.Clearenv — the caller decides when, since some helpers need to read a
// few more variables before the environment disappears.
func Sanitize(keep []string) []string {
	out := []string{"PATH=" + MinimalPath}
	for _, k := range keep {
		if v, ok := os.LookupEnv(k); ok && ValidValue(k, v) {
			out = append(out, k+"="+v)
		}
	}
	return out
}

// SanitizeLocale is Sanitize restricted to AllowedLocale, the common case
// for the authentication/grant/read helpers, which only ever need to format
// a translated message in the caller's locale.
func SanitizeLocale() []string {
	return Sanitize(AllowedLocale)
}

// ValidValue rejects a caller-supplied environment value that could smuggle
// a path traversal or substitution sequence into a privileged process
// (spec §4.7's "validate_environment_variable" rule): no path separator,
// no '%' (shell/format substitution marker), no ".." substring.
func ValidValue(key, value string) bool {
	if strings.Contains(value, "/") || strings.Contains(value, "%") || strings.Contains(value, "..") {
		return false
	}
	return true
}

// Apply clears the current process's entire environment and replaces it
// with env (as produced by Sanitize/SanitizeLocale). Callers running as a
// privileged helper should call this as early as possible, before doing
// anything else that might consult the ambient environment.
func Apply(env []string) error {
	os.Clearenv()
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
