package config

import "time"

const (
	// TEXTDOMAIN is the gettext domain used to look up translations.
	TEXTDOMAIN = "polkitd"

	// BusName is the well-known D-Bus name the daemon requests on the system bus.
	BusName = "org.freedesktop.PolicyKit1"
	// BusObjectPath is the object path the Authority interface is exported on.
	BusObjectPath = "/org/freedesktop/PolicyKit1/Authority"
	// AuthorityInterface is the D-Bus interface name implemented by the daemon facade.
	AuthorityInterface = "org.freedesktop.PolicyKit1.Authority"

	// DefaultActionDir is where action descriptor files are loaded from.
	DefaultActionDir = "/usr/share/polkit-1/actions"
	// DefaultRuleDir is where local authorization rule files are loaded from.
	DefaultRuleDir = "/etc/polkit-1/rules.d"

	// DefaultRunStateDir holds transient (process/session scoped) explicit authorizations.
	// Cleared across reboots by virtue of living on a volatile filesystem.
	DefaultRunStateDir = "/run/polkit-1/localauthority"
	// DefaultLibStateDir holds permanent ("always") explicit authorizations.
	DefaultLibStateDir = "/var/lib/polkit-1/localauthority"
	// ReloadSentinel is touched by the grant helper after every write to wake the daemon's watcher.
	ReloadSentinel = "/run/polkit-1/localauthority.reload"
	// DefaultDebugSocket is the local socket DumpState is served on, either
	// created directly or handed to the daemon by systemd socket activation.
	DefaultDebugSocket = "/run/polkit-1/polkitd-debug.sock"

	// Installed paths of the privileged helper binaries (component G),
	// invoked by the user-facing CLIs rather than linked into them, so the
	// setuid/setgid bit lives on the smallest possible piece of code.
	DefaultGrantHelperPath = "/usr/lib/polkit-1/polkitd-grant-helper"
	DefaultReadHelperPath  = "/usr/lib/polkit-1/polkitd-read-helper"
	DefaultAgentHelperPath = "/usr/lib/polkit-1/polkitd-agent-helper"

	// DefaultServerIdleTimeout is how long the on-demand daemon waits for traffic before exiting.
	DefaultServerIdleTimeout = 30 * time.Second
	// HelperTimeout is a 5-second bound for store-write and PAM helper
	// subprocesses. Nothing in this module references it: helper
	// subprocesses are run without a time limit.
	HelperTimeout = 5 * time.Second

	// RecordFilePrefix names a per-user explicit authorization file: "user-<name>.auths".
	RecordFilePrefix = "user-"
	// RecordFileSuffix is the extension of a per-user explicit authorization file.
	RecordFileSuffix = ".auths"

	// ActionFileSuffix names a valid action descriptor file.
	ActionFileSuffix = ".policy.yaml"
	// RuleFileSuffix names a valid local authorization rule file.
	RuleFileSuffix = ".rules.yaml"
)

// Meta-authorizations the decision engine itself never special-cases, but
// that callers outside the engine (the daemon facade's mutating RPCs) use to
// gate access to other subjects' data.
const (
	// ActionRead gates enumerating another uid's explicit authorizations.
	ActionRead = "org.freedesktop.policykit.read"
	// ActionGrant gates granting an explicit authorization to another uid.
	ActionGrant = "org.freedesktop.policykit.grant"
	// ActionRevoke gates revoking another uid's explicit authorization.
	ActionRevoke = "org.freedesktop.policykit.revoke"
	// ActionExec gates the default pkexec action when none is annotated on the target program.
	ActionExec = "org.freedesktop.policykit.exec"
)
