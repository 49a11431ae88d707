// Package action loads declarative action descriptors and their default
// outcomes (spec §3, §4.2).
package action

// ImplicitAuthorization is the fixed-value-set outcome enumeration of spec §3.
type ImplicitAuthorization string

const (
	// NotAuthorized means the subject is never implicitly authorized.
	NotAuthorized ImplicitAuthorization = "not-authorized"
	// AuthenticationRequired means a successful authentication grants the
	// action for a single later check by the requesting process only (a
	// process-one-shot grant).
	AuthenticationRequired ImplicitAuthorization = "authentication-required"
	// AdministratorAuthenticationRequired is as AuthenticationRequired but
	// the credentials collected must belong to an administrator identity.
	AdministratorAuthenticationRequired ImplicitAuthorization = "administrator-authentication-required"
	// AuthenticationRequiredRetained means a successful authentication may
	// be retained for the requesting session.
	AuthenticationRequiredRetained ImplicitAuthorization = "authentication-required-retained"
	// AdministratorAuthenticationRequiredRetained combines the two above,
	// except that the grant is retained permanently (always scope) rather
	// than for the requesting session.
	AdministratorAuthenticationRequiredRetained ImplicitAuthorization = "administrator-authentication-required-retained"
	// Authorized means the subject is always implicitly authorized.
	Authorized ImplicitAuthorization = "authorized"
)

// RequiresAdmin reports whether satisfying this outcome requires
// administrator credentials rather than the requesting subject's own.
func (a ImplicitAuthorization) RequiresAdmin() bool {
	return a == AdministratorAuthenticationRequired || a == AdministratorAuthenticationRequiredRetained
}

// RequiresAuthentication reports whether this outcome is one of the
// authentication-required variants (as opposed to a terminal not-authorized
// or authorized outcome).
func (a ImplicitAuthorization) RequiresAuthentication() bool {
	switch a {
	case AuthenticationRequired, AdministratorAuthenticationRequired,
		AuthenticationRequiredRetained, AdministratorAuthenticationRequiredRetained:
		return true
	}
	return false
}

// Retained reports whether a successful authentication against this outcome
// may be retained beyond the single check that triggered it.
func (a ImplicitAuthorization) Retained() bool {
	return a == AuthenticationRequiredRetained || a == AdministratorAuthenticationRequiredRetained
}

// Descriptor is an action descriptor (spec §3). Descriptors loaded by a
// Registry are immutable; a reload replaces the Registry's cache wholesale
// rather than mutating existing Descriptor values (spec §4.2).
type Descriptor struct {
	ID          string            `yaml:"id"`
	Description string            `yaml:"description"`
	Message     string            `yaml:"message"`
	Vendor      string            `yaml:"vendor,omitempty"`
	VendorURL   string            `yaml:"vendorUrl,omitempty"`
	Icon        string            `yaml:"icon,omitempty"`
	Any         ImplicitAuthorization `yaml:"implicitAny"`
	Inactive    ImplicitAuthorization `yaml:"implicitInactive"`
	Active      ImplicitAuthorization `yaml:"implicitActive"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// file is the on-disk shape of one action descriptor file: a flat list of
// descriptors (spec §6: "may use any structured serialization provided it
// round-trips losslessly").
type file struct {
	Actions []Descriptor `yaml:"actions"`
}

// SessionState is the subset of session-tracker-derived information the
// registry needs to pick among a descriptor's Any/Inactive/Active slots.
type SessionState struct {
	Exists   bool
	IsLocal  bool
	IsActive bool
}

// DefaultFor selects the descriptor's implicit authorization for a subject in
// the given session state: Active wins if the session exists and is local
// and active, Inactive if it exists and is local but not active, Any
// otherwise (including any remote session).
func (d Descriptor) DefaultFor(s SessionState) ImplicitAuthorization {
	switch {
	case s.Exists && s.IsLocal && s.IsActive && d.Active != "":
		return d.Active
	case s.Exists && s.IsLocal && !s.IsActive && d.Inactive != "":
		return d.Inactive
	case d.Any != "":
		return d.Any
	default:
		return NotAuthorized
	}
}
