// Package rules implements the local authorization rule store (spec §4.4):
// priority-ordered administrator overrides matching (identity-pattern ×
// action-pattern) pairs.
package rules

import (
	"github.com/gobwas/glob"
	"github.com/polkit-go/polkitd/internal/action"
)

// Rule is a single local authorization rule (spec §3 "Local authorization
// rule"). Patterns are precompiled at load time.
type Rule struct {
	ID string // "<file>::<group>"

	IdentityPatterns []string
	ActionPatterns   []string

	ResultAny      action.ImplicitAuthorization
	ResultInactive action.ImplicitAuthorization
	ResultActive   action.ImplicitAuthorization

	Details map[string]string

	identityGlobs []glob.Glob
	actionGlobs   []glob.Glob
}

// compile precompiles every pattern, dropping (and reporting) any that fail
// to parse rather than failing the whole rule.
func (r *Rule) compile() []error {
	var errs []error
	r.identityGlobs = r.identityGlobs[:0]
	for _, p := range r.IdentityPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.identityGlobs = append(r.identityGlobs, g)
	}
	r.actionGlobs = r.actionGlobs[:0]
	for _, p := range r.ActionPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.actionGlobs = append(r.actionGlobs, g)
	}
	return errs
}

// Matches reports whether this rule applies to (identityString, actionID):
// at least one action pattern matches actionID and at least one identity
// pattern matches identityString (spec §4.4).
func (r *Rule) Matches(identityString, actionID string) bool {
	actionMatch := false
	for _, g := range r.actionGlobs {
		if g.Match(actionID) {
			actionMatch = true
			break
		}
	}
	if !actionMatch {
		return false
	}
	for _, g := range r.identityGlobs {
		if g.Match(identityString) {
			return true
		}
	}
	return false
}

// Override applies the rule's result-* slots on top of a prior implicit
// authorization: unspecified slots (empty string) leave the prior value
// untouched (spec §4.4).
func (r *Rule) Override(any, inactive, active action.ImplicitAuthorization) (action.ImplicitAuthorization, action.ImplicitAuthorization, action.ImplicitAuthorization) {
	if r.ResultAny != "" {
		any = r.ResultAny
	}
	if r.ResultInactive != "" {
		inactive = r.ResultInactive
	}
	if r.ResultActive != "" {
		active = r.ResultActive
	}
	return any, inactive, active
}
